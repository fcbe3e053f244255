package meta

import (
	"encoding/json"
	"testing"
)

func TestNewGetClone(t *testing.T) {
	m := New(map[string]string{"till": "3", "shift": "evening"})
	if v, ok := m.Get("till"); !ok || v != "3" {
		t.Fatalf("get failed")
	}
	cloned := m.Clone()
	cloned["till"] = "4"
	if v, _ := m.Get("till"); v != "3" {
		t.Fatalf("clone aliases original: %+v", m)
	}
	if New(nil) == nil {
		t.Fatalf("New(nil) should not be nil")
	}
}

func TestValidationLimits(t *testing.T) {
	// too many pairs
	pairs := make(map[string]string)
	for i := 0; i < MaxPairs+1; i++ {
		pairs[string('a'+byte(i%26))+"k"+string('a'+byte(i/26))] = "v"
	}
	m := New(pairs)
	if err := m.Validate(); err == nil {
		t.Fatalf("expected too many pairs")
	}
	// key too long
	longKey := make([]byte, MaxKeyLen+1)
	for i := range longKey {
		longKey[i] = 'k'
	}
	m = New(map[string]string{string(longKey): "v"})
	if err := m.Validate(); err == nil {
		t.Fatalf("expected key too long")
	}
	// value too long
	longVal := make([]byte, MaxValLen+1)
	for i := range longVal {
		longVal[i] = 'v'
	}
	m = New(map[string]string{"k": string(longVal)})
	if err := m.Validate(); err == nil {
		t.Fatalf("expected value too long")
	}
	// empty key
	m = New(map[string]string{"": "v"})
	if err := m.Validate(); err == nil {
		t.Fatalf("expected empty key rejected")
	}
}

func TestStableJSONAndRoundtrip(t *testing.T) {
	m := New(map[string]string{"b": "2", "a": "1"})
	b1, _ := m.MarshalStableJSON()
	if string(b1) != `{"a":"1","b":"2"}` {
		t.Fatalf("unexpected stable json: %s", string(b1))
	}
	var unmarshaled Metadata
	if err := json.Unmarshal(b1, &unmarshaled); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := unmarshaled.Validate(); err != nil {
		t.Fatalf("validate roundtrip: %v", err)
	}
	empty := New(nil)
	be, _ := json.Marshal(empty)
	if string(be) != "{}" {
		t.Fatalf("empty metadata should encode as {}: %s", string(be))
	}
}
