package slug

import "testing"

func TestIsSlug(t *testing.T) {
	for _, good := range []string{"cash", "bank_main", "bca_ops_2"} {
		if !IsSlug(good) {
			t.Fatalf("expected valid: %q", good)
		}
	}
	for _, bad := range []string{"", "x", "Cash", "bank-main", "has space", "päck"} {
		if IsSlug(bad) {
			t.Fatalf("expected invalid: %q", bad)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Cash Drawer":       "cash_drawer",
		"BCA -- Operations": "bca_operations",
		"  _tidy_  ":        "tidy",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
