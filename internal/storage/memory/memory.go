package memory

// Package memory provides an in-memory implementation used for development and
// tests. It mirrors the contracts of the postgres store, including the
// per-channel lock scope with a bounded wait.
import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/averlon/posledger/internal/errs"
	"github.com/averlon/posledger/internal/ledger"
	"github.com/averlon/posledger/internal/service/posting"
)

// entryKey orders a channel's entries asc by (OccurredAt, Seq).
type entryKey struct {
	At  time.Time
	Seq int64
	ID  uuid.UUID
}

// Store is an in-memory implementation of the repository and writer interfaces
// used by the services and the API. Reads are guarded by an RWMutex; posts to
// a channel additionally serialize on that channel's semaphore.
type Store struct {
	mu         sync.RWMutex
	channels   map[uuid.UUID]ledger.Channel
	entries    map[uuid.UUID]*ledger.Entry
	byChannel  map[uuid.UUID][]entryKey
	latest     map[uuid.UUID]uuid.UUID
	byDocument map[uuid.UUID][]uuid.UUID
	// Idempotency: channelID -> key -> entryID
	idem map[uuid.UUID]map[string]uuid.UUID

	openings map[string]map[uuid.UUID]ledger.OpeningBalance
	closings map[string]map[uuid.UUID]ledger.ClosingBalance
	confirms map[string]map[uuid.UUID]ledger.DailyConfirmation

	seq int64

	lockMu   sync.Mutex
	locks    map[uuid.UUID]chan struct{}
	lockWait time.Duration
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		channels:   make(map[uuid.UUID]ledger.Channel),
		entries:    make(map[uuid.UUID]*ledger.Entry),
		byChannel:  make(map[uuid.UUID][]entryKey),
		latest:     make(map[uuid.UUID]uuid.UUID),
		byDocument: make(map[uuid.UUID][]uuid.UUID),
		idem:       make(map[uuid.UUID]map[string]uuid.UUID),
		openings:   make(map[string]map[uuid.UUID]ledger.OpeningBalance),
		closings:   make(map[string]map[uuid.UUID]ledger.ClosingBalance),
		confirms:   make(map[string]map[uuid.UUID]ledger.DailyConfirmation),
		locks:      make(map[uuid.UUID]chan struct{}),
		lockWait:   800 * time.Millisecond,
	}
}

// SetLockWait overrides the bounded wait on the per-channel lock (tests).
func (s *Store) SetLockWait(d time.Duration) { s.lockWait = d }

// SeedChannel registers a channel for local dev/tests.
func (s *Store) SeedChannel(c ledger.Channel) { s.mu.Lock(); s.channels[c.ID] = c; s.mu.Unlock() }

// --- Channel reads/writes ---

func (s *Store) ChannelByID(_ context.Context, id uuid.UUID) (ledger.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return ledger.Channel{}, errs.ErrNotFound
	}
	return c, nil
}

func (s *Store) Channels(_ context.Context) ([]ledger.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) CreateChannel(_ context.Context, c ledger.Channel) (ledger.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.channels {
		if existing.Code == c.Code {
			return ledger.Channel{}, errs.ErrInvalid
		}
	}
	s.channels[c.ID] = c
	return c, nil
}

func (s *Store) UpdateChannel(_ context.Context, c ledger.Channel) (ledger.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[c.ID]; !ok {
		return ledger.Channel{}, errs.ErrNotFound
	}
	s.channels[c.ID] = c
	return c, nil
}

// --- Entry reads ---

func (s *Store) LatestEntryByChannel(_ context.Context, channelID uuid.UUID) (ledger.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.latest[channelID]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	return *s.entries[id], true, nil
}

func (s *Store) EntriesByDocument(_ context.Context, documentID uuid.UUID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byDocument[documentID]
	out := make([]ledger.Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// EntriesByChannel returns every entry of the channel asc by Seq.
func (s *Store) EntriesByChannel(_ context.Context, channelID uuid.UUID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byChannel[channelID]
	out := make([]ledger.Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.entries[k.ID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) EntryByIdempotencyKey(_ context.Context, channelID uuid.UUID, key string) (ledger.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.idem[channelID]; ok {
		if eid, ok2 := m[key]; ok2 {
			if e, ok3 := s.entries[eid]; ok3 {
				return *e, true, nil
			}
		}
	}
	return ledger.Entry{}, false, nil
}

// EntriesBetween returns entries with OccurredAt in [from, to), ordered asc by
// (OccurredAt, Seq). Nil channelID matches all channels; empty source matches
// all sources.
func (s *Store) EntriesBetween(_ context.Context, from, to time.Time, channelID uuid.UUID, source ledger.Source) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []entryKey
	if channelID != uuid.Nil {
		keys = s.rangeLocked(channelID, from, to)
	} else {
		for ch := range s.byChannel {
			keys = append(keys, s.rangeLocked(ch, from, to)...)
		}
		sort.Slice(keys, func(i, j int) bool {
			if !keys[i].At.Equal(keys[j].At) {
				return keys[i].At.Before(keys[j].At)
			}
			return keys[i].Seq < keys[j].Seq
		})
	}
	out := make([]ledger.Entry, 0, len(keys))
	for _, k := range keys {
		e := s.entries[k.ID]
		if source != "" && e.Source != source {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// rangeLocked returns the channel's keys within [from, to). Caller holds s.mu.
func (s *Store) rangeLocked(channelID uuid.UUID, from, to time.Time) []entryKey {
	keys := s.byChannel[channelID]
	if len(keys) == 0 {
		return nil
	}
	start := sort.Search(len(keys), func(i int) bool { return !keys[i].At.Before(from) })
	end := sort.Search(len(keys), func(i int) bool { return !keys[i].At.Before(to) })
	if start >= end {
		return nil
	}
	subset := make([]entryKey, end-start)
	copy(subset, keys[start:end])
	return subset
}

// --- Posting write path ---

func (s *Store) sem(channelID uuid.UUID) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	c, ok := s.locks[channelID]
	if !ok {
		c = make(chan struct{}, 1)
		s.locks[channelID] = c
	}
	return c
}

// BeginChannelTx acquires the channel's lock with a bounded wait, failing with
// ErrConcurrentModification when contended past the wait.
func (s *Store) BeginChannelTx(ctx context.Context, channelID uuid.UUID) (posting.ChannelTx, error) {
	s.mu.RLock()
	_, ok := s.channels[channelID]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrUnknownChannel
	}
	c := s.sem(channelID)
	select {
	case c <- struct{}{}:
		return &channelTx{s: s, channelID: channelID, sem: c}, nil
	case <-time.After(s.lockWait):
		return nil, errs.ErrConcurrentModification
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// channelTx stages a single append and publishes it on Commit. The channel's
// semaphore is held for the lifetime of the tx.
type channelTx struct {
	s         *Store
	channelID uuid.UUID
	sem       chan struct{}
	pending   *ledger.Entry
	done      bool
}

func (t *channelTx) LatestEntry(_ context.Context) (ledger.Entry, bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.latest[t.channelID]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	return *t.s.entries[id], true, nil
}

func (t *channelTx) AppendEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if e.IdempotencyKey != "" {
		if m, ok := t.s.idem[t.channelID]; ok {
			if eid, ok2 := m[e.IdempotencyKey]; ok2 {
				return *t.s.entries[eid], nil
			}
		}
	}
	t.s.seq++
	e.Seq = t.s.seq
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	t.pending = &e
	return e, nil
}

func (t *channelTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer func() { <-t.sem }()
	if t.pending == nil {
		return nil
	}
	e := t.pending
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.entries[e.ID] = e
	t.s.latest[e.ChannelID] = e.ID
	t.s.insertEntryIndexLocked(e.ChannelID, entryKey{At: e.OccurredAt, Seq: e.Seq, ID: e.ID})
	if e.DocumentID != uuid.Nil {
		t.s.byDocument[e.DocumentID] = append(t.s.byDocument[e.DocumentID], e.ID)
	}
	if e.IdempotencyKey != "" {
		m, ok := t.s.idem[e.ChannelID]
		if !ok {
			m = make(map[string]uuid.UUID)
			t.s.idem[e.ChannelID] = m
		}
		if _, exists := m[e.IdempotencyKey]; !exists {
			m[e.IdempotencyKey] = e.ID
		}
	}
	return nil
}

func (t *channelTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.pending = nil
	<-t.sem
	return nil
}

// insertEntryIndexLocked inserts k keeping the index sorted asc by (At, Seq).
// Caller must hold s.mu (write lock).
func (s *Store) insertEntryIndexLocked(channelID uuid.UUID, k entryKey) {
	keys := s.byChannel[channelID]
	i := sort.Search(len(keys), func(i int) bool {
		if keys[i].At.After(k.At) {
			return true
		}
		if keys[i].At.Equal(k.At) {
			return keys[i].Seq > k.Seq
		}
		return false
	})
	if i == len(keys) {
		s.byChannel[channelID] = append(keys, k)
		return
	}
	keys = append(keys, entryKey{})
	copy(keys[i+1:], keys[i:])
	keys[i] = k
	s.byChannel[channelID] = keys
}

// --- Snapshots ---

func (s *Store) OpeningBalance(_ context.Context, day ledger.Day, channelID uuid.UUID) (ledger.OpeningBalance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.openings[day.String()]; ok {
		if ob, ok2 := m[channelID]; ok2 {
			return ob, true, nil
		}
	}
	return ledger.OpeningBalance{}, false, nil
}

func (s *Store) UpsertOpeningBalance(_ context.Context, ob ledger.OpeningBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.openings[ob.Day.String()]
	if !ok {
		m = make(map[uuid.UUID]ledger.OpeningBalance)
		s.openings[ob.Day.String()] = m
	}
	m[ob.ChannelID] = ob
	return nil
}

func (s *Store) ClosingBalance(_ context.Context, day ledger.Day, channelID uuid.UUID) (ledger.ClosingBalance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.closings[day.String()]; ok {
		if cb, ok2 := m[channelID]; ok2 {
			return cb, true, nil
		}
	}
	return ledger.ClosingBalance{}, false, nil
}

func (s *Store) ClosingBalances(_ context.Context, day ledger.Day) ([]ledger.ClosingBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.closings[day.String()]
	out := make([]ledger.ClosingBalance, 0, len(m))
	for _, cb := range m {
		out = append(out, cb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID.String() < out[j].ChannelID.String() })
	return out, nil
}

// ReplaceClosingBalances swaps the day's whole closing set, keeping
// recomputation idempotent.
func (s *Store) ReplaceClosingBalances(_ context.Context, day ledger.Day, rows []ledger.ClosingBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[uuid.UUID]ledger.ClosingBalance, len(rows))
	for _, r := range rows {
		m[r.ChannelID] = r
	}
	s.closings[day.String()] = m
	return nil
}

// --- Confirmations ---

func (s *Store) Confirmation(_ context.Context, day ledger.Day, userID uuid.UUID) (ledger.DailyConfirmation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.confirms[day.String()]; ok {
		if c, ok2 := m[userID]; ok2 {
			return c, true, nil
		}
	}
	return ledger.DailyConfirmation{}, false, nil
}

func (s *Store) SaveConfirmation(_ context.Context, c ledger.DailyConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.confirms[c.Day.String()]
	if !ok {
		m = make(map[uuid.UUID]ledger.DailyConfirmation)
		s.confirms[c.Day.String()] = m
	}
	m[c.UserID] = c
	return nil
}
