package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/averlon/posledger/internal/errs"
	"github.com/averlon/posledger/internal/ledger"
)

func seedCash(t *testing.T, s *Store) ledger.Channel {
	t.Helper()
	c := ledger.Channel{ID: uuid.New(), Code: "cash", Name: "Cash Drawer", Kind: ledger.KindCash, Currency: "USD", Active: true}
	s.SeedChannel(c)
	return c
}

func mkEntry(t *testing.T, ch ledger.Channel, beforeMinor, amountMinor int64, at time.Time) ledger.Entry {
	t.Helper()
	amount, _ := money.NewAmountFromMinorUnits(ch.Currency, amountMinor)
	before, _ := money.NewAmountFromMinorUnits(ch.Currency, beforeMinor)
	after, _ := money.NewAmountFromMinorUnits(ch.Currency, beforeMinor+amountMinor)
	return ledger.Entry{
		ID: uuid.New(), ChannelID: ch.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale,
		Amount: amount, Before: before, After: after,
		OccurredAt: at, RecordedAt: time.Now().UTC(), RecordedBy: uuid.New(),
	}
}

func TestChannelTx_AppendAndCommit(t *testing.T) {
	s := New()
	ch := seedCash(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	tx, err := s.BeginChannelTx(ctx, ch.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, ok, _ := tx.LatestEntry(ctx); ok {
		t.Fatalf("fresh channel should have no entries")
	}
	saved, err := tx.AppendEntry(ctx, mkEntry(t, ch, 0, 500, now))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if saved.Seq == 0 {
		t.Fatalf("seq not assigned")
	}
	// Not visible until commit.
	if _, ok, _ := s.LatestEntryByChannel(ctx, ch.ID); ok {
		t.Fatalf("entry visible before commit")
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	latest, ok, err := s.LatestEntryByChannel(ctx, ch.ID)
	if err != nil || !ok {
		t.Fatalf("latest: %v ok=%v", err, ok)
	}
	if latest.ID != saved.ID {
		t.Fatalf("latest mismatch")
	}
}

func TestChannelTx_RollbackDiscards(t *testing.T) {
	s := New()
	ch := seedCash(t, s)
	ctx := context.Background()

	tx, err := s.BeginChannelTx(ctx, ch.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.AppendEntry(ctx, mkEntry(t, ch, 0, 500, time.Now().UTC())); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, ok, _ := s.LatestEntryByChannel(ctx, ch.ID); ok {
		t.Fatalf("rolled-back entry should not be visible")
	}

	// Lock must have been released.
	tx2, err := s.BeginChannelTx(ctx, ch.ID)
	if err != nil {
		t.Fatalf("begin after rollback: %v", err)
	}
	_ = tx2.Rollback(ctx)
}

func TestBeginChannelTx_BoundedWait(t *testing.T) {
	s := New()
	s.SetLockWait(30 * time.Millisecond)
	ch := seedCash(t, s)
	other := ledger.Channel{ID: uuid.New(), Code: "bank_main", Name: "Main Bank", Kind: ledger.KindBank, Currency: "USD", Active: true}
	s.SeedChannel(other)
	ctx := context.Background()

	tx, err := s.BeginChannelTx(ctx, ch.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Same channel: contended past the wait.
	if _, err := s.BeginChannelTx(ctx, ch.ID); !errors.Is(err, errs.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	// Different channel: proceeds immediately.
	tx2, err := s.BeginChannelTx(ctx, other.ID)
	if err != nil {
		t.Fatalf("other channel should not block: %v", err)
	}
	_ = tx2.Rollback(ctx)

	// Unknown channel fails fast.
	if _, err := s.BeginChannelTx(ctx, uuid.New()); !errors.Is(err, errs.ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestEntriesBetween_OrderAndBounds(t *testing.T) {
	s := New()
	ch := seedCash(t, s)
	ctx := context.Background()
	base := time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)

	// Insert out of occurred-at order to exercise the sorted index.
	times := []time.Time{base.Add(2 * time.Hour), base, base.Add(time.Hour)}
	for i, at := range times {
		tx, err := s.BeginChannelTx(ctx, ch.ID)
		if err != nil {
			t.Fatalf("begin %d: %v", i, err)
		}
		if _, err := tx.AppendEntry(ctx, mkEntry(t, ch, int64(i)*100, 100, at)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	got, err := s.EntriesBetween(ctx, base, base.Add(3*time.Hour), ch.ID, "")
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].OccurredAt.Before(got[i-1].OccurredAt) {
			t.Fatalf("not ordered by occurred_at: %v after %v", got[i].OccurredAt, got[i-1].OccurredAt)
		}
	}

	// Half-open: an entry exactly at `to` is excluded.
	got, err = s.EntriesBetween(ctx, base, base.Add(2*time.Hour), ch.ID, "")
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 in half-open range, got %d", len(got))
	}
}

func TestIdempotencyKey_PerChannelReplay(t *testing.T) {
	s := New()
	ch := seedCash(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	e := mkEntry(t, ch, 0, 500, now)
	e.IdempotencyKey = "receipt-1"
	tx, _ := s.BeginChannelTx(ctx, ch.ID)
	first, err := tx.AppendEntry(ctx, e)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = tx.Commit(ctx)

	dup := mkEntry(t, ch, 500, 500, now.Add(time.Minute))
	dup.IdempotencyKey = "receipt-1"
	tx2, _ := s.BeginChannelTx(ctx, ch.ID)
	replay, err := tx2.AppendEntry(ctx, dup)
	if err != nil {
		t.Fatalf("replay append: %v", err)
	}
	_ = tx2.Commit(ctx)
	if replay.ID != first.ID {
		t.Fatalf("replay should return the stored entry")
	}

	stored, ok, err := s.EntryByIdempotencyKey(ctx, ch.ID, "receipt-1")
	if err != nil || !ok || stored.ID != first.ID {
		t.Fatalf("lookup: %v ok=%v", err, ok)
	}
	// Keys are scoped per channel.
	if _, ok, _ := s.EntryByIdempotencyKey(ctx, uuid.New(), "receipt-1"); ok {
		t.Fatalf("key leaked across channels")
	}
}
