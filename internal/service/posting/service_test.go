package posting_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/averlon/posledger/internal/errs"
	"github.com/averlon/posledger/internal/ledger"
	"github.com/averlon/posledger/internal/service/daily"
	"github.com/averlon/posledger/internal/service/posting"
	"github.com/averlon/posledger/internal/storage/memory"
)

func setup(t *testing.T) (*memory.Store, posting.Service, daily.Service, ledger.Channel, ledger.Channel) {
	t.Helper()
	store := memory.New()
	cash := ledger.Channel{ID: uuid.New(), Code: "cash", Name: "Cash Drawer", Kind: ledger.KindCash, Currency: "USD", Active: true}
	bank := ledger.Channel{ID: uuid.New(), Code: "bank_main", Name: "Main Bank", Kind: ledger.KindBank, Currency: "USD", Active: true}
	store.SeedChannel(cash)
	store.SeedChannel(bank)
	days := daily.New(store, store, time.UTC, 0)
	svc := posting.New(store, store, days, time.UTC)
	return store, svc, days, cash, bank
}

func setOpening(t *testing.T, days daily.Service, day ledger.Day, ch ledger.Channel, minor int64) {
	t.Helper()
	bal, err := money.NewAmountFromMinorUnits(ch.Currency, minor)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	if err := days.SetOpening(context.Background(), ledger.OpeningBalance{Day: day, ChannelID: ch.ID, Balance: bal, RecordedBy: uuid.New()}); err != nil {
		t.Fatalf("set opening: %v", err)
	}
}

func post(t *testing.T, svc posting.Service, in posting.Input) ledger.Entry {
	t.Helper()
	e, err := svc.Post(context.Background(), in)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return e
}

func minorOf(t *testing.T, a money.Amount) int64 {
	t.Helper()
	m, ok := a.MinorUnits()
	if !ok {
		t.Fatalf("amount out of range: %v", a)
	}
	return m
}

func TestPost_ChainsBeforeAfterFromOpening(t *testing.T) {
	_, svc, days, cash, _ := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := ledger.DayOf(now, time.UTC)
	setOpening(t, days, day, cash, 1000)

	sale := post(t, svc, posting.Input{
		ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale,
		AmountMinor: 500, OccurredAt: now, RecordedBy: uuid.New(), Description: "morning sale",
	})
	if minorOf(t, sale.Before) != 1000 || minorOf(t, sale.After) != 1500 {
		t.Fatalf("sale chain wrong: before=%d after=%d", minorOf(t, sale.Before), minorOf(t, sale.After))
	}

	exp := post(t, svc, posting.Input{
		ChannelID: cash.ID, Direction: ledger.DirectionExpense, Source: ledger.SourceExpense,
		AmountMinor: 200, OccurredAt: now.Add(time.Minute), RecordedBy: uuid.New(), Description: "supplies",
	})
	if minorOf(t, exp.Before) != 1500 || minorOf(t, exp.After) != 1300 {
		t.Fatalf("expense chain wrong: before=%d after=%d", minorOf(t, exp.Before), minorOf(t, exp.After))
	}

	bal, err := svc.CurrentBalance(ctx, cash.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if minorOf(t, bal) != 1300 {
		t.Fatalf("expected balance 1300, got %d", minorOf(t, bal))
	}

	snap, err := days.ComputeClosing(ctx, day)
	if err != nil {
		t.Fatalf("closing: %v", err)
	}
	if len(snap.Cash) != 1 || minorOf(t, snap.Cash[0].Balance) != 1300 {
		t.Fatalf("unexpected closing: %+v", snap)
	}
}

func TestPost_Validation(t *testing.T) {
	_, svc, _, cash, _ := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.Post(ctx, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, AmountMinor: 0, OccurredAt: now, RecordedBy: uuid.New()}); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Post(ctx, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, AmountMinor: -50, OccurredAt: now, RecordedBy: uuid.New()}); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	if _, err := svc.Post(ctx, posting.Input{ChannelID: uuid.New(), Direction: ledger.DirectionIncome, Source: ledger.SourceSale, AmountMinor: 100, OccurredAt: now, RecordedBy: uuid.New()}); !errors.Is(err, errs.ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if _, err := svc.Post(ctx, posting.Input{ChannelID: cash.ID, Direction: "sideways", Source: ledger.SourceSale, AmountMinor: 100, OccurredAt: now, RecordedBy: uuid.New()}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for direction, got %v", err)
	}
	if _, err := svc.Post(ctx, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: "mystery", AmountMinor: 100, OccurredAt: now, RecordedBy: uuid.New()}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for source, got %v", err)
	}
}

func TestPost_InactiveChannelRejected(t *testing.T) {
	store, svc, _, cash, _ := setup(t)
	ctx := context.Background()
	cash.Active = false
	if _, err := store.UpdateChannel(ctx, cash); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err := svc.Post(ctx, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, AmountMinor: 100, OccurredAt: time.Now().UTC(), RecordedBy: uuid.New()})
	if !errors.Is(err, errs.ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestPost_IdempotencyReplay(t *testing.T) {
	store, svc, _, cash, _ := setup(t)
	now := time.Now().UTC()
	in := posting.Input{
		ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale,
		AmountMinor: 700, OccurredAt: now, RecordedBy: uuid.New(), IdempotencyKey: "pos-42-receipt-9",
	}
	first := post(t, svc, in)
	second := post(t, svc, in)
	if first.ID != second.ID {
		t.Fatalf("replay created a new entry: %s vs %s", first.ID, second.ID)
	}
	entries, err := store.EntriesBetween(context.Background(), now.Add(-time.Hour), now.Add(time.Hour), cash.ID, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(entries))
	}
}

func TestPost_ConcurrentNoLostUpdates(t *testing.T) {
	_, svc, days, cash, _ := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := ledger.DayOf(now, time.UTC)
	setOpening(t, days, day, cash, 0)

	const n = 20
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Post(ctx, posting.Input{
				ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale,
				AmountMinor: 100, OccurredAt: now, RecordedBy: uuid.New(),
			})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent post: %v", err)
		}
	}

	bal, err := svc.CurrentBalance(ctx, cash.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if minorOf(t, bal) != n*100 {
		t.Fatalf("lost update: expected %d, got %d", n*100, minorOf(t, bal))
	}
	// The chain must still verify.
	if _, err := days.PreviewClosing(ctx, day); err != nil {
		t.Fatalf("chain broken after concurrent posts: %v", err)
	}
}

func TestReverse_FullDocument(t *testing.T) {
	_, svc, _, cash, bank := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	doc := uuid.New()

	post(t, svc, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, DocumentID: doc, AmountMinor: 300, OccurredAt: now, RecordedBy: uuid.New()})
	post(t, svc, posting.Input{ChannelID: bank.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, DocumentID: doc, AmountMinor: 700, OccurredAt: now, RecordedBy: uuid.New()})

	report, err := svc.Reverse(ctx, doc, now.Add(time.Hour), uuid.New())
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if len(report.Reversed) != 2 || len(report.Failed) != 0 || report.Partial() {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, e := range report.Reversed {
		if e.Source != ledger.SourceSaleRefund || e.Direction != ledger.DirectionExpense {
			t.Fatalf("compensating entry wrong: %+v", e)
		}
	}

	cashBal, _ := svc.CurrentBalance(ctx, cash.ID)
	bankBal, _ := svc.CurrentBalance(ctx, bank.ID)
	if minorOf(t, cashBal) != 0 || minorOf(t, bankBal) != 0 {
		t.Fatalf("balances not restored: cash=%d bank=%d", minorOf(t, cashBal), minorOf(t, bankBal))
	}

	// second attempt: everything already reversed
	if _, err := svc.Reverse(ctx, doc, now.Add(2*time.Hour), uuid.New()); !errors.Is(err, errs.ErrAlreadyReversed) {
		t.Fatalf("expected ErrAlreadyReversed, got %v", err)
	}
}

func TestReverse_ConcurrentSingleRefund(t *testing.T) {
	store, svc, _, cash, _ := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	doc := uuid.New()

	post(t, svc, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, DocumentID: doc, AmountMinor: 300, OccurredAt: now, RecordedBy: uuid.New()})

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reverse(ctx, doc, now.Add(time.Minute), uuid.New())
			if err != nil && !errors.Is(err, errs.ErrAlreadyReversed) {
				t.Errorf("reverse: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := store.EntriesByDocument(ctx, doc)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected the sale plus one refund, got %d entries", len(entries))
	}
	bal, err := svc.CurrentBalance(ctx, cash.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if minorOf(t, bal) != 0 {
		t.Fatalf("duplicate refund moved the balance: %d", minorOf(t, bal))
	}
}

func TestReverse_ThenRecomputedClosingDrops(t *testing.T) {
	_, svc, days, cash, _ := setup(t)
	ctx := context.Background()
	day := ledger.NewDay(2025, time.June, 10)
	at := day.Time().Add(10 * time.Hour)
	doc := uuid.New()
	setOpening(t, days, day, cash, 1000)

	post(t, svc, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, DocumentID: doc, AmountMinor: 500, OccurredAt: at, RecordedBy: uuid.New()})
	before, err := days.ComputeClosing(ctx, day)
	if err != nil {
		t.Fatalf("closing: %v", err)
	}
	if len(before.Cash) != 1 || minorOf(t, before.Cash[0].Balance) != 1500 {
		t.Fatalf("unexpected closing before reversal: %+v", before)
	}

	report, err := svc.Reverse(ctx, doc, at.Add(time.Hour), uuid.New())
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if len(report.Reversed) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	after, err := days.ComputeClosing(ctx, day)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(after.Cash) != 1 || minorOf(t, after.Cash[0].Balance) != 1000 {
		t.Fatalf("recomputed closing should drop the reversed sale: %+v", after)
	}
}

func TestReverse_PartialFailureReported(t *testing.T) {
	store, svc, _, cash, bank := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	doc := uuid.New()

	post(t, svc, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, DocumentID: doc, AmountMinor: 300, OccurredAt: now, RecordedBy: uuid.New()})
	post(t, svc, posting.Input{ChannelID: bank.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, DocumentID: doc, AmountMinor: 700, OccurredAt: now, RecordedBy: uuid.New()})

	// Deactivate the bank channel so its compensating post fails.
	bank.Active = false
	if _, err := store.UpdateChannel(ctx, bank); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	report, err := svc.Reverse(ctx, doc, now.Add(time.Hour), uuid.New())
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if len(report.Reversed) != 1 || len(report.Failed) != 1 || !report.Partial() {
		t.Fatalf("expected partial report, got %+v", report)
	}
	if report.Failed[0].ChannelID != bank.ID || !errors.Is(report.Failed[0].Err, errs.ErrUnknownChannel) {
		t.Fatalf("unexpected failure: %+v", report.Failed[0])
	}

	// Retry after reactivating finishes the job; the cash side is skipped.
	bank.Active = true
	if _, err := store.UpdateChannel(ctx, bank); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	report2, err := svc.Reverse(ctx, doc, now.Add(2*time.Hour), uuid.New())
	if err != nil {
		t.Fatalf("retry reverse: %v", err)
	}
	if len(report2.Reversed) != 1 || report2.Reversed[0].ChannelID != bank.ID {
		t.Fatalf("retry should reverse only the bank side: %+v", report2)
	}
}

func TestReverse_UnknownDocument(t *testing.T) {
	_, svc, _, _, _ := setup(t)
	if _, err := svc.Reverse(context.Background(), uuid.New(), time.Now().UTC(), uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryEntries_Filters(t *testing.T) {
	_, svc, _, cash, bank := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	post(t, svc, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, AmountMinor: 100, OccurredAt: now, RecordedBy: uuid.New()})
	post(t, svc, posting.Input{ChannelID: cash.ID, Direction: ledger.DirectionExpense, Source: ledger.SourceExpense, AmountMinor: 50, OccurredAt: now.Add(time.Second), RecordedBy: uuid.New()})
	post(t, svc, posting.Input{ChannelID: bank.ID, Direction: ledger.DirectionIncome, Source: ledger.SourceSale, AmountMinor: 200, OccurredAt: now.Add(2 * time.Second), RecordedBy: uuid.New()})

	all, err := svc.QueryEntries(ctx, posting.EntryQuery{From: now.Add(-time.Minute), To: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	cashOnly, err := svc.QueryEntries(ctx, posting.EntryQuery{From: now.Add(-time.Minute), To: now.Add(time.Minute), ChannelID: cash.ID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(cashOnly) != 2 {
		t.Fatalf("expected 2 cash entries, got %d", len(cashOnly))
	}
	sales, err := svc.QueryEntries(ctx, posting.EntryQuery{From: now.Add(-time.Minute), To: now.Add(time.Minute), Source: ledger.SourceSale})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("expected 2 sales, got %d", len(sales))
	}
	if _, err := svc.QueryEntries(ctx, posting.EntryQuery{From: now, To: now.Add(-time.Hour)}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for reversed range, got %v", err)
	}
}
