package daily

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/averlon/posledger/internal/errs"
	"github.com/averlon/posledger/internal/ledger"
)

// DefaultMaxLookback bounds the opening-balance walk-back on fresh installs.
const DefaultMaxLookback = 90

// Repo defines the reads needed for reconciliation.
type Repo interface {
	Channels(ctx context.Context) ([]ledger.Channel, error)
	ChannelByID(ctx context.Context, id uuid.UUID) (ledger.Channel, error)
	OpeningBalance(ctx context.Context, day ledger.Day, channelID uuid.UUID) (ledger.OpeningBalance, bool, error)
	ClosingBalance(ctx context.Context, day ledger.Day, channelID uuid.UUID) (ledger.ClosingBalance, bool, error)
	ClosingBalances(ctx context.Context, day ledger.Day) ([]ledger.ClosingBalance, error)
	EntriesBetween(ctx context.Context, from, to time.Time, channelID uuid.UUID, source ledger.Source) ([]ledger.Entry, error)
	// EntriesByChannel returns the channel's full entry list asc by Seq, used
	// to establish insertion adjacency across day windows.
	EntriesByChannel(ctx context.Context, channelID uuid.UUID) ([]ledger.Entry, error)
	Confirmation(ctx context.Context, day ledger.Day, userID uuid.UUID) (ledger.DailyConfirmation, bool, error)
}

// Writer defines the reconciliation writes.
type Writer interface {
	UpsertOpeningBalance(ctx context.Context, ob ledger.OpeningBalance) error
	// ReplaceClosingBalances replaces the whole closing set for the day, which
	// keeps recomputation idempotent.
	ReplaceClosingBalances(ctx context.Context, day ledger.Day, rows []ledger.ClosingBalance) error
	SaveConfirmation(ctx context.Context, c ledger.DailyConfirmation) error
}

// DaySummary is one (day, channel) row of the reporting aggregator.
type DaySummary struct {
	Day          ledger.Day
	Channel      ledger.Channel
	OpeningMinor int64
	IncomeMinor  int64
	ExpenseMinor int64
	ClosingMinor int64
	EntryCount   int
}

// Service exposes opening resolution, closing calculation, the confirmation
// gate and day/channel grouping for reports.
type Service interface {
	ResolveOpening(ctx context.Context, day ledger.Day, channelID uuid.UUID) (ledger.OpeningResolution, error)
	SetOpening(ctx context.Context, ob ledger.OpeningBalance) error
	ComputeClosing(ctx context.Context, day ledger.Day) (ledger.ClosingSnapshot, error)
	PreviewClosing(ctx context.Context, day ledger.Day) (ledger.ClosingSnapshot, error)
	StoredClosing(ctx context.Context, day ledger.Day) (ledger.ClosingSnapshot, bool, error)
	Confirm(ctx context.Context, day ledger.Day, userID uuid.UUID) (ledger.DailyConfirmation, error)
	Status(ctx context.Context, day ledger.Day, userID uuid.UUID) (ledger.DailyConfirmation, error)
	Report(ctx context.Context, from, to ledger.Day) ([]DaySummary, error)
}

type service struct {
	repo        Repo
	writer      Writer
	loc         *time.Location
	maxLookback int
}

func New(repo Repo, writer Writer, loc *time.Location, maxLookback int) Service {
	if loc == nil {
		loc = time.UTC
	}
	if maxLookback <= 0 {
		maxLookback = DefaultMaxLookback
	}
	return &service{repo: repo, writer: writer, loc: loc, maxLookback: maxLookback}
}

// ResolveOpening answers "what did the channel start the day with". A stored
// snapshot for the day is authoritative; otherwise prior closing balances are
// walked backward up to the lookback bound, then zero. The function is pure
// over stored data so operator edits take effect on the next call.
func (s *service) ResolveOpening(ctx context.Context, day ledger.Day, channelID uuid.UUID) (ledger.OpeningResolution, error) {
	if day.IsZero() || channelID == uuid.Nil {
		return ledger.OpeningResolution{}, errs.ErrInvalid
	}
	ch, err := s.repo.ChannelByID(ctx, channelID)
	if errors.Is(err, errs.ErrNotFound) {
		return ledger.OpeningResolution{}, errs.ErrUnknownChannel
	}
	if err != nil {
		return ledger.OpeningResolution{}, err
	}

	res := ledger.OpeningResolution{Day: day, ChannelID: channelID}
	if snap, ok, err := s.repo.OpeningBalance(ctx, day, channelID); err != nil {
		return ledger.OpeningResolution{}, err
	} else if ok {
		res.Amount = snap.Balance
		res.Origin = ledger.OriginSnapshot
		return res, nil
	}

	d := day.Prev()
	for depth := 1; depth <= s.maxLookback; depth++ {
		closing, ok, err := s.repo.ClosingBalance(ctx, d, channelID)
		if err != nil {
			return ledger.OpeningResolution{}, err
		}
		if ok {
			res.Amount = closing.Balance
			res.Origin = ledger.OriginCarried
			res.Depth = depth
			return res, nil
		}
		d = d.Prev()
	}

	zero, err := ledger.ZeroAmount(ch.Currency)
	if err != nil {
		return ledger.OpeningResolution{}, err
	}
	res.Amount = zero
	res.Origin = ledger.OriginZero
	res.Depth = s.maxLookback
	res.LookbackExceeded = true
	return res, nil
}

// SetOpening stores an operator snapshot for (day, channel). Entries already
// posted for that day are not renumbered; the snapshot becomes the base for
// resolution from now on.
func (s *service) SetOpening(ctx context.Context, ob ledger.OpeningBalance) error {
	if ob.Day.IsZero() || ob.ChannelID == uuid.Nil {
		return errs.ErrInvalid
	}
	if _, err := s.repo.ChannelByID(ctx, ob.ChannelID); errors.Is(err, errs.ErrNotFound) {
		return errs.ErrUnknownChannel
	} else if err != nil {
		return err
	}
	return s.writer.UpsertOpeningBalance(ctx, ob)
}

// ComputeClosing derives and persists the day's closing balances, replacing
// any prior snapshot for the day.
func (s *service) ComputeClosing(ctx context.Context, day ledger.Day) (ledger.ClosingSnapshot, error) {
	snap, rows, err := s.computeDay(ctx, day)
	if err != nil {
		return ledger.ClosingSnapshot{}, err
	}
	if err := s.writer.ReplaceClosingBalances(ctx, day, rows); err != nil {
		return ledger.ClosingSnapshot{}, err
	}
	return snap, nil
}

// PreviewClosing is the same computation with no persistence, for "what would
// today close at right now" views.
func (s *service) PreviewClosing(ctx context.Context, day ledger.Day) (ledger.ClosingSnapshot, error) {
	snap, _, err := s.computeDay(ctx, day)
	return snap, err
}

func (s *service) computeDay(ctx context.Context, day ledger.Day) (ledger.ClosingSnapshot, []ledger.ClosingBalance, error) {
	if day.IsZero() {
		return ledger.ClosingSnapshot{}, nil, errs.ErrInvalid
	}
	channels, err := s.repo.Channels(ctx)
	if err != nil {
		return ledger.ClosingSnapshot{}, nil, err
	}
	now := time.Now().UTC()
	from, to := day.Bounds(s.loc)

	snap := ledger.ClosingSnapshot{Day: day, ComputedAt: now}
	rows := make([]ledger.ClosingBalance, 0, len(channels))
	for _, ch := range channels {
		opening, err := s.ResolveOpening(ctx, day, ch.ID)
		if err != nil {
			return ledger.ClosingSnapshot{}, nil, err
		}
		entries, err := s.repo.EntriesBetween(ctx, from, to, ch.ID, "")
		if err != nil {
			return ledger.ClosingSnapshot{}, nil, err
		}
		chain, err := s.repo.EntriesByChannel(ctx, ch.ID)
		if err != nil {
			return ledger.ClosingSnapshot{}, nil, err
		}
		if err := verifyChain(ch, entries, chain); err != nil {
			return ledger.ClosingSnapshot{}, nil, err
		}

		balance := opening.Amount
		for _, e := range entries {
			balance, err = e.Direction.Apply(balance, e.Amount)
			if err != nil {
				return ledger.ClosingSnapshot{}, nil, err
			}
		}

		rows = append(rows, ledger.ClosingBalance{Day: day, ChannelID: ch.ID, Balance: balance, ComputedAt: now})
		cb := ledger.ChannelBalance{Channel: ch, Balance: balance}
		switch ch.Kind {
		case ledger.KindCash:
			snap.Cash = append(snap.Cash, cb)
		case ledger.KindCard:
			snap.Cards = append(snap.Cards, cb)
		default:
			snap.Banks = append(snap.Banks, cb)
		}
		minor, _ := balance.MinorUnits()
		snap.TotalMinor += minor
	}
	return snap, rows, nil
}

// verifyChain replays the day's stored balances as a consistency check. Each
// entry must satisfy after == before ± amount. Consecutive entries in
// insertion order must link before[i+1] == after[i], unless another entry of
// the channel was inserted between them: a payment logged late for this day
// chains off the channel's latest entry, which may sit outside the day window.
// The day's first entry is not forced to match the resolved opening: a
// snapshot stored after entries exist does not renumber history. Mismatches
// surface as ErrLedgerInconsistency and are never corrected here.
func verifyChain(ch ledger.Channel, entries, chain []ledger.Entry) error {
	ordered := make([]ledger.Entry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	seqs := make([]int64, len(chain))
	for i, e := range chain {
		seqs[i] = e.Seq
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for i, e := range ordered {
		want, err := e.Direction.Apply(e.Before, e.Amount)
		if err != nil {
			return err
		}
		wantMinor, _ := want.MinorUnits()
		afterMinor, _ := e.After.MinorUnits()
		if wantMinor != afterMinor {
			return fmt.Errorf("%w: channel %s entry %s after=%d want=%d",
				errs.ErrLedgerInconsistency, ch.Code, e.ID, afterMinor, wantMinor)
		}
		if i > 0 && adjacentSeq(seqs, ordered[i-1].Seq, e.Seq) {
			prevAfter, _ := ordered[i-1].After.MinorUnits()
			beforeMinor, _ := e.Before.MinorUnits()
			if prevAfter != beforeMinor {
				return fmt.Errorf("%w: channel %s entry %s before=%d, prior after=%d",
					errs.ErrLedgerInconsistency, ch.Code, e.ID, beforeMinor, prevAfter)
			}
		}
	}
	return nil
}

// adjacentSeq reports whether the channel has no entry with a sequence
// strictly between a and b.
func adjacentSeq(seqs []int64, a, b int64) bool {
	i := sort.Search(len(seqs), func(i int) bool { return seqs[i] > a })
	return i >= len(seqs) || seqs[i] >= b
}

// StoredClosing reassembles a previously persisted closing snapshot.
func (s *service) StoredClosing(ctx context.Context, day ledger.Day) (ledger.ClosingSnapshot, bool, error) {
	if day.IsZero() {
		return ledger.ClosingSnapshot{}, false, errs.ErrInvalid
	}
	rows, err := s.repo.ClosingBalances(ctx, day)
	if err != nil {
		return ledger.ClosingSnapshot{}, false, err
	}
	if len(rows) == 0 {
		return ledger.ClosingSnapshot{}, false, nil
	}
	snap := ledger.ClosingSnapshot{Day: day}
	for _, row := range rows {
		ch, err := s.repo.ChannelByID(ctx, row.ChannelID)
		if err != nil {
			return ledger.ClosingSnapshot{}, false, err
		}
		cb := ledger.ChannelBalance{Channel: ch, Balance: row.Balance}
		switch ch.Kind {
		case ledger.KindCash:
			snap.Cash = append(snap.Cash, cb)
		case ledger.KindCard:
			snap.Cards = append(snap.Cards, cb)
		default:
			snap.Banks = append(snap.Banks, cb)
		}
		minor, _ := row.Balance.MinorUnits()
		snap.TotalMinor += minor
		if row.ComputedAt.After(snap.ComputedAt) {
			snap.ComputedAt = row.ComputedAt
		}
	}
	return snap, true, nil
}

// Confirm marks the day reviewed by the user. Confirming an already-confirmed
// day is a no-op returning the existing state; there is no way back to
// unconfirmed. The flag is advisory and never blocks posting.
func (s *service) Confirm(ctx context.Context, day ledger.Day, userID uuid.UUID) (ledger.DailyConfirmation, error) {
	if day.IsZero() || userID == uuid.Nil {
		return ledger.DailyConfirmation{}, errs.ErrInvalid
	}
	if existing, ok, err := s.repo.Confirmation(ctx, day, userID); err != nil {
		return ledger.DailyConfirmation{}, err
	} else if ok && existing.Confirmed {
		return existing, nil
	}
	c := ledger.DailyConfirmation{Day: day, UserID: userID, Confirmed: true, ConfirmedAt: time.Now().UTC()}
	if err := s.writer.SaveConfirmation(ctx, c); err != nil {
		return ledger.DailyConfirmation{}, err
	}
	return c, nil
}

// Status reports the confirmation state; an unseen day reads as unconfirmed.
func (s *service) Status(ctx context.Context, day ledger.Day, userID uuid.UUID) (ledger.DailyConfirmation, error) {
	if day.IsZero() || userID == uuid.Nil {
		return ledger.DailyConfirmation{}, errs.ErrInvalid
	}
	c, ok, err := s.repo.Confirmation(ctx, day, userID)
	if err != nil {
		return ledger.DailyConfirmation{}, err
	}
	if !ok {
		return ledger.DailyConfirmation{Day: day, UserID: userID}, nil
	}
	return c, nil
}

// Report groups entries by (day, channel) with opening and closing terms for
// display. Channels with no entries and a zero opening are skipped.
func (s *service) Report(ctx context.Context, from, to ledger.Day) ([]DaySummary, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, errs.ErrInvalid
	}
	channels, err := s.repo.Channels(ctx)
	if err != nil {
		return nil, err
	}
	var out []DaySummary
	for day := from; !day.After(to); day = day.Next() {
		start, end := day.Bounds(s.loc)
		for _, ch := range channels {
			entries, err := s.repo.EntriesBetween(ctx, start, end, ch.ID, "")
			if err != nil {
				return nil, err
			}
			opening, err := s.ResolveOpening(ctx, day, ch.ID)
			if err != nil {
				return nil, err
			}
			openMinor, _ := opening.Amount.MinorUnits()
			if len(entries) == 0 && openMinor == 0 {
				continue
			}
			var income, expense int64
			for _, e := range entries {
				minor, _ := e.Amount.MinorUnits()
				if e.Direction == ledger.DirectionIncome {
					income += minor
				} else {
					expense += minor
				}
			}
			out = append(out, DaySummary{
				Day:          day,
				Channel:      ch,
				OpeningMinor: openMinor,
				IncomeMinor:  income,
				ExpenseMinor: expense,
				ClosingMinor: openMinor + income - expense,
				EntryCount:   len(entries),
			})
		}
	}
	return out, nil
}
