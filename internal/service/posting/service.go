package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/averlon/posledger/internal/errs"
	"github.com/averlon/posledger/internal/ledger"
	"github.com/averlon/posledger/internal/meta"
)

// Repo defines read operations needed by the service.
type Repo interface {
	ChannelByID(ctx context.Context, id uuid.UUID) (ledger.Channel, error)
	LatestEntryByChannel(ctx context.Context, channelID uuid.UUID) (ledger.Entry, bool, error)
	EntriesByDocument(ctx context.Context, documentID uuid.UUID) ([]ledger.Entry, error)
	EntryByIdempotencyKey(ctx context.Context, channelID uuid.UUID, key string) (ledger.Entry, bool, error)
	EntriesBetween(ctx context.Context, from, to time.Time, channelID uuid.UUID, source ledger.Source) ([]ledger.Entry, error)
}

// Writer defines the write path. BeginChannelTx serializes against other
// writers of the same channel and fails with ErrConcurrentModification when
// the bounded wait elapses. Posts to different channels proceed in parallel.
type Writer interface {
	BeginChannelTx(ctx context.Context, channelID uuid.UUID) (ChannelTx, error)
}

// ChannelTx is a lock scope over a single channel's balance chain. The read of
// the latest entry and the append happen atomically with respect to other
// posts on the channel.
type ChannelTx interface {
	// LatestEntry returns the most recently appended entry for the locked
	// channel, in insertion order.
	LatestEntry(ctx context.Context) (ledger.Entry, bool, error)
	// AppendEntry persists the entry and assigns its sequence. If the entry
	// carries an idempotency key already present for the channel, the
	// previously stored entry is returned instead.
	AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// OpeningResolver supplies the resolved opening balance used as the base when
// a channel has no entries yet.
type OpeningResolver interface {
	ResolveOpening(ctx context.Context, day ledger.Day, channelID uuid.UUID) (ledger.OpeningResolution, error)
}

// Input carries one channel-affecting event into the poster.
type Input struct {
	ChannelID   uuid.UUID
	Direction   ledger.Direction
	Source      ledger.Source
	DocumentID  uuid.UUID // Nil for pure corrections
	AmountMinor int64
	OccurredAt  time.Time
	RecordedBy  uuid.UUID
	Description string
	Metadata    meta.Metadata
	// IdempotencyKey, when set, makes replays of the same logical payment
	// event return the original entry without posting.
	IdempotencyKey string
}

// ChannelFailure reports one channel of a reversal that could not be posted.
type ChannelFailure struct {
	ChannelID uuid.UUID
	EntryID   uuid.UUID
	Err       error
}

// ReversalReport is the structured outcome of reversing a document. A partial
// result is not an error; the caller decides whether to retry failed channels.
type ReversalReport struct {
	DocumentID uuid.UUID
	Reversed   []ledger.Entry
	Failed     []ChannelFailure
}

// Partial reports whether some, but not all, channels were reversed.
func (r ReversalReport) Partial() bool {
	return len(r.Failed) > 0 && len(r.Reversed) > 0
}

// Service is the single write path of the ledger plus its read helpers.
type Service interface {
	Post(ctx context.Context, in Input) (ledger.Entry, error)
	Reverse(ctx context.Context, documentID uuid.UUID, cancelledAt time.Time, recordedBy uuid.UUID) (ReversalReport, error)
	CurrentBalance(ctx context.Context, channelID uuid.UUID) (money.Amount, error)
	QueryEntries(ctx context.Context, q EntryQuery) ([]ledger.Entry, error)
}

// EntryQuery filters the ordered entry list for reporting consumers.
type EntryQuery struct {
	From      time.Time
	To        time.Time
	ChannelID uuid.UUID     // Nil matches all channels
	Source    ledger.Source // empty matches all sources
}

type service struct {
	repo     Repo
	writer   Writer
	openings OpeningResolver
	loc      *time.Location
}

func New(repo Repo, writer Writer, openings OpeningResolver, loc *time.Location) Service {
	if loc == nil {
		loc = time.UTC
	}
	return &service{repo: repo, writer: writer, openings: openings, loc: loc}
}

// Post records one balance-affecting event, capturing the channel balance
// before and after inside the channel's lock scope. It is the only component
// allowed to move a channel's balance.
func (s *service) Post(ctx context.Context, in Input) (ledger.Entry, error) {
	if in.AmountMinor <= 0 {
		return ledger.Entry{}, errs.ErrInvalidAmount
	}
	if in.ChannelID == uuid.Nil || in.OccurredAt.IsZero() {
		return ledger.Entry{}, errs.ErrInvalid
	}
	if in.Direction != ledger.DirectionIncome && in.Direction != ledger.DirectionExpense {
		return ledger.Entry{}, errs.ErrInvalid
	}
	if !in.Source.Valid() {
		return ledger.Entry{}, errs.ErrInvalid
	}
	if err := in.Metadata.Validate(); err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}

	ch, err := s.repo.ChannelByID(ctx, in.ChannelID)
	if errors.Is(err, errs.ErrNotFound) {
		return ledger.Entry{}, errs.ErrUnknownChannel
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	if !ch.Active {
		return ledger.Entry{}, errs.ErrUnknownChannel
	}

	// Fast replay path; the store re-checks under the lock.
	if in.IdempotencyKey != "" {
		if prev, ok, err := s.repo.EntryByIdempotencyKey(ctx, ch.ID, in.IdempotencyKey); err != nil {
			return ledger.Entry{}, err
		} else if ok {
			return prev, nil
		}
	}

	amount, err := money.NewAmountFromMinorUnits(ch.Currency, in.AmountMinor)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: %v", errs.ErrInvalidAmount, err)
	}

	tx, err := s.writer.BeginChannelTx(ctx, ch.ID)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := s.baseBalance(ctx, tx, ch, in.OccurredAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	after, err := in.Direction.Apply(before, amount)
	if err != nil {
		return ledger.Entry{}, err
	}

	e := ledger.Entry{
		ID:             uuid.New(),
		ChannelID:      ch.ID,
		Direction:      in.Direction,
		Source:         in.Source,
		DocumentID:     in.DocumentID,
		Amount:         amount,
		Before:         before,
		After:          after,
		OccurredAt:     in.OccurredAt,
		RecordedAt:     time.Now().UTC(),
		RecordedBy:     in.RecordedBy,
		Description:    in.Description,
		Metadata:       in.Metadata.Clone(),
		IdempotencyKey: in.IdempotencyKey,
	}
	saved, err := tx.AppendEntry(ctx, e)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Entry{}, err
	}
	return saved, nil
}

// baseBalance resolves the channel's current balance as of now: the latest
// appended entry's after-balance, or the resolved opening for the entry's own
// day when the channel has no entries yet.
func (s *service) baseBalance(ctx context.Context, tx ChannelTx, ch ledger.Channel, occurredAt time.Time) (money.Amount, error) {
	latest, ok, err := tx.LatestEntry(ctx)
	if err != nil {
		return money.Amount{}, err
	}
	if ok {
		return latest.After, nil
	}
	res, err := s.openings.ResolveOpening(ctx, ledger.DayOf(occurredAt, s.loc), ch.ID)
	if err != nil {
		return money.Amount{}, err
	}
	return res.Amount, nil
}

// Reverse posts compensating entries for every not-yet-reversed payment-type
// entry of the document. Channels are reversed independently: a failure on one
// does not abort the rest, it is reported in the result. Each compensating
// entry carries a deterministic idempotency key derived from the original
// entry, so racing reversals of the same document collapse to one refund.
func (s *service) Reverse(ctx context.Context, documentID uuid.UUID, cancelledAt time.Time, recordedBy uuid.UUID) (ReversalReport, error) {
	report := ReversalReport{DocumentID: documentID}
	if documentID == uuid.Nil {
		return report, errs.ErrInvalid
	}
	if cancelledAt.IsZero() {
		cancelledAt = time.Now().UTC()
	}

	entries, err := s.repo.EntriesByDocument(ctx, documentID)
	if err != nil {
		return report, err
	}
	if len(entries) == 0 {
		return report, errs.ErrNotFound
	}

	// Count prior refunds per channel so a split payment reversed for one
	// channel is not reversed there again.
	refunds := make(map[uuid.UUID]int)
	payments := make(map[uuid.UUID][]ledger.Entry)
	for _, e := range entries {
		if e.Source.IsRefund() {
			refunds[e.ChannelID]++
			continue
		}
		if _, ok := ledger.RefundOf(e.Source); ok {
			payments[e.ChannelID] = append(payments[e.ChannelID], e)
		}
	}

	var pending []ledger.Entry
	for chID, ps := range payments {
		skip := refunds[chID]
		if skip > len(ps) {
			skip = len(ps)
		}
		pending = append(pending, ps[skip:]...)
	}
	if len(payments) == 0 {
		return report, errs.ErrNotFound
	}
	if len(pending) == 0 {
		return report, errs.ErrAlreadyReversed
	}

	for _, orig := range pending {
		refundSrc, _ := ledger.RefundOf(orig.Source)
		minor, _ := orig.Amount.MinorUnits()
		posted, err := s.Post(ctx, Input{
			ChannelID:      orig.ChannelID,
			Direction:      orig.Direction.Opposite(),
			Source:         refundSrc,
			DocumentID:     documentID,
			AmountMinor:    minor,
			OccurredAt:     cancelledAt,
			RecordedBy:     recordedBy,
			Description:    "reversal of entry " + orig.ID.String(),
			IdempotencyKey: "reversal:" + orig.ID.String(),
		})
		if err != nil {
			report.Failed = append(report.Failed, ChannelFailure{ChannelID: orig.ChannelID, EntryID: orig.ID, Err: err})
			continue
		}
		report.Reversed = append(report.Reversed, posted)
	}
	return report, nil
}

// CurrentBalance is the derived running balance: the latest entry's
// after-balance, or the resolved opening for today when no entries exist.
func (s *service) CurrentBalance(ctx context.Context, channelID uuid.UUID) (money.Amount, error) {
	ch, err := s.repo.ChannelByID(ctx, channelID)
	if errors.Is(err, errs.ErrNotFound) {
		return money.Amount{}, errs.ErrUnknownChannel
	}
	if err != nil {
		return money.Amount{}, err
	}
	latest, ok, err := s.repo.LatestEntryByChannel(ctx, ch.ID)
	if err != nil {
		return money.Amount{}, err
	}
	if ok {
		return latest.After, nil
	}
	res, err := s.openings.ResolveOpening(ctx, ledger.DayOf(time.Now(), s.loc), ch.ID)
	if err != nil {
		return money.Amount{}, err
	}
	return res.Amount, nil
}

// QueryEntries returns entries in (occurredAt, seq) order for the reporting
// aggregator.
func (s *service) QueryEntries(ctx context.Context, q EntryQuery) ([]ledger.Entry, error) {
	if q.From.IsZero() || q.To.IsZero() || q.To.Before(q.From) {
		return nil, errs.ErrInvalid
	}
	if q.Source != "" && !q.Source.Valid() {
		return nil, errs.ErrInvalid
	}
	return s.repo.EntriesBetween(ctx, q.From, q.To, q.ChannelID, q.Source)
}
