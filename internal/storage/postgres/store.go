package postgres

// Package postgres provides a pgx-backed storage implementation that satisfies
// the repository and writer interfaces used by the services and the HTTP API.
//
// It is intentionally small and explicit. Migrations that create the expected
// schema live under db/migrations. Posting serializes per channel with a row
// lock on the channel and a local lock_timeout, mapped to
// errs.ErrConcurrentModification when the wait elapses.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averlon/posledger/internal/errs"
	"github.com/averlon/posledger/internal/ledger"
	"github.com/averlon/posledger/internal/meta"
	"github.com/averlon/posledger/internal/service/posting"
)

const nilUUID = "00000000-0000-0000-0000-000000000000"

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, lockWait: 800 * time.Millisecond}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// SetLockWait overrides the bounded wait on the per-channel lock.
func (s *Store) SetLockWait(d time.Duration) { s.lockWait = d }

// SeedDev inserts a cash drawer and two bank channels for quick local testing,
// returning them with a generated operator id.
func (s *Store) SeedDev(ctx context.Context) (uuid.UUID, []ledger.Channel, error) {
	chans := []ledger.Channel{
		{ID: uuid.New(), Code: "cash", Name: "Cash Drawer", Kind: ledger.KindCash, Currency: "USD", Active: true},
		{ID: uuid.New(), Code: "bank_main", Name: "Main Bank", Kind: ledger.KindBank, Currency: "USD", Active: true},
		{ID: uuid.New(), Code: "bank_savings", Name: "Savings", Kind: ledger.KindBank, Currency: "USD", Active: true},
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, c := range chans {
		md, _ := c.Metadata.MarshalStableJSON()
		if _, err := tx.Exec(ctx, `
			insert into channels (id, code, name, kind, currency, metadata, active)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, c.ID, c.Code, c.Name, c.Kind, strings.ToUpper(c.Currency), md, c.Active); err != nil {
			return uuid.Nil, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.New(), chans, nil
}

// --- Channel reads/writes ---

func (s *Store) ChannelByID(ctx context.Context, id uuid.UUID) (ledger.Channel, error) {
	var c ledger.Channel
	var mdBytes []byte
	err := s.pool.QueryRow(ctx, `
		select id, code, name, kind, currency, metadata, active
		from channels
		where id = $1
	`, id).Scan(&c.ID, &c.Code, &c.Name, &c.Kind, &c.Currency, &mdBytes, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Channel{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.Channel{}, err
	}
	if len(mdBytes) > 0 {
		var m meta.Metadata
		if err := m.UnmarshalJSON(mdBytes); err == nil {
			c.Metadata = m
		}
	}
	return c, nil
}

func (s *Store) Channels(ctx context.Context) ([]ledger.Channel, error) {
	rows, err := s.pool.Query(ctx, `
		select id, code, name, kind, currency, metadata, active
		from channels
		order by code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Channel, 0)
	for rows.Next() {
		var c ledger.Channel
		var mdBytes []byte
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Kind, &c.Currency, &mdBytes, &c.Active); err != nil {
			return nil, err
		}
		if len(mdBytes) > 0 {
			var m meta.Metadata
			if err := m.UnmarshalJSON(mdBytes); err == nil {
				c.Metadata = m
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateChannel(ctx context.Context, c ledger.Channel) (ledger.Channel, error) {
	if err := c.Metadata.Validate(); err != nil {
		return ledger.Channel{}, err
	}
	md, _ := c.Metadata.MarshalStableJSON()
	_, err := s.pool.Exec(ctx, `
		insert into channels (id, code, name, kind, currency, metadata, active)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.Code, c.Name, c.Kind, strings.ToUpper(c.Currency), md, c.Active)
	if isUniqueViolation(err) {
		return ledger.Channel{}, errs.ErrInvalid
	}
	if err != nil {
		return ledger.Channel{}, err
	}
	return c, nil
}

func (s *Store) UpdateChannel(ctx context.Context, c ledger.Channel) (ledger.Channel, error) {
	if err := c.Metadata.Validate(); err != nil {
		return ledger.Channel{}, err
	}
	md, _ := c.Metadata.MarshalStableJSON()
	ct, err := s.pool.Exec(ctx, `
		update channels
		set name=$1, metadata=$2, active=$3
		where id=$4
	`, c.Name, md, c.Active, c.ID)
	if err != nil {
		return ledger.Channel{}, err
	}
	if ct.RowsAffected() == 0 {
		return ledger.Channel{}, errs.ErrNotFound
	}
	return c, nil
}

// --- Entry reads ---

const entryColumns = `
	id, seq, channel_id, direction, source,
	coalesce(document_id, '` + nilUUID + `'::uuid),
	currency, amount_minor, before_minor, after_minor,
	occurred_at, recorded_at, recorded_by, description, metadata, idem_key
`

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var e ledger.Entry
	var currency string
	var amountMinor, beforeMinor, afterMinor int64
	var mdBytes []byte
	if err := row.Scan(&e.ID, &e.Seq, &e.ChannelID, &e.Direction, &e.Source, &e.DocumentID,
		&currency, &amountMinor, &beforeMinor, &afterMinor,
		&e.OccurredAt, &e.RecordedAt, &e.RecordedBy, &e.Description, &mdBytes, &e.IdempotencyKey); err != nil {
		return ledger.Entry{}, err
	}
	var err error
	if e.Amount, err = money.NewAmountFromMinorUnits(currency, amountMinor); err != nil {
		return ledger.Entry{}, err
	}
	if e.Before, err = money.NewAmountFromMinorUnits(currency, beforeMinor); err != nil {
		return ledger.Entry{}, err
	}
	if e.After, err = money.NewAmountFromMinorUnits(currency, afterMinor); err != nil {
		return ledger.Entry{}, err
	}
	if len(mdBytes) > 0 {
		var m meta.Metadata
		if err := m.UnmarshalJSON(mdBytes); err == nil {
			e.Metadata = m
		}
	}
	return e, nil
}

func (s *Store) LatestEntryByChannel(ctx context.Context, channelID uuid.UUID) (ledger.Entry, bool, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `
		select `+entryColumns+`
		from entries
		where channel_id = $1
		order by seq desc
		limit 1
	`, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

func (s *Store) EntriesByDocument(ctx context.Context, documentID uuid.UUID) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		select `+entryColumns+`
		from entries
		where document_id = $1
		order by seq asc
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *Store) EntriesByChannel(ctx context.Context, channelID uuid.UUID) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		select `+entryColumns+`
		from entries
		where channel_id = $1
		order by seq asc
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *Store) EntryByIdempotencyKey(ctx context.Context, channelID uuid.UUID, key string) (ledger.Entry, bool, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `
		select `+entryColumns+`
		from entries
		where channel_id = $1 and idem_key = $2
	`, channelID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

// EntriesBetween returns entries with occurred_at in [from, to) ordered asc by
// (occurred_at, seq). Nil channelID matches all channels; empty source all
// sources.
func (s *Store) EntriesBetween(ctx context.Context, from, to time.Time, channelID uuid.UUID, source ledger.Source) ([]ledger.Entry, error) {
	q := `select ` + entryColumns + ` from entries where occurred_at >= $1 and occurred_at < $2`
	args := []any{from, to}
	if channelID != uuid.Nil {
		args = append(args, channelID)
		q += fmt.Sprintf(" and channel_id = $%d", len(args))
	}
	if source != "" {
		args = append(args, source)
		q += fmt.Sprintf(" and source = $%d", len(args))
	}
	q += " order by occurred_at asc, seq asc"
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	out := make([]ledger.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Posting write path ---

// BeginChannelTx opens a transaction that locks the channel row, serializing
// posts per channel. Contention past lock_timeout maps to
// ErrConcurrentModification so the caller can retry the business operation.
func (s *Store) BeginChannelTx(ctx context.Context, channelID uuid.UUID) (posting.ChannelTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("set local lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	var id uuid.UUID
	err = tx.QueryRow(ctx, `select id from channels where id = $1 for update`, channelID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return nil, errs.ErrUnknownChannel
	}
	if isLockTimeout(err) {
		_ = tx.Rollback(ctx)
		return nil, errs.ErrConcurrentModification
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return &channelTx{tx: tx, channelID: channelID}, nil
}

type channelTx struct {
	tx        pgx.Tx
	channelID uuid.UUID
}

func (t *channelTx) LatestEntry(ctx context.Context) (ledger.Entry, bool, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx, `
		select `+entryColumns+`
		from entries
		where channel_id = $1
		order by seq desc
		limit 1
	`, t.channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

func (t *channelTx) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	md, _ := e.Metadata.MarshalStableJSON()
	var doc any
	if e.DocumentID != uuid.Nil {
		doc = e.DocumentID
	}
	amountMinor, _ := e.Amount.MinorUnits()
	beforeMinor, _ := e.Before.MinorUnits()
	afterMinor, _ := e.After.MinorUnits()
	err := t.tx.QueryRow(ctx, `
		insert into entries (id, channel_id, direction, source, document_id, currency,
			amount_minor, before_minor, after_minor, occurred_at, recorded_at,
			recorded_by, description, metadata, idem_key)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		on conflict (channel_id, idem_key) where idem_key <> '' do nothing
		returning seq
	`, e.ID, e.ChannelID, e.Direction, e.Source, doc, e.Amount.Curr().Code(),
		amountMinor, beforeMinor, afterMinor, e.OccurredAt, e.RecordedAt,
		e.RecordedBy, e.Description, md, e.IdempotencyKey).Scan(&e.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		// Idempotent replay: the key is already bound to an entry.
		prev, perr := scanEntry(t.tx.QueryRow(ctx, `
			select `+entryColumns+`
			from entries
			where channel_id = $1 and idem_key = $2
		`, e.ChannelID, e.IdempotencyKey))
		if perr != nil {
			return ledger.Entry{}, perr
		}
		return prev, nil
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (t *channelTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *channelTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// --- Snapshots ---

func (s *Store) OpeningBalance(ctx context.Context, day ledger.Day, channelID uuid.UUID) (ledger.OpeningBalance, bool, error) {
	var balanceMinor int64
	var currency string
	ob := ledger.OpeningBalance{Day: day, ChannelID: channelID}
	err := s.pool.QueryRow(ctx, `
		select o.balance_minor, c.currency, o.notes, o.recorded_by
		from opening_balances o
		join channels c on c.id = o.channel_id
		where o.day = $1 and o.channel_id = $2
	`, day.Time(), channelID).Scan(&balanceMinor, &currency, &ob.Notes, &ob.RecordedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.OpeningBalance{}, false, nil
	}
	if err != nil {
		return ledger.OpeningBalance{}, false, err
	}
	if ob.Balance, err = money.NewAmountFromMinorUnits(currency, balanceMinor); err != nil {
		return ledger.OpeningBalance{}, false, err
	}
	return ob, true, nil
}

func (s *Store) UpsertOpeningBalance(ctx context.Context, ob ledger.OpeningBalance) error {
	minor, _ := ob.Balance.MinorUnits()
	_, err := s.pool.Exec(ctx, `
		insert into opening_balances (day, channel_id, balance_minor, notes, recorded_by)
		values ($1,$2,$3,$4,$5)
		on conflict (day, channel_id) do update
		set balance_minor = excluded.balance_minor,
		    notes = excluded.notes,
		    recorded_by = excluded.recorded_by
	`, ob.Day.Time(), ob.ChannelID, minor, ob.Notes, ob.RecordedBy)
	return err
}

func (s *Store) ClosingBalance(ctx context.Context, day ledger.Day, channelID uuid.UUID) (ledger.ClosingBalance, bool, error) {
	var balanceMinor int64
	var currency string
	cb := ledger.ClosingBalance{Day: day, ChannelID: channelID}
	err := s.pool.QueryRow(ctx, `
		select cb.balance_minor, c.currency, cb.computed_at
		from closing_balances cb
		join channels c on c.id = cb.channel_id
		where cb.day = $1 and cb.channel_id = $2
	`, day.Time(), channelID).Scan(&balanceMinor, &currency, &cb.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ClosingBalance{}, false, nil
	}
	if err != nil {
		return ledger.ClosingBalance{}, false, err
	}
	if cb.Balance, err = money.NewAmountFromMinorUnits(currency, balanceMinor); err != nil {
		return ledger.ClosingBalance{}, false, err
	}
	return cb, true, nil
}

func (s *Store) ClosingBalances(ctx context.Context, day ledger.Day) ([]ledger.ClosingBalance, error) {
	rows, err := s.pool.Query(ctx, `
		select cb.channel_id, cb.balance_minor, c.currency, cb.computed_at
		from closing_balances cb
		join channels c on c.id = cb.channel_id
		where cb.day = $1
		order by c.code
	`, day.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.ClosingBalance, 0)
	for rows.Next() {
		cb := ledger.ClosingBalance{Day: day}
		var balanceMinor int64
		var currency string
		if err := rows.Scan(&cb.ChannelID, &balanceMinor, &currency, &cb.ComputedAt); err != nil {
			return nil, err
		}
		if cb.Balance, err = money.NewAmountFromMinorUnits(currency, balanceMinor); err != nil {
			return nil, err
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}

// ReplaceClosingBalances swaps the day's whole closing set in one transaction.
func (s *Store) ReplaceClosingBalances(ctx context.Context, day ledger.Day, rowsIn []ledger.ClosingBalance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `delete from closing_balances where day = $1`, day.Time()); err != nil {
		return err
	}
	for _, cb := range rowsIn {
		minor, _ := cb.Balance.MinorUnits()
		if _, err := tx.Exec(ctx, `
			insert into closing_balances (day, channel_id, balance_minor, computed_at)
			values ($1,$2,$3,$4)
		`, day.Time(), cb.ChannelID, minor, cb.ComputedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// --- Confirmations ---

func (s *Store) Confirmation(ctx context.Context, day ledger.Day, userID uuid.UUID) (ledger.DailyConfirmation, bool, error) {
	c := ledger.DailyConfirmation{Day: day, UserID: userID, Confirmed: true}
	err := s.pool.QueryRow(ctx, `
		select confirmed_at from daily_confirmations
		where day = $1 and user_id = $2
	`, day.Time(), userID).Scan(&c.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.DailyConfirmation{}, false, nil
	}
	if err != nil {
		return ledger.DailyConfirmation{}, false, err
	}
	return c, true, nil
}

func (s *Store) SaveConfirmation(ctx context.Context, c ledger.DailyConfirmation) error {
	_, err := s.pool.Exec(ctx, `
		insert into daily_confirmations (day, user_id, confirmed_at)
		values ($1,$2,$3)
		on conflict (day, user_id) do nothing
	`, c.Day.Time(), c.UserID, c.ConfirmedAt)
	return err
}

// --- pg error helpers ---

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
