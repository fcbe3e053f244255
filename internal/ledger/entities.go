package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/averlon/posledger/internal/meta"
)

// ChannelKind classifies where money lives.
type ChannelKind string

const (
	// KindCash is the single physical cash drawer.
	KindCash ChannelKind = "cash"
	// KindBank is a specific bank account.
	KindBank ChannelKind = "bank"
	// KindCard is a legacy card-settlement channel kept for old snapshots.
	KindCard ChannelKind = "card"
)

// Valid reports whether k is one of the known channel kinds.
func (k ChannelKind) Valid() bool {
	switch k {
	case KindCash, KindBank, KindCard:
		return true
	}
	return false
}

// Direction is the effect of an entry on its channel balance.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// Opposite returns the inverting direction, used by reversals.
func (d Direction) Opposite() Direction {
	if d == DirectionIncome {
		return DirectionExpense
	}
	return DirectionIncome
}

// Apply folds a non-negative amount into a balance per the direction.
func (d Direction) Apply(balance, amount money.Amount) (money.Amount, error) {
	if d == DirectionIncome {
		return balance.Add(amount)
	}
	return balance.Sub(amount)
}

// Source enumerates the closed set of entry origins. Presentation labels live
// in internal/dictionary, not here.
type Source string

const (
	SourceSale             Source = "sale"
	SourceSaleRefund       Source = "sale_refund"
	SourcePurchasePayment  Source = "purchase_payment"
	SourcePurchaseRefund   Source = "purchase_refund"
	SourceExpense          Source = "expense"
	SourceOpeningAddition  Source = "opening_balance_addition"
	SourceOpeningDeduction Source = "opening_balance_deduction"
	SourceManualAdd        Source = "manual_add"
)

// Sources lists every valid source in a stable order.
func Sources() []Source {
	return []Source{
		SourceSale, SourceSaleRefund, SourcePurchasePayment, SourcePurchaseRefund,
		SourceExpense, SourceOpeningAddition, SourceOpeningDeduction, SourceManualAdd,
	}
}

// Valid reports whether s is one of the closed enumeration.
func (s Source) Valid() bool {
	for _, k := range Sources() {
		if s == k {
			return true
		}
	}
	return false
}

// refundOf maps a payment-type source to its compensating refund source.
// Only document payments are reversible; refunds and manual corrections are not.
var refundOf = map[Source]Source{
	SourceSale:            SourceSaleRefund,
	SourcePurchasePayment: SourcePurchaseRefund,
}

// RefundOf returns the refund source for a payment-type source.
func RefundOf(s Source) (Source, bool) { r, ok := refundOf[s]; return r, ok }

// IsRefund reports whether s is a compensating refund source.
func (s Source) IsRefund() bool {
	return s == SourceSaleRefund || s == SourcePurchaseRefund
}

// Channel is a cash or bank balance line tracked independently. Channels are
// referenced by the ledger, never created as a side effect of posting.
type Channel struct {
	ID       uuid.UUID
	Code     string // slug, e.g. "cash", "bca_main"
	Name     string
	Kind     ChannelKind
	Currency string
	Metadata meta.Metadata `json:"metadata,omitempty"`
	// Active indicates the channel accepts postings (soft-delete when false).
	Active bool
}

// Entry is one immutable balance-affecting event with its before/after balance
// captured at post time. Reversals add new entries; nothing mutates an entry.
type Entry struct {
	ID        uuid.UUID
	ChannelID uuid.UUID
	Direction Direction
	Source    Source
	// DocumentID links back to the originating sale/purchase/expense record.
	// Nil for pure corrections.
	DocumentID uuid.UUID
	Amount     money.Amount
	// Before and After are the channel balance immediately around this entry,
	// captured inside the same lock scope as the write.
	Before money.Amount
	After  money.Amount
	// OccurredAt buckets the entry into a day and orders it chronologically.
	// It is distinct from RecordedAt: a payment may be logged late.
	OccurredAt time.Time
	RecordedAt time.Time
	RecordedBy uuid.UUID
	Description string
	Metadata    meta.Metadata `json:"metadata,omitempty"`
	// Seq is a store-assigned monotonic sequence breaking OccurredAt ties.
	Seq int64
	// IdempotencyKey is the optional caller-supplied replay guard, scoped per channel.
	IdempotencyKey string
}

// OpeningBalance is an operator-stored snapshot for (day, channel). When
// present it is authoritative; the resolver never merges it with computed
// values.
type OpeningBalance struct {
	Day        Day
	ChannelID  uuid.UUID
	Balance    money.Amount
	Notes      string
	RecordedBy uuid.UUID
}

// ClosingBalance is the derived end-of-day balance for (day, channel),
// replaced in full on recomputation.
type ClosingBalance struct {
	Day        Day
	ChannelID  uuid.UUID
	Balance    money.Amount
	ComputedAt time.Time
}

// ChannelBalance pairs a channel with a balance inside aggregate snapshots.
type ChannelBalance struct {
	Channel Channel
	Balance money.Amount
}

// ClosingSnapshot groups a day's closing balances per channel kind.
// TotalMinor sums minor units across channels; it is meaningful when every
// channel shares one currency, which is how retail deployments run.
type ClosingSnapshot struct {
	Day        Day
	Cash       []ChannelBalance
	Banks      []ChannelBalance
	Cards      []ChannelBalance
	TotalMinor int64
	ComputedAt time.Time
}

// OpeningOrigin says how an opening balance was resolved.
type OpeningOrigin string

const (
	// OriginSnapshot means an operator-stored snapshot existed for the day.
	OriginSnapshot OpeningOrigin = "snapshot"
	// OriginCarried means a prior day's closing balance was carried forward.
	OriginCarried OpeningOrigin = "carried"
	// OriginZero means the lookback bound was hit with no data.
	OriginZero OpeningOrigin = "zero"
)

// OpeningResolution is the resolver's answer for (day, channel).
type OpeningResolution struct {
	Day       Day
	ChannelID uuid.UUID
	Amount    money.Amount
	Origin    OpeningOrigin
	// Depth counts the days walked back to find a snapshot or closing.
	Depth int
	// LookbackExceeded flags that the bound was hit; the amount is still a
	// usable zero, callers surface the flag to operators.
	LookbackExceeded bool
}

// DailyConfirmation is the advisory per-(day, user) reviewed flag. It never
// reverts and never blocks posting.
type DailyConfirmation struct {
	Day         Day
	UserID      uuid.UUID
	Confirmed   bool
	ConfirmedAt time.Time
}

// ZeroAmount returns a zero balance in the given currency.
func ZeroAmount(currency string) (money.Amount, error) {
	return money.NewAmountFromMinorUnits(currency, 0)
}
