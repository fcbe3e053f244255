package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/averlon/posledger/internal/ledger"
)

type postEntryRequest struct {
	ChannelID      uuid.UUID         `json:"channel_id"`
	Direction      ledger.Direction  `json:"direction"`
	Source         ledger.Source     `json:"source"`
	DocumentID     *uuid.UUID        `json:"document_id,omitempty"`
	AmountMinor    int64             `json:"amount_minor"`
	OccurredAt     time.Time         `json:"occurred_at"`
	RecordedBy     uuid.UUID         `json:"recorded_by"`
	Description    string            `json:"description"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type entryResponse struct {
	ID          uuid.UUID         `json:"id"`
	ChannelID   uuid.UUID         `json:"channel_id"`
	Direction   ledger.Direction  `json:"direction"`
	Source      ledger.Source     `json:"source"`
	DocumentID  *uuid.UUID        `json:"document_id,omitempty"`
	AmountMinor int64             `json:"amount_minor"`
	Amount      string            `json:"amount"`
	BeforeMinor int64             `json:"before_minor"`
	AfterMinor  int64             `json:"after_minor"`
	OccurredAt  time.Time         `json:"occurred_at"`
	RecordedAt  time.Time         `json:"recorded_at"`
	RecordedBy  uuid.UUID         `json:"recorded_by"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Seq         int64             `json:"seq"`
}

func toEntryResponse(e ledger.Entry) entryResponse {
	amountMinor, _ := e.Amount.MinorUnits()
	beforeMinor, _ := e.Before.MinorUnits()
	afterMinor, _ := e.After.MinorUnits()
	resp := entryResponse{
		ID:          e.ID,
		ChannelID:   e.ChannelID,
		Direction:   e.Direction,
		Source:      e.Source,
		AmountMinor: amountMinor,
		Amount:      e.Amount.String(),
		BeforeMinor: beforeMinor,
		AfterMinor:  afterMinor,
		OccurredAt:  e.OccurredAt,
		RecordedAt:  e.RecordedAt,
		RecordedBy:  e.RecordedBy,
		Description: e.Description,
		Metadata:    e.Metadata,
		Seq:         e.Seq,
	}
	if e.DocumentID != uuid.Nil {
		doc := e.DocumentID
		resp.DocumentID = &doc
	}
	return resp
}

// listEntriesQuery holds validated query params for GET /v1/entries.
type listEntriesQuery struct {
	From      time.Time
	To        time.Time
	ChannelID uuid.UUID
	Source    ledger.Source
}

type listEntriesResponse struct {
	Items []entryResponse `json:"items"`
}

// Channels

type postChannelRequest struct {
	Code     string             `json:"code"`
	Name     string             `json:"name"`
	Kind     ledger.ChannelKind `json:"kind"`
	Currency string             `json:"currency"`
	Metadata map[string]string  `json:"metadata,omitempty"`
}

type channelResponse struct {
	ID       uuid.UUID          `json:"id"`
	Code     string             `json:"code"`
	Name     string             `json:"name"`
	Kind     ledger.ChannelKind `json:"kind"`
	Currency string             `json:"currency"`
	Metadata map[string]string  `json:"metadata,omitempty"`
	Active   bool               `json:"active"`
}

func toChannelResponse(c ledger.Channel) channelResponse {
	return channelResponse{
		ID:       c.ID,
		Code:     c.Code,
		Name:     c.Name,
		Kind:     c.Kind,
		Currency: c.Currency,
		Metadata: c.Metadata,
		Active:   c.Active,
	}
}

type channelBalanceResponse struct {
	ChannelID    uuid.UUID          `json:"channel_id"`
	Code         string             `json:"code"`
	Kind         ledger.ChannelKind `json:"kind"`
	Currency     string             `json:"currency"`
	BalanceMinor int64              `json:"balance_minor"`
	Balance      string             `json:"balance"`
}

// Days

type putOpeningRequest struct {
	ChannelID    uuid.UUID `json:"channel_id"`
	BalanceMinor int64     `json:"balance_minor"`
	Notes        string    `json:"notes,omitempty"`
	RecordedBy   uuid.UUID `json:"recorded_by"`
}

type openingResponse struct {
	Day              ledger.Day           `json:"day"`
	ChannelID        uuid.UUID            `json:"channel_id"`
	AmountMinor      int64                `json:"amount_minor"`
	Amount           string               `json:"amount"`
	Origin           ledger.OpeningOrigin `json:"origin"`
	Depth            int                  `json:"depth"`
	LookbackExceeded bool                 `json:"lookback_exceeded"`
}

type closingResponse struct {
	Day        ledger.Day               `json:"day"`
	Cash       []channelBalanceResponse `json:"cash"`
	Banks      []channelBalanceResponse `json:"banks"`
	Cards      []channelBalanceResponse `json:"cards,omitempty"`
	TotalMinor int64                    `json:"total_minor"`
	ComputedAt time.Time                `json:"computed_at"`
}

func toClosingResponse(snap ledger.ClosingSnapshot) closingResponse {
	conv := func(in []ledger.ChannelBalance) []channelBalanceResponse {
		out := make([]channelBalanceResponse, 0, len(in))
		for _, cb := range in {
			minor, _ := cb.Balance.MinorUnits()
			out = append(out, channelBalanceResponse{
				ChannelID:    cb.Channel.ID,
				Code:         cb.Channel.Code,
				Kind:         cb.Channel.Kind,
				Currency:     cb.Channel.Currency,
				BalanceMinor: minor,
				Balance:      cb.Balance.String(),
			})
		}
		return out
	}
	return closingResponse{
		Day:        snap.Day,
		Cash:       conv(snap.Cash),
		Banks:      conv(snap.Banks),
		Cards:      conv(snap.Cards),
		TotalMinor: snap.TotalMinor,
		ComputedAt: snap.ComputedAt,
	}
}

// Confirmations

type postConfirmationRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type confirmationResponse struct {
	Day         ledger.Day `json:"day"`
	UserID      uuid.UUID  `json:"user_id"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

func toConfirmationResponse(c ledger.DailyConfirmation) confirmationResponse {
	resp := confirmationResponse{Day: c.Day, UserID: c.UserID, Confirmed: c.Confirmed}
	if c.Confirmed {
		at := c.ConfirmedAt
		resp.ConfirmedAt = &at
	}
	return resp
}

// Reversals

type reverseDocumentRequest struct {
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RecordedBy  uuid.UUID  `json:"recorded_by"`
}

type reversalFailureResponse struct {
	ChannelID uuid.UUID `json:"channel_id"`
	EntryID   uuid.UUID `json:"entry_id"`
	Error     string    `json:"error"`
}

type reversalResponse struct {
	DocumentID uuid.UUID                 `json:"document_id"`
	Reversed   []entryResponse           `json:"reversed"`
	Failed     []reversalFailureResponse `json:"failed,omitempty"`
	Partial    bool                      `json:"partial"`
}

// Reports

type daySummaryResponse struct {
	Day          ledger.Day         `json:"day"`
	ChannelID    uuid.UUID          `json:"channel_id"`
	Code         string             `json:"code"`
	Kind         ledger.ChannelKind `json:"kind"`
	OpeningMinor int64              `json:"opening_minor"`
	IncomeMinor  int64              `json:"income_minor"`
	ExpenseMinor int64              `json:"expense_minor"`
	ClosingMinor int64              `json:"closing_minor"`
	EntryCount   int                `json:"entry_count"`
}
