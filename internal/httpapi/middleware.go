package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/averlon/posledger/internal/ledger"
	"github.com/averlon/posledger/internal/slug"
)

// ctxKey namespaces request-scoped values set by validators.
type ctxKey string

const (
	ctxPostEntry    ctxKey = "postEntry"
	ctxPostChannel  ctxKey = "postChannel"
	ctxPutOpening   ctxKey = "putOpening"
	ctxConfirmation ctxKey = "confirmation"
	ctxReverse      ctxKey = "reverse"
	ctxDay          ctxKey = "day"
	ctxChannelID    ctxKey = "channelID"
	ctxEntriesQuery ctxKey = "entriesQuery"
	ctxReportRange  ctxKey = "reportRange"
)

// validatePostEntry parses and validates the posting payload before the
// handler runs. Amount and channel checks that need store state stay in the
// service; this layer rejects what is malformed on its face.
func validatePostEntry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireJSON(w, r) {
			return
		}
		var req postEntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if req.ChannelID == uuid.Nil {
			badRequest(w, "channel_id is required")
			return
		}
		if req.Direction != ledger.DirectionIncome && req.Direction != ledger.DirectionExpense {
			badRequest(w, "direction must be income or expense")
			return
		}
		if !req.Source.Valid() {
			badRequest(w, "unknown source")
			return
		}
		if req.AmountMinor <= 0 {
			unprocessable(w, "amount_minor must be positive", "invalid_amount")
			return
		}
		if req.OccurredAt.IsZero() {
			badRequest(w, "occurred_at is required")
			return
		}
		if req.RecordedBy == uuid.Nil {
			badRequest(w, "recorded_by is required")
			return
		}
		ctx := context.WithValue(r.Context(), ctxPostEntry, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validatePostChannel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireJSON(w, r) {
			return
		}
		var req postChannelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if req.Code == "" {
			req.Code = slug.Slugify(req.Name)
		}
		if !slug.IsSlug(req.Code) {
			badRequest(w, "code must be a lowercase slug")
			return
		}
		if req.Name == "" {
			badRequest(w, "name is required")
			return
		}
		if !req.Kind.Valid() {
			badRequest(w, "kind must be cash, bank or card")
			return
		}
		if len(req.Currency) != 3 {
			badRequest(w, "currency must be a 3-letter ISO code")
			return
		}
		ctx := context.WithValue(r.Context(), ctxPostChannel, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validatePutOpening(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireJSON(w, r) {
			return
		}
		var req putOpeningRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if req.ChannelID == uuid.Nil {
			badRequest(w, "channel_id is required")
			return
		}
		if req.BalanceMinor < 0 {
			unprocessable(w, "balance_minor must not be negative", "invalid_amount")
			return
		}
		ctx := context.WithValue(r.Context(), ctxPutOpening, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateConfirmation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireJSON(w, r) {
			return
		}
		var req postConfirmationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if req.UserID == uuid.Nil {
			badRequest(w, "user_id is required")
			return
		}
		ctx := context.WithValue(r.Context(), ctxConfirmation, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateReverse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireJSON(w, r) {
			return
		}
		var req reverseDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if req.RecordedBy == uuid.Nil {
			badRequest(w, "recorded_by is required")
			return
		}
		ctx := context.WithValue(r.Context(), ctxReverse, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withDay parses the {date} path segment as YYYY-MM-DD.
func withDay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		day, err := ledger.ParseDay(chi.URLParam(r, "date"))
		if err != nil {
			badRequest(w, "date must be YYYY-MM-DD")
			return
		}
		ctx := context.WithValue(r.Context(), ctxDay, day)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withChannelID parses the {id} path segment as a UUID.
func withChannelID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			badRequest(w, "invalid channel id")
			return
		}
		ctx := context.WithValue(r.Context(), ctxChannelID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateListEntries parses ?from=&to=&channel_id=&source= for GET /v1/entries.
// from/to accept RFC 3339 timestamps or plain dates; to as a date is exclusive
// of the following midnight.
func validateListEntries(loc *time.Location) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()

			from, ok := parseTimeParam(q.Get("from"), loc, false)
			if !ok {
				badRequest(w, "from must be RFC 3339 or YYYY-MM-DD")
				return
			}
			to, ok := parseTimeParam(q.Get("to"), loc, true)
			if !ok {
				badRequest(w, "to must be RFC 3339 or YYYY-MM-DD")
				return
			}
			if from.IsZero() || to.IsZero() || to.Before(from) {
				badRequest(w, "from and to are required and must be ordered")
				return
			}

			lq := listEntriesQuery{From: from, To: to}
			if raw := q.Get("channel_id"); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					badRequest(w, "invalid channel_id")
					return
				}
				lq.ChannelID = id
			}
			if raw := q.Get("source"); raw != "" {
				src := ledger.Source(raw)
				if !src.Valid() {
					badRequest(w, "unknown source")
					return
				}
				lq.Source = src
			}
			ctx := context.WithValue(r.Context(), ctxEntriesQuery, lq)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseTimeParam(raw string, loc *time.Location, endOfDay bool) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	day, err := ledger.ParseDay(raw)
	if err != nil {
		return time.Time{}, false
	}
	start, end := day.Bounds(loc)
	if endOfDay {
		return end, true
	}
	return start, true
}

type reportRange struct {
	From ledger.Day
	To   ledger.Day
}

func validateReportRange(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := ledger.ParseDay(q.Get("from"))
		if err != nil {
			badRequest(w, "from must be YYYY-MM-DD")
			return
		}
		to, err := ledger.ParseDay(q.Get("to"))
		if err != nil {
			badRequest(w, "to must be YYYY-MM-DD")
			return
		}
		if to.Before(from) {
			badRequest(w, "to must not precede from")
			return
		}
		ctx := context.WithValue(r.Context(), ctxReportRange, reportRange{From: from, To: to})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
