package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/averlon/posledger/internal/meta"
	"github.com/averlon/posledger/internal/service/posting"
)

func (s *Server) handlePostEntry(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(ctxPostEntry).(postEntryRequest)

	in := posting.Input{
		ChannelID:      req.ChannelID,
		Direction:      req.Direction,
		Source:         req.Source,
		AmountMinor:    req.AmountMinor,
		OccurredAt:     req.OccurredAt,
		RecordedBy:     req.RecordedBy,
		Description:    req.Description,
		Metadata:       meta.Metadata(req.Metadata),
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.DocumentID != nil {
		in.DocumentID = *req.DocumentID
	}

	entry, err := s.poster.Post(r.Context(), in)
	if err != nil {
		s.log.Error("post entry failed", "channel_id", req.ChannelID, "err", err)
		writeServiceErr(w, err)
		return
	}

	entriesPosted.WithLabelValues(string(entry.Source)).Inc()
	toJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.Context().Value(ctxEntriesQuery).(listEntriesQuery)

	entries, err := s.poster.QueryEntries(r.Context(), posting.EntryQuery{
		From:      q.From,
		To:        q.To,
		ChannelID: q.ChannelID,
		Source:    q.Source,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	items := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toEntryResponse(e))
	}
	toJSON(w, http.StatusOK, listEntriesResponse{Items: items})
}

func (s *Server) handleReverseDocument(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(ctxReverse).(reverseDocumentRequest)

	docID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid document id")
		return
	}

	var cancelledAt time.Time
	if req.CancelledAt != nil {
		cancelledAt = *req.CancelledAt
	}

	report, err := s.poster.Reverse(r.Context(), docID, cancelledAt, req.RecordedBy)
	if err != nil {
		s.log.Error("reverse failed", "document_id", docID, "err", err)
		reversalsTotal.WithLabelValues("error").Inc()
		writeServiceErr(w, err)
		return
	}

	resp := reversalResponse{DocumentID: report.DocumentID, Partial: report.Partial()}
	for _, e := range report.Reversed {
		resp.Reversed = append(resp.Reversed, toEntryResponse(e))
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, reversalFailureResponse{
			ChannelID: f.ChannelID,
			EntryID:   f.EntryID,
			Error:     f.Err.Error(),
		})
	}

	status := http.StatusOK
	outcome := "full"
	switch {
	case report.Partial():
		status = http.StatusMultiStatus
		outcome = "partial"
		s.log.Warn("partial reversal", "document_id", docID, "reversed", len(report.Reversed), "failed", len(report.Failed))
	case len(report.Reversed) == 0 && len(report.Failed) > 0:
		status = http.StatusConflict
		outcome = "failed"
	}
	reversalsTotal.WithLabelValues(outcome).Inc()
	toJSON(w, status, resp)
}
