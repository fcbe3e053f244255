package httpapi

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/averlon/posledger/internal/errs"
	"github.com/averlon/posledger/internal/ledger"
)

func (s *Server) handleGetOpening(w http.ResponseWriter, r *http.Request) {
	day := r.Context().Value(ctxDay).(ledger.Day)
	channelID, err := uuid.Parse(r.URL.Query().Get("channel_id"))
	if err != nil {
		badRequest(w, "channel_id query param is required")
		return
	}

	res, err := s.days.ResolveOpening(r.Context(), day, channelID)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	minor, _ := res.Amount.MinorUnits()
	toJSON(w, http.StatusOK, openingResponse{
		Day:              res.Day,
		ChannelID:        res.ChannelID,
		AmountMinor:      minor,
		Amount:           res.Amount.String(),
		Origin:           res.Origin,
		Depth:            res.Depth,
		LookbackExceeded: res.LookbackExceeded,
	})
}

func (s *Server) handlePutOpening(w http.ResponseWriter, r *http.Request) {
	day := r.Context().Value(ctxDay).(ledger.Day)
	req := r.Context().Value(ctxPutOpening).(putOpeningRequest)

	ch, err := s.channels.ChannelByID(r.Context(), req.ChannelID)
	if errors.Is(err, errs.ErrNotFound) {
		writeServiceErr(w, errs.ErrUnknownChannel)
		return
	}
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	balance, err := money.NewAmountFromMinorUnits(ch.Currency, req.BalanceMinor)
	if err != nil {
		unprocessable(w, err.Error(), "invalid_amount")
		return
	}

	ob := ledger.OpeningBalance{
		Day:        day,
		ChannelID:  req.ChannelID,
		Balance:    balance,
		Notes:      req.Notes,
		RecordedBy: req.RecordedBy,
	}
	if err := s.days.SetOpening(r.Context(), ob); err != nil {
		writeServiceErr(w, err)
		return
	}
	s.log.Info("opening balance set", "day", day.String(), "channel_id", req.ChannelID, "balance_minor", req.BalanceMinor)

	minor, _ := balance.MinorUnits()
	toJSON(w, http.StatusOK, openingResponse{
		Day:         day,
		ChannelID:   req.ChannelID,
		AmountMinor: minor,
		Amount:      balance.String(),
		Origin:      ledger.OriginSnapshot,
	})
}

// handleGetClosing serves the stored snapshot, or a live preview with
// ?preview=true.
func (s *Server) handleGetClosing(w http.ResponseWriter, r *http.Request) {
	day := r.Context().Value(ctxDay).(ledger.Day)

	if r.URL.Query().Get("preview") == "true" {
		snap, err := s.days.PreviewClosing(r.Context(), day)
		if err != nil {
			s.observeClosingErr(err)
			writeServiceErr(w, err)
			return
		}
		toJSON(w, http.StatusOK, toClosingResponse(snap))
		return
	}

	snap, ok, err := s.days.StoredClosing(r.Context(), day)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	if !ok {
		notFound(w)
		return
	}
	toJSON(w, http.StatusOK, toClosingResponse(snap))
}

func (s *Server) handleComputeClosing(w http.ResponseWriter, r *http.Request) {
	day := r.Context().Value(ctxDay).(ledger.Day)

	snap, err := s.days.ComputeClosing(r.Context(), day)
	if err != nil {
		s.observeClosingErr(err)
		s.log.Error("closing computation failed", "day", day.String(), "err", err)
		writeServiceErr(w, err)
		return
	}
	closingsComputed.Inc()
	s.log.Info("closing computed", "day", day.String(), "total_minor", snap.TotalMinor)
	toJSON(w, http.StatusOK, toClosingResponse(snap))
}

func (s *Server) observeClosingErr(err error) {
	if errors.Is(err, errs.ErrLedgerInconsistency) {
		inconsistenciesDetected.Inc()
	}
}

func (s *Server) handleGetConfirmation(w http.ResponseWriter, r *http.Request) {
	day := r.Context().Value(ctxDay).(ledger.Day)
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		badRequest(w, "user_id query param is required")
		return
	}

	c, err := s.days.Status(r.Context(), day, userID)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toConfirmationResponse(c))
}

func (s *Server) handlePostConfirmation(w http.ResponseWriter, r *http.Request) {
	day := r.Context().Value(ctxDay).(ledger.Day)
	req := r.Context().Value(ctxConfirmation).(postConfirmationRequest)

	c, err := s.days.Confirm(r.Context(), day, req.UserID)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	s.log.Info("day confirmed", "day", day.String(), "user_id", req.UserID)
	toJSON(w, http.StatusOK, toConfirmationResponse(c))
}
