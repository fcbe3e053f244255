package httpapi

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/averlon/posledger/internal/errs"
	"github.com/averlon/posledger/internal/ledger"
	"github.com/averlon/posledger/internal/meta"
)

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.channels.Channels(r.Context())
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	out := make([]channelResponse, 0, len(channels))
	for _, c := range channels {
		out = append(out, toChannelResponse(c))
	}
	toJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(ctxPostChannel).(postChannelRequest)

	c := ledger.Channel{
		ID:       uuid.New(),
		Code:     req.Code,
		Name:     req.Name,
		Kind:     req.Kind,
		Currency: req.Currency,
		Metadata: meta.Metadata(req.Metadata),
		Active:   true,
	}
	created, err := s.channels.CreateChannel(r.Context(), c)
	if err != nil {
		if errors.Is(err, errs.ErrInvalid) {
			badRequest(w, err.Error())
			return
		}
		writeServiceErr(w, err)
		return
	}
	s.log.Info("channel created", "channel_id", created.ID, "code", created.Code, "kind", created.Kind)
	toJSON(w, http.StatusCreated, toChannelResponse(created))
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	id := r.Context().Value(ctxChannelID).(uuid.UUID)
	c, err := s.channels.ChannelByID(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toChannelResponse(c))
}

// handleDeactivateChannel soft-deletes: entries referencing the channel stay,
// the channel just stops accepting postings.
func (s *Server) handleDeactivateChannel(w http.ResponseWriter, r *http.Request) {
	id := r.Context().Value(ctxChannelID).(uuid.UUID)
	c, err := s.channels.ChannelByID(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	c.Active = false
	updated, err := s.channels.UpdateChannel(r.Context(), c)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	s.log.Info("channel deactivated", "channel_id", updated.ID, "code", updated.Code)
	toJSON(w, http.StatusOK, toChannelResponse(updated))
}

func (s *Server) handleChannelBalance(w http.ResponseWriter, r *http.Request) {
	id := r.Context().Value(ctxChannelID).(uuid.UUID)
	c, err := s.channels.ChannelByID(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	balance, err := s.poster.CurrentBalance(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	minor, _ := balance.MinorUnits()
	toJSON(w, http.StatusOK, channelBalanceResponse{
		ChannelID:    c.ID,
		Code:         c.Code,
		Kind:         c.Kind,
		Currency:     c.Currency,
		BalanceMinor: minor,
		Balance:      balance.String(),
	})
}
