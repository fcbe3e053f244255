package httpapi

import (
	"net/http"

	"github.com/averlon/posledger/internal/dictionary"
	"github.com/averlon/posledger/internal/ledger"
)

type sourceDefResponse struct {
	Source ledger.Source `json:"source"`
	Label  string        `json:"label"`
	Refund bool          `json:"refund"`
}

func (s *Server) handleSourceDictionary(w http.ResponseWriter, _ *http.Request) {
	defs := dictionary.All()
	out := make([]sourceDefResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, sourceDefResponse{
			Source: d.Source,
			Label:  d.Label,
			Refund: d.Source.IsRefund(),
		})
	}
	toJSON(w, http.StatusOK, out)
}
