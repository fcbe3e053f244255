package httpapi

import (
	"errors"
	"net/http"

	"github.com/averlon/posledger/internal/errs"
)

// errorResponse is the standard error payload for the API.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) { writeErr(w, http.StatusBadRequest, msg, "") }
func notFound(w http.ResponseWriter)               { writeErr(w, http.StatusNotFound, "not_found", "not_found") }
func unprocessable(w http.ResponseWriter, msg, code string) {
	writeErr(w, http.StatusUnprocessableEntity, msg, code)
}

// writeServiceErr maps core sentinel errors onto HTTP statuses. Ledger
// inconsistencies stay 500s: they signal corruption needing investigation, not
// a caller mistake.
func writeServiceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidAmount):
		unprocessable(w, err.Error(), "invalid_amount")
	case errors.Is(err, errs.ErrUnknownChannel):
		unprocessable(w, err.Error(), "unknown_channel")
	case errors.Is(err, errs.ErrConcurrentModification):
		writeErr(w, http.StatusConflict, err.Error(), "concurrent_modification")
	case errors.Is(err, errs.ErrAlreadyReversed):
		writeErr(w, http.StatusConflict, err.Error(), "already_reversed")
	case errors.Is(err, errs.ErrLedgerInconsistency):
		writeErr(w, http.StatusInternalServerError, err.Error(), "ledger_inconsistency")
	case errors.Is(err, errs.ErrNotFound):
		notFound(w)
	case errors.Is(err, errs.ErrInvalid):
		badRequest(w, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal error", "")
	}
}
