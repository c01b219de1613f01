package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"whistlechain/gateway/audit"
	"whistlechain/gateway/evidence"
	"whistlechain/gateway/rail"
	"whistlechain/native/bounty"
)

// Stable machine readable error codes returned next to the message.
const (
	codeInvalidArgument   = "invalid_argument"
	codeUnauthenticated   = "unauthenticated"
	codeUnauthorized      = "unauthorized"
	codeNotFound          = "not_found"
	codeInvalidStatus     = "invalid_status"
	codeDuplicate         = "duplicate_submission"
	codeInsufficientFunds = "insufficient_funds"
	codeTooLarge          = "payload_too_large"
	codeConflict          = "idempotency_conflict"
	codeInternal          = "internal"
)

var errNoIdentity = errors.New("caller identity required")

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, codeInvalidArgument, err)
}

func writeJSONError(w http.ResponseWriter, status int, code string, err error) {
	message := ""
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// errorStatus maps engine and gateway errors onto HTTP statuses.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, rail.ErrUnauthenticated):
		return http.StatusUnauthorized, codeUnauthenticated
	case errors.Is(err, audit.ErrIdempotencyMismatch):
		return http.StatusConflict, codeConflict
	case errors.Is(err, evidence.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, codeTooLarge
	case errors.Is(err, bounty.ErrInvalidArgument):
		return http.StatusBadRequest, codeInvalidArgument
	case errors.Is(err, bounty.ErrUnauthorized):
		return http.StatusForbidden, codeUnauthorized
	case errors.Is(err, bounty.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, bounty.ErrInvalidStatus):
		return http.StatusConflict, codeInvalidStatus
	case errors.Is(err, bounty.ErrDuplicateSubmission):
		return http.StatusConflict, codeDuplicate
	case errors.Is(err, bounty.ErrInsufficientFunds):
		return http.StatusPaymentRequired, codeInsufficientFunds
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeError renders err and logs anything that maps to a server error.
// Internal error text is never returned to the caller.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "route", r.URL.Path, "error", err)
		writeJSONError(w, status, code, nil)
		return
	}
	writeJSONError(w, status, code, err)
}
