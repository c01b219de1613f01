package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"whistlechain/gateway/audit"
	"whistlechain/gateway/rail"
)

type railDepositResponse struct {
	Reference string `json:"reference"`
	depositResponse
}

// railDeposit applies a signed deposit notice from an external funding rail.
// The notice reference is the idempotency key, so a rail that retries after a
// timeout gets the original answer instead of a second credit.
func (h *api) railDeposit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(rail.MaxBodyBytes)+1))
	_ = r.Body.Close()
	if err != nil {
		writeBadRequest(w, fmt.Errorf("read request body: %w", err))
		return
	}
	client, err := h.rail.Verify(r, body)
	if err != nil {
		if !errors.Is(err, rail.ErrUnauthenticated) {
			writeError(w, h.logger, r, err)
			return
		}
		h.logger.Warn("rail request rejected", "client", r.Header.Get(rail.HeaderClient), "error", err)
		writeJSONError(w, http.StatusUnauthorized, codeUnauthenticated, rail.ErrUnauthenticated)
		return
	}
	principal := "rail:" + client.ID
	requestHash := audit.HashRequest(r.Method, r.URL.Path, body)

	notice, err := rail.DecodeNotice(body)
	if err != nil {
		h.respondRail(w, r, principal, "", requestHash, http.StatusBadRequest, errorBody(err, codeInvalidArgument))
		return
	}
	if h.recorder != nil {
		cached, err := h.recorder.Lookup(r.Context(), principal, notice.Reference, requestHash)
		switch {
		case errors.Is(err, audit.ErrIdempotencyMismatch):
			h.respondRail(w, r, principal, "", requestHash, http.StatusConflict, errorBody(err, codeConflict))
			return
		case err != nil:
			writeError(w, h.logger, r, err)
			return
		case cached != nil:
			w.Header().Set(audit.HeaderReplayed, "true")
			h.respondRail(w, r, principal, "", requestHash, cached.Status, cached.Body)
			return
		}
	}

	admin := h.engine.Guard().Admin()
	resp, err := h.applyDeposit(r, admin, depositRequest{Owner: notice.Owner, TokenType: notice.Token, Amount: notice.Amount})
	if err != nil {
		status, code := errorStatus(err)
		if status == http.StatusInternalServerError {
			writeError(w, h.logger, r, err)
			return
		}
		h.respondRail(w, r, principal, notice.Reference, requestHash, status, errorBody(err, code))
		return
	}
	out, err := json.Marshal(railDepositResponse{Reference: notice.Reference, depositResponse: *resp})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.respondRail(w, r, principal, notice.Reference, requestHash, http.StatusOK, out)
}

// respondRail writes the response and, when an idempotency key is supplied,
// stores it. Every rail response lands in the audit log.
func (h *api) respondRail(w http.ResponseWriter, r *http.Request, principal, key, requestHash string, status int, body []byte) {
	if h.recorder != nil {
		if key != "" {
			if err := h.recorder.Save(r.Context(), principal, key, requestHash, status, body); err != nil {
				h.logger.Warn("save rail idempotency key failed", "client", principal, "error", err)
			}
		}
		h.recorder.Record(r.Context(), principal, r, requestHash, status, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func errorBody(err error, code string) []byte {
	out, _ := json.Marshal(errorResponse{Error: err.Error(), Code: code})
	return out
}
