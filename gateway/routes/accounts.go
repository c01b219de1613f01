package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"whistlechain/native/bounty"
)

type balancesResponse struct {
	Owner    bounty.Identity   `json:"owner"`
	Balances map[string]uint64 `json:"balances"`
}

type depositRequest struct {
	Owner     bounty.Identity  `json:"owner"`
	TokenType bounty.TokenType `json:"tokenType"`
	Amount    uint64           `json:"amount"`
}

type depositResponse struct {
	Owner     bounty.Identity  `json:"owner"`
	TokenType bounty.TokenType `json:"tokenType"`
	Amount    uint64           `json:"amount"`
	Balance   uint64           `json:"balance"`
}

var tokenTypes = []bounty.TokenType{bounty.TokenNative, bounty.TokenStable}

func (h *api) myBalances(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.writeBalances(w, r, caller)
}

// balances returns another account's balances. Only the owner and the admin
// may read them.
func (h *api) balances(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	owner := bounty.Identity(chi.URLParam(r, "owner")).Normalize()
	if owner.IsZero() {
		writeBadRequest(w, errors.New("owner required"))
		return
	}
	if owner != caller && !h.engine.Guard().IsAdmin(caller) {
		writeJSONError(w, http.StatusForbidden, codeUnauthorized, errors.New("balances are visible to their owner only"))
		return
	}
	h.writeBalances(w, r, owner)
}

func (h *api) writeBalances(w http.ResponseWriter, r *http.Request, owner bounty.Identity) {
	resp := balancesResponse{Owner: owner, Balances: make(map[string]uint64, len(tokenTypes))}
	for _, token := range tokenTypes {
		bal, err := h.engine.Balance(r.Context(), owner, token)
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		resp.Balances[token.String()] = bal
	}
	writeJSON(w, http.StatusOK, resp)
}

// deposit credits an account on behalf of the admin. The engine enforces the
// admin check.
func (h *api) deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	resp, err := h.applyDeposit(r, caller, req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *api) applyDeposit(r *http.Request, caller bounty.Identity, req depositRequest) (*depositResponse, error) {
	owner := req.Owner.Normalize()
	if err := h.engine.Deposit(r.Context(), caller, owner, req.TokenType, req.Amount); err != nil {
		return nil, err
	}
	bal, err := h.engine.Balance(r.Context(), owner, req.TokenType)
	if err != nil {
		return nil, err
	}
	h.logger.Info("balance credited", "op", "deposit", "caller", caller.String(), "owner", owner.String(), "token", req.TokenType.String(), "amount", req.Amount)
	return &depositResponse{Owner: owner, TokenType: req.TokenType, Amount: req.Amount, Balance: bal}, nil
}
