package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"whistlechain/gateway/evidence"
	"whistlechain/native/bounty"
	"whistlechain/observability/logging"
)

const (
	requestLimit     = 64 << 10
	defaultListLimit = 50
	maxListLimit     = 500
)

type createBountyRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Amount      uint64           `json:"amount"`
	TokenType   bounty.TokenType `json:"tokenType"`
}

type submitTipRequest struct {
	EvidenceReference string `json:"evidenceReference"`
	EncryptedPayload  string `json:"encryptedPayload"`
}

type submitClaimRequest struct {
	Proof string `json:"proof"`
}

type verifyClaimRequest struct {
	Approve *bool `json:"approve"`
}

type bountyResponse struct {
	Bounty *bounty.Bounty      `json:"bounty"`
	Escrow *bounty.EscrowEntry `json:"escrow,omitempty"`
}

func decodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, bounty.ErrInvalidArgument) {
			return err
		}
		return fmt.Errorf("%w: decode request: %v", bounty.ErrInvalidArgument, err)
	}
	return nil
}

func (h *api) createBounty(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createBountyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	b, err := h.engine.CreateBounty(r.Context(), caller, bounty.CreateBountyParams{
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		Token:       req.TokenType,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("bounty created", "op", "create", "bounty", b.ID.Hex(), "caller", caller.String(), "amount", b.Amount, "token", b.Token.String())
	writeJSON(w, http.StatusCreated, b)
}

func (h *api) listBounties(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := bounty.BountyFilter{Limit: defaultListLimit}
	if raw := query.Get("status"); raw != "" {
		status, err := bounty.ParseBountyStatus(raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		filter.Status = status
	}
	filter.Creator = bounty.Identity(query.Get("creator")).Normalize()
	if mine, _ := strconv.ParseBool(query.Get("mine")); mine {
		caller, ok := h.caller(w, r)
		if !ok {
			return
		}
		filter.Creator = caller
	}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, fmt.Errorf("%w: limit must be a positive integer", bounty.ErrInvalidArgument))
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		filter.Limit = n
	}
	list, err := h.engine.BountySummaries(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bounties": list})
}

func (h *api) getBounty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.engine.Bounty(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	resp := bountyResponse{Bounty: b}
	entry, err := h.engine.EscrowEntry(r.Context(), id)
	switch {
	case err == nil:
		resp.Escrow = entry
	case !errors.Is(err, bounty.ErrNotFound):
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *api) submitTip(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req submitTipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := h.checkEvidence(req.EvidenceReference); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	tip, err := h.engine.SubmitTip(r.Context(), caller, id, bounty.TipParams{
		EvidenceReference: req.EvidenceReference,
		EncryptedPayload:  req.EncryptedPayload,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("tip submitted", "op", "tip", "bounty", id.Hex(), "tip", tip.ID.Hex(),
		logging.MaskField("submitter", caller.String()))
	writeJSON(w, http.StatusCreated, tip)
}

// checkEvidence rejects content references that point at blobs this gateway
// does not hold. Other reference schemes pass through untouched.
func (h *api) checkEvidence(ref string) error {
	if h.evidence == nil || !strings.HasPrefix(strings.TrimSpace(ref), evidence.RefPrefix) {
		return nil
	}
	parsed, err := evidence.ParseRef(ref)
	if err != nil {
		return err
	}
	if !h.evidence.Has(parsed) {
		return fmt.Errorf("%w: evidence %s has not been uploaded", bounty.ErrInvalidArgument, parsed)
	}
	return nil
}

func (h *api) listTips(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tips, err := h.engine.Tips(r.Context(), caller, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tips": tips})
}

func (h *api) getTip(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tip, err := h.engine.Tip(r.Context(), caller, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tip)
}

func (h *api) submitClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req submitClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	claim, err := h.engine.SubmitClaim(r.Context(), caller, id, req.Proof)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("claim submitted", "op", "claim", "bounty", id.Hex(), "claim", claim.ID.Hex(), "caller", caller.String())
	writeJSON(w, http.StatusCreated, claim)
}

func (h *api) listClaims(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	claims, err := h.engine.Claims(r.Context(), caller, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"claims": claims})
}

func (h *api) getClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	claim, err := h.engine.Claim(r.Context(), caller, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (h *api) verifyClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req verifyClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Approve == nil {
		writeBadRequest(w, fmt.Errorf("%w: approve is required", bounty.ErrInvalidArgument))
		return
	}
	claim, err := h.engine.VerifyClaim(r.Context(), caller, id, *req.Approve)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("claim decided", "op", "verify", "bounty", claim.BountyID.Hex(), "claim", claim.ID.Hex(), "caller", caller.String(), "status", claim.Status.String())
	writeJSON(w, http.StatusOK, claim)
}

func (h *api) closeBounty(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	settlement, err := h.engine.CloseBounty(r.Context(), caller, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("bounty closed", "op", "close", "bounty", id.Hex(), "caller", caller.String(), "settlement", settlement.Kind.String(), "recipient", settlement.Recipient.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{"settlement": settlement})
}
