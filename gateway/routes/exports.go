package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"whistlechain/integrations/exports"
	"whistlechain/native/bounty"
)

// HeaderExportChecksum carries the hex SHA-256 of an export body.
const HeaderExportChecksum = "X-Export-Checksum"

const defaultAuditLimit = 100

var errAuditDisabled = errors.New("audit log disabled")

func (h *api) exportBounties(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	format, err := exports.ParseFormat(query.Get("format"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	filter := bounty.BountyFilter{Limit: h.exportMaxRows, Creator: bounty.Identity(query.Get("creator")).Normalize()}
	if raw := query.Get("status"); raw != "" {
		status, err := bounty.ParseBountyStatus(raw)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		filter.Status = status
	}
	rows, err := h.engine.BountySummaries(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	data, checksum, err := exports.Bounties(format, rows)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("bounties exported", "op", "export", "caller", caller.String(), "format", string(format), "rows", len(rows), "checksum", checksum)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bounties.%s"`, format))
	w.Header().Set(HeaderExportChecksum, checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// auditLog lists recent audited requests, optionally for one principal.
func (h *api) auditLog(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	if h.recorder == nil {
		writeJSONError(w, http.StatusNotFound, codeNotFound, errAuditDisabled)
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, fmt.Errorf("%w: limit must be a positive integer", bounty.ErrInvalidArgument))
			return
		}
		limit = min(n, maxListLimit)
	}
	entries, err := h.recorder.Store().Recent(r.Context(), r.URL.Query().Get("principal"), limit)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
