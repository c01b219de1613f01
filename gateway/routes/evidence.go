package routes

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"whistlechain/gateway/evidence"
	"whistlechain/observability/logging"
)

type evidenceResponse struct {
	Reference string `json:"reference"`
	Size      int64  `json:"size"`
}

// uploadEvidence stores the raw request body and returns its content
// reference. Blobs are opaque; clients encrypt before upload.
func (h *api) uploadEvidence(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if r.ContentLength > h.evidence.MaxBytes() {
		writeError(w, h.logger, r, evidence.ErrTooLarge)
		return
	}
	ref, err := h.evidence.Put(r.Body)
	_ = r.Body.Close()
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("evidence stored", "op", "evidence",
		logging.MaskField("uploader", caller.String()),
		logging.MaskField("reference", ref.String()),
		"size", ref.Size)
	writeJSON(w, http.StatusCreated, evidenceResponse{Reference: ref.String(), Size: ref.Size})
}

func (h *api) downloadEvidence(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	ref, err := evidence.ParseRef(chi.URLParam(r, "ref"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	blob, size, err := h.evidence.Get(ref)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	defer blob.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("ETag", `"`+ref.String()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, blob)
}
