package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	maxIdempotencyKeyBytes = 128
	defaultMaxBody         = 1 << 20
)

// Recorder wraps mutating handlers with idempotent replay and audit
// logging. Principal resolves the caller for a request; requests without a
// principal are audited but never cached.
type Recorder struct {
	store     *Store
	logger    *slog.Logger
	principal func(*http.Request) string
	now       func() time.Time
	maxBody   int64
}

func NewRecorder(store *Store, principal func(*http.Request) string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:     store,
		logger:    logger.With("component", "audit"),
		principal: principal,
		now:       time.Now,
		maxBody:   defaultMaxBody,
	}
}

// Store exposes the underlying log.
func (a *Recorder) Store() *Store { return a.store }

// HashRequest fingerprints method, path and body.
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, a.maxBody+1))
		_ = r.Body.Close()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		if int64(len(body)) > a.maxBody {
			writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", a.maxBody))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		principal := ""
		if a.principal != nil {
			principal = a.principal(r)
		}
		requestHash := HashRequest(r.Method, r.URL.RequestURI(), body)
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if len(key) > maxIdempotencyKeyBytes {
			writeJSONError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}
		if key != "" && principal != "" {
			cached, err := a.store.LookupIdempotency(r.Context(), principal, key, requestHash)
			switch {
			case errors.Is(err, ErrIdempotencyMismatch):
				writeJSONError(w, http.StatusConflict, err.Error())
				a.record(r.Context(), principal, r, requestHash, http.StatusConflict, nil)
				return
			case err != nil:
				a.logger.Error("idempotency lookup failed", "route", r.URL.Path, "error", err)
				writeJSONError(w, http.StatusInternalServerError, "idempotency store unavailable")
				return
			case cached != nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				a.record(r.Context(), principal, r, requestHash, cached.Status, cached.Body)
				return
			}
		}

		capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)

		if key != "" && principal != "" && capture.status < http.StatusInternalServerError {
			if err := a.store.SaveIdempotency(r.Context(), principal, key, requestHash, capture.status, capture.buf.Bytes(), a.now()); err != nil {
				a.logger.Warn("save idempotency key failed", "route", r.URL.Path, "error", err)
			}
		}
		a.record(r.Context(), principal, r, requestHash, capture.status, capture.buf.Bytes())
	})
}

// Lookup, Save and Record expose the same bookkeeping to handlers that
// authenticate inside the handler body.
func (a *Recorder) Lookup(ctx context.Context, principal, key, requestHash string) (*StoredResponse, error) {
	return a.store.LookupIdempotency(ctx, principal, key, requestHash)
}

func (a *Recorder) Save(ctx context.Context, principal, key, requestHash string, status int, body []byte) error {
	return a.store.SaveIdempotency(ctx, principal, key, requestHash, status, body, a.now())
}

func (a *Recorder) Record(ctx context.Context, principal string, r *http.Request, requestHash string, status int, body []byte) {
	a.record(ctx, principal, r, requestHash, status, body)
}

func (a *Recorder) record(ctx context.Context, principal string, r *http.Request, requestHash string, status int, body []byte) {
	entry := Entry{
		Principal:      principal,
		Method:         r.Method,
		Path:           r.URL.Path,
		RequestHash:    requestHash,
		ResponseStatus: status,
		Timestamp:      a.now().UTC(),
	}
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		entry.ResponseHash = hex.EncodeToString(sum[:])
	}
	if err := a.store.InsertAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Warn("audit insert failed", "route", r.URL.Path, "error", err)
	}
}

type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
