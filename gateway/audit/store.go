// Package audit persists idempotency keys and the request audit log for
// mutating gateway calls in an embedded sqlite database.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// ErrIdempotencyMismatch is returned when a key is reused with a different
// request.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// Store manages idempotency keys and audit log persistence.
type Store struct {
	db *sql.DB
}

// Entry is one audited request. Request and response bodies are stored as
// hashes only; tip payloads must not be copied into the log.
type Entry struct {
	ID             int64     `json:"id"`
	Principal      string    `json:"principal"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	RequestHash    string    `json:"requestHash"`
	ResponseStatus int       `json:"status"`
	ResponseHash   string    `json:"responseHash,omitempty"`
	Timestamp      time.Time `json:"occurredAt"`
}

// StoredResponse represents a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// In-memory databases are private to a connection.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            principal TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY(principal, idempotency_key)
        );`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            principal TEXT,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            request_hash TEXT,
            response_status INTEGER,
            response_hash TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS audit_log_principal ON audit_log(principal, occurred_at);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LookupIdempotency returns the cached response for key, nil when the key
// is unused, or ErrIdempotencyMismatch when it was used for another request.
func (s *Store) LookupIdempotency(ctx context.Context, principal, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE principal = ? AND idempotency_key = ?`
	row := s.db.QueryRowContext(ctx, query, principal, key)
	var status int
	var body []byte
	var storedHash string
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

// SaveIdempotency caches the response. The first stored response wins.
func (s *Store) SaveIdempotency(ctx context.Context, principal, key, requestHash string, status int, body []byte, at time.Time) error {
	const stmt = `INSERT OR IGNORE INTO idempotency_keys(principal, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if body == nil {
		body = []byte{}
	}
	_, err := s.db.ExecContext(ctx, stmt, principal, key, requestHash, status, body, at.UTC())
	return err
}

// PruneIdempotency drops keys older than cutoff.
func (s *Store) PruneIdempotency(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) InsertAuditLog(ctx context.Context, entry Entry) error {
	const stmt = `INSERT INTO audit_log(principal, method, path, request_hash, response_status, response_hash, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, entry.Principal, entry.Method, entry.Path, entry.RequestHash, entry.ResponseStatus, entry.ResponseHash, entry.Timestamp.UTC())
	return err
}

// Recent returns the newest audit entries first. A principal filters the
// log when non-empty.
func (s *Store) Recent(ctx context.Context, principal string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, principal, method, path, request_hash, response_status, response_hash, occurred_at FROM audit_log`
	args := []any{}
	if principal != "" {
		query += ` WHERE principal = ?`
		args = append(args, principal)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			principal sql.NullString
			hash      sql.NullString
			status    sql.NullInt64
			response  sql.NullString
		)
		if err := rows.Scan(&e.ID, &principal, &e.Method, &e.Path, &hash, &status, &response, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Principal = principal.String
		e.RequestHash = hash.String
		e.ResponseStatus = int(status.Int64)
		e.ResponseHash = response.String
		out = append(out, e)
	}
	return out, rows.Err()
}
