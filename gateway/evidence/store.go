package evidence

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"

	"whistlechain/native/bounty"
)

// RefPrefix marks a BLAKE3 content reference.
const RefPrefix = "b3:"

// DefaultMaxBytes bounds a single upload when no limit is configured.
const DefaultMaxBytes int64 = 8 << 20

var (
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("evidence: payload exceeds size limit")
	// ErrNotFound is returned when no blob matches a reference.
	ErrNotFound = fmt.Errorf("%w: evidence not found", bounty.ErrNotFound)
)

// Ref is the content address of a stored blob.
type Ref struct {
	Digest [32]byte
	Size   int64
}

// String renders the reference as used in tip evidence fields.
func (r Ref) String() string { return RefPrefix + hex.EncodeToString(r.Digest[:]) }

// ParseRef decodes a "b3:<hex>" reference.
func ParseRef(s string) (Ref, error) {
	var ref Ref
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, RefPrefix) {
		return ref, fmt.Errorf("%w: evidence reference must start with %q", bounty.ErrInvalidArgument, RefPrefix)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(trimmed, RefPrefix))
	if err != nil || len(raw) != len(ref.Digest) {
		return ref, fmt.Errorf("%w: malformed evidence reference", bounty.ErrInvalidArgument)
	}
	copy(ref.Digest[:], raw)
	return ref, nil
}

// Store keeps opaque evidence blobs on disk addressed by their BLAKE3 hash.
// The gateway never inspects blob contents; clients are expected to encrypt
// before uploading.
type Store struct {
	dir      string
	maxBytes int64
}

// Open prepares a store rooted at dir.
func Open(dir string, maxBytes int64) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("evidence: directory required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("evidence: create dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// MaxBytes returns the upload limit.
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Put streams r into the store and returns its reference. Uploading the same
// content twice yields the same reference and a single file.
func (s *Store) Put(r io.Reader) (Ref, error) {
	var ref Ref
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return ref, fmt.Errorf("evidence: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := blake3.New(32, nil)
	n, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(r, s.maxBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ref, fmt.Errorf("evidence: write: %w", err)
	}
	if n > s.maxBytes {
		return ref, ErrTooLarge
	}
	if n == 0 {
		return ref, fmt.Errorf("%w: evidence payload is empty", bounty.ErrInvalidArgument)
	}
	copy(ref.Digest[:], hasher.Sum(nil))
	ref.Size = n

	path := s.path(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return ref, fmt.Errorf("evidence: shard dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.Rename(tmpName, path); err != nil {
		return ref, fmt.Errorf("evidence: commit: %w", err)
	}
	return ref, nil
}

// Get opens the blob addressed by ref. The caller must close the reader.
func (s *Store) Get(ref Ref) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.path(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Has reports whether a blob exists for ref.
func (s *Store) Has(ref Ref) bool {
	_, err := os.Stat(s.path(ref))
	return err == nil
}

func (s *Store) path(ref Ref) string {
	name := hex.EncodeToString(ref.Digest[:])
	return filepath.Join(s.dir, name[:2], name)
}
