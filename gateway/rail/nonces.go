package rail

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"whistlechain/storage"
)

var (
	nonceKeyPrefix    = []byte("rail/nonce/")
	observedKeyPrefix = []byte("rail/observed/")
)

// StorageNonces persists nonce observations in a key-value database. Each
// nonce has a primary record and a time-ordered index entry used for
// pruning and hydration.
type StorageNonces struct {
	db storage.Database
}

func NewStorageNonces(db storage.Database) *StorageNonces {
	return &StorageNonces{db: db}
}

// EnsureNonce records the nonce and reports whether it had been seen.
func (s *StorageNonces) EnsureNonce(ctx context.Context, record NonceRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	client := strings.TrimSpace(record.Client)
	ts := strings.TrimSpace(record.Timestamp)
	nonce := strings.TrimSpace(record.Nonce)
	if client == "" || ts == "" || nonce == "" {
		return false, errors.New("rail: nonce record incomplete")
	}
	observed := record.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	composite := compositeKey(client, ts, nonce)
	primary := append(bytes.Clone(nonceKeyPrefix), composite...)
	nanos := observed.UnixNano()

	existed := false
	err := s.db.Update(func(txn storage.Txn) error {
		raw, err := txn.Get(primary)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return fmt.Errorf("load nonce: %w", err)
		default:
			existed = true
			previous := int64(binary.BigEndian.Uint64(raw))
			if nanos <= previous {
				return nil
			}
			if err := txn.Delete(observedKey(previous, composite)); err != nil {
				return err
			}
		}
		if err := txn.Put(primary, encodeNanos(nanos)); err != nil {
			return err
		}
		return txn.Put(observedKey(nanos, composite), []byte{})
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// RecentNonces returns nonces observed at or after cutoff.
func (s *StorageNonces) RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	cutoffKey := observedKey(cutoff.UTC().UnixNano(), "")
	var records []NonceRecord
	err := s.db.View(func(r storage.Reader) error {
		return r.Iterate(observedKeyPrefix, func(key, _ []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if bytes.Compare(key, cutoffKey) < 0 {
				return nil
			}
			composite, nanos, ok := parseObservedKey(key)
			if !ok {
				return nil
			}
			parts := strings.SplitN(composite, "|", 3)
			if len(parts) != 3 {
				return nil
			}
			records = append(records, NonceRecord{
				Client:     parts[0],
				Timestamp:  parts[1],
				Nonce:      parts[2],
				ObservedAt: time.Unix(0, nanos).UTC(),
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("iterate observed nonces: %w", err)
	}
	return records, nil
}

// PruneNonces deletes observations older than cutoff.
func (s *StorageNonces) PruneNonces(ctx context.Context, cutoff time.Time) error {
	cutoffKey := observedKey(cutoff.UTC().UnixNano(), "")
	return s.db.Update(func(txn storage.Txn) error {
		var stale [][]byte
		err := txn.Iterate(observedKeyPrefix, func(key, _ []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if bytes.Compare(key, cutoffKey) >= 0 {
				return errStopIteration
			}
			stale = append(stale, bytes.Clone(key))
			return nil
		})
		if err != nil && !errors.Is(err, errStopIteration) {
			return err
		}
		for _, key := range stale {
			composite, _, ok := parseObservedKey(key)
			if !ok {
				continue
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Delete(append(bytes.Clone(nonceKeyPrefix), composite...)); err != nil {
				return err
			}
		}
		return nil
	})
}

var errStopIteration = errors.New("stop")

func observedKey(nanos int64, composite string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, composite))
}

func parseObservedKey(key []byte) (string, int64, bool) {
	rest := strings.TrimPrefix(string(key), string(observedKeyPrefix))
	stamp, composite, ok := strings.Cut(rest, ":")
	if !ok {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return composite, nanos, true
}

func encodeNanos(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}

func compositeKey(client, timestamp, nonce string) string {
	return strings.Join([]string{client, timestamp, nonce}, "|")
}
