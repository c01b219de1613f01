// Package rail authenticates deposit notifications posted by external
// funding rails. Each request carries a client id, a unix timestamp, a
// nonce and an HMAC-SHA256 signature over the request.
package rail

import (
	"container/list"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	HeaderClient    = "X-Rail-Client"
	HeaderTimestamp = "X-Rail-Timestamp"
	HeaderNonce     = "X-Rail-Nonce"
	HeaderSignature = "X-Rail-Signature"

	// MaxBodyBytes bounds the body hashed into a signature.
	MaxBodyBytes int = 1 << 20

	maxTimestampSkew     = 2 * time.Minute
	maxNonceWindow       = 10 * time.Minute
	defaultNonceCapacity = 4096
	maxNonceCapacity     = 65536
	pruneInterval        = time.Minute
)

// ErrUnauthenticated wraps every verification failure.
var ErrUnauthenticated = errors.New("rail: unauthenticated")

// Client is an authenticated rail.
type Client struct {
	ID string
}

// NonceRecord captures a persisted nonce observation.
type NonceRecord struct {
	Client     string
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NonceStore provides durable replay protection across restarts.
type NonceStore interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// Options tune a Verifier. Values above the hard limits are clamped.
type Options struct {
	ClockSkew     time.Duration
	NonceTTL      time.Duration
	NonceCapacity int
	Now           func() time.Time
	Store         NonceStore
}

// Verifier checks rail signatures and rejects replays.
type Verifier struct {
	secrets       map[string]string
	skew          time.Duration
	nonceTTL      time.Duration
	nonceCapacity int
	now           func() time.Time

	cacheMu sync.Mutex
	caches  map[string]*nonceCache

	lastSeenMu sync.Mutex
	lastSeen   map[string]int64

	store      NonceStore
	pruneMu    sync.Mutex
	lastPruned time.Time
}

// NewVerifier builds a verifier for the given client id to secret map.
func NewVerifier(secrets map[string]string, opts Options) *Verifier {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cloned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ClockSkew <= 0 || opts.ClockSkew > maxTimestampSkew {
		opts.ClockSkew = maxTimestampSkew
	}
	if opts.NonceTTL <= 0 || opts.NonceTTL > maxNonceWindow {
		opts.NonceTTL = maxNonceWindow
	}
	if opts.NonceCapacity <= 0 {
		opts.NonceCapacity = defaultNonceCapacity
	}
	if opts.NonceCapacity > maxNonceCapacity {
		opts.NonceCapacity = maxNonceCapacity
	}
	return &Verifier{
		secrets:       cloned,
		skew:          opts.ClockSkew,
		nonceTTL:      opts.NonceTTL,
		nonceCapacity: opts.NonceCapacity,
		now:           opts.Now,
		caches:        make(map[string]*nonceCache),
		lastSeen:      make(map[string]int64),
		store:         opts.Store,
	}
}

func unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthenticated, fmt.Sprintf(format, args...))
}

// Verify validates the signature headers of r against body.
func (v *Verifier) Verify(r *http.Request, body []byte) (*Client, error) {
	if len(body) > MaxBodyBytes {
		return nil, unauthenticated("body exceeds %d bytes", MaxBodyBytes)
	}
	clientID := strings.TrimSpace(r.Header.Get(HeaderClient))
	if clientID == "" {
		return nil, unauthenticated("missing %s header", HeaderClient)
	}
	secret, ok := v.secrets[clientID]
	if !ok || secret == "" {
		return nil, unauthenticated("unknown rail client")
	}
	tsHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if tsHeader == "" {
		return nil, unauthenticated("missing %s header", HeaderTimestamp)
	}
	ts, err := parseUnix(tsHeader)
	if err != nil {
		return nil, unauthenticated("invalid timestamp: %v", err)
	}
	now := v.now().UTC()
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.skew {
		return nil, unauthenticated("timestamp outside allowed skew of %s", v.skew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return nil, unauthenticated("missing %s header", HeaderNonce)
	}
	provided, err := hex.DecodeString(strings.TrimSpace(r.Header.Get(HeaderSignature)))
	if err != nil || len(provided) == 0 {
		return nil, unauthenticated("invalid signature encoding")
	}
	expected := ComputeSignature(secret, tsHeader, nonce, r.Method, CanonicalRequestPath(r), body)
	if !hmac.Equal(provided, expected) {
		return nil, unauthenticated("invalid signature")
	}
	duplicate, err := v.registerNonce(r.Context(), clientID, tsHeader, nonce, now)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, unauthenticated("nonce already used")
	}
	if v.isTimestampReplay(clientID, ts, now) {
		return nil, unauthenticated("timestamp not increasing")
	}
	return &Client{ID: clientID}, nil
}

// Hydrate warms the in-memory caches from the durable store.
func (v *Verifier) Hydrate(ctx context.Context) error {
	if v == nil || v.store == nil {
		return nil
	}
	cutoff := v.now().UTC().Add(-v.nonceTTL)
	records, err := v.store.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent nonces: %w", err)
	}
	for _, rec := range records {
		if rec.Client == "" || rec.Timestamp == "" || rec.Nonce == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		v.cache(rec.Client).Add(rec.Timestamp+"|"+rec.Nonce, observed)
	}
	return nil
}

func (v *Verifier) registerNonce(ctx context.Context, clientID, timestamp, nonce string, now time.Time) (bool, error) {
	cache := v.cache(clientID)
	composite := timestamp + "|" + nonce
	if cache.Contains(composite, now) {
		return true, nil
	}
	if v.store != nil {
		if err := v.prune(ctx, now); err != nil {
			return false, err
		}
		existed, err := v.store.EnsureNonce(ctx, NonceRecord{
			Client:     clientID,
			Timestamp:  timestamp,
			Nonce:      nonce,
			ObservedAt: now,
		})
		if err != nil {
			return false, fmt.Errorf("persist nonce: %w", err)
		}
		if existed {
			cache.Add(composite, now)
			return true, nil
		}
	}
	cache.Add(composite, now)
	return false, nil
}

func (v *Verifier) prune(ctx context.Context, now time.Time) error {
	v.pruneMu.Lock()
	defer v.pruneMu.Unlock()
	if !v.lastPruned.IsZero() && now.Sub(v.lastPruned) < pruneInterval {
		return nil
	}
	if err := v.store.PruneNonces(ctx, now.Add(-v.nonceTTL)); err != nil {
		return fmt.Errorf("prune persistent nonces: %w", err)
	}
	v.lastPruned = now
	return nil
}

// isTimestampReplay requires timestamps from a client to increase strictly
// within the skew window.
func (v *Verifier) isTimestampReplay(clientID string, ts, now time.Time) bool {
	cutoff := now.Add(-v.skew)
	current := ts.Unix()

	v.lastSeenMu.Lock()
	defer v.lastSeenMu.Unlock()

	if last, ok := v.lastSeen[clientID]; ok && time.Unix(last, 0).After(cutoff) && current <= last {
		return true
	}
	v.lastSeen[clientID] = current
	return false
}

func (v *Verifier) cache(clientID string) *nonceCache {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	cache, ok := v.caches[clientID]
	if !ok {
		cache = newNonceCache(v.nonceTTL, v.nonceCapacity)
		v.caches[clientID] = cache
	}
	return cache
}

// CanonicalRequestPath is the path plus the sorted raw query.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		parts := strings.Split(r.URL.RawQuery, "&")
		sort.Strings(parts)
		path += "?" + strings.Join(parts, "&")
	}
	return path
}

// ComputeSignature returns HMAC-SHA256 over timestamp, nonce, method, path
// and body joined by newlines.
func ComputeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	payload := strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Sign sets the rail headers on r for the given body.
func Sign(r *http.Request, clientID, secret, nonce string, now time.Time, body []byte) {
	ts := strconv.FormatInt(now.Unix(), 10)
	r.Header.Set(HeaderClient, clientID)
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderNonce, nonce)
	r.Header.Set(HeaderSignature, hex.EncodeToString(ComputeSignature(secret, ts, nonce, r.Method, CanonicalRequestPath(r), body)))
}

func parseUnix(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

// nonceCache is a bounded, TTL-ordered set of recently seen nonces.
type nonceCache struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key string
	ts  time.Time
}

func newNonceCache(ttl time.Duration, capacity int) *nonceCache {
	return &nonceCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (n *nonceCache) Contains(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	_, exists := n.entries[key]
	return exists
}

func (n *nonceCache) Add(key string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	if elem, exists := n.entries[key]; exists {
		elem.Value = nonceEntry{key: key, ts: now}
		n.order.MoveToBack(elem)
		return
	}
	for n.capacity > 0 && n.order.Len() >= n.capacity {
		front := n.order.Front()
		n.order.Remove(front)
		delete(n.entries, front.Value.(nonceEntry).key)
	}
	n.entries[key] = n.order.PushBack(nonceEntry{key: key, ts: now})
}

func (n *nonceCache) evictExpired(cutoff time.Time) {
	for front := n.order.Front(); front != nil; front = n.order.Front() {
		entry := front.Value.(nonceEntry)
		if !entry.ts.Before(cutoff) {
			return
		}
		n.order.Remove(front)
		delete(n.entries, entry.key)
	}
}
