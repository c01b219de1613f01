package rail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"whistlechain/native/bounty"
	"whistlechain/storage"
)

var railNow = time.Unix(1_717_787_717, 0).UTC()

func signedRequest(t *testing.T, clientID, secret, nonce string, at time.Time, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://gateway.test/v1/rail/deposits?b=2&a=1", nil)
	Sign(req, clientID, secret, nonce, at, body)
	return req
}

func TestVerifierAcceptsSignedRequest(t *testing.T) {
	v := NewVerifier(map[string]string{"bank": "secret"}, Options{Now: func() time.Time { return railNow }})
	body := []byte(`{"reference":"tx-1"}`)
	client, err := v.Verify(signedRequest(t, "bank", "secret", "n-1", railNow, body), body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if client.ID != "bank" {
		t.Fatalf("unexpected client %q", client.ID)
	}
}

func TestVerifierRejections(t *testing.T) {
	body := []byte(`{}`)
	cases := []struct {
		name   string
		mutate func(*http.Request)
		body   []byte
	}{
		{name: "unknown client", mutate: func(r *http.Request) { r.Header.Set(HeaderClient, "mallory") }},
		{name: "missing nonce", mutate: func(r *http.Request) { r.Header.Del(HeaderNonce) }},
		{name: "bad signature", mutate: func(r *http.Request) { r.Header.Set(HeaderSignature, "00ff") }},
		{name: "non hex signature", mutate: func(r *http.Request) { r.Header.Set(HeaderSignature, "zz") }},
		{name: "stale timestamp", mutate: func(r *http.Request) {
			Sign(r, "bank", "secret", "n-stale", railNow.Add(-10*time.Minute), body)
		}},
		{name: "tampered body", body: []byte(`{"amount":1}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewVerifier(map[string]string{"bank": "secret"}, Options{Now: func() time.Time { return railNow }})
			req := signedRequest(t, "bank", "secret", "n-1", railNow, body)
			if tc.mutate != nil {
				tc.mutate(req)
			}
			sent := body
			if tc.body != nil {
				sent = tc.body
			}
			if _, err := v.Verify(req, sent); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestVerifierRejectsReplays(t *testing.T) {
	now := railNow
	v := NewVerifier(map[string]string{"bank": "secret"}, Options{Now: func() time.Time { return now }})
	body := []byte(`{}`)

	if _, err := v.Verify(signedRequest(t, "bank", "secret", "n-1", now, body), body); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := v.Verify(signedRequest(t, "bank", "secret", "n-1", now, body), body); err == nil {
		t.Fatalf("expected nonce replay to fail")
	}
	if _, err := v.Verify(signedRequest(t, "bank", "secret", "n-2", now, body), body); err == nil {
		t.Fatalf("expected non-increasing timestamp to fail")
	}
	now = now.Add(time.Second)
	if _, err := v.Verify(signedRequest(t, "bank", "secret", "n-2", now, body), body); err != nil {
		t.Fatalf("expected later timestamp to pass: %v", err)
	}
}

func TestNewVerifierClampsParameters(t *testing.T) {
	v := NewVerifier(map[string]string{"a": "s"}, Options{ClockSkew: time.Hour, NonceTTL: time.Hour, NonceCapacity: 1 << 30})
	if v.skew != maxTimestampSkew {
		t.Fatalf("expected skew clamp, got %s", v.skew)
	}
	if v.nonceTTL != maxNonceWindow {
		t.Fatalf("expected ttl clamp, got %s", v.nonceTTL)
	}
	if v.nonceCapacity != maxNonceCapacity {
		t.Fatalf("expected capacity clamp, got %d", v.nonceCapacity)
	}
}

func TestNonceCacheCapacityEviction(t *testing.T) {
	cache := newNonceCache(5*time.Minute, 3)
	for i := 0; i < 4; i++ {
		cache.Add(fmt.Sprintf("nonce-%d", i), railNow)
	}
	if got := len(cache.entries); got != 3 {
		t.Fatalf("expected capacity 3, got %d", got)
	}
	if cache.Contains("nonce-0", railNow) {
		t.Fatalf("expected oldest nonce evicted")
	}
	if !cache.Contains("nonce-3", railNow) {
		t.Fatalf("expected newest nonce retained")
	}
	if cache.Contains("nonce-3", railNow.Add(6*time.Minute)) {
		t.Fatalf("expected nonce to expire after ttl")
	}
}

func TestStorageNoncesSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rail")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	body := []byte(`{}`)
	first := NewVerifier(map[string]string{"bank": "secret"}, Options{Now: func() time.Time { return railNow }, Store: NewStorageNonces(db)})
	if _, err := first.Verify(signedRequest(t, "bank", "secret", "n-1", railNow, body), body); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	second := NewVerifier(map[string]string{"bank": "secret"}, Options{Now: func() time.Time { return railNow.Add(time.Second) }, Store: NewStorageNonces(db)})
	if err := second.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if !second.cache("bank").Contains(fmt.Sprintf("%d|n-1", railNow.Unix()), railNow.Add(time.Second)) {
		t.Fatalf("expected hydrated nonce in cache")
	}
	if _, err := second.Verify(signedRequest(t, "bank", "secret", "n-1", railNow, body), body); err == nil {
		t.Fatalf("expected replay after restart to fail")
	}
}

func TestStorageNoncesPrune(t *testing.T) {
	db := storage.NewMemDB()
	nonces := NewStorageNonces(db)
	ctx := context.Background()
	for i, at := range []time.Time{railNow.Add(-20 * time.Minute), railNow} {
		existed, err := nonces.EnsureNonce(ctx, NonceRecord{Client: "bank", Timestamp: "1", Nonce: fmt.Sprint(i), ObservedAt: at})
		if err != nil || existed {
			t.Fatalf("ensure %d: existed=%v err=%v", i, existed, err)
		}
	}
	existed, err := nonces.EnsureNonce(ctx, NonceRecord{Client: "bank", Timestamp: "1", Nonce: "1", ObservedAt: railNow})
	if err != nil || !existed {
		t.Fatalf("expected duplicate detection, existed=%v err=%v", existed, err)
	}
	if err := nonces.PruneNonces(ctx, railNow.Add(-10*time.Minute)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	recent, err := nonces.RecentNonces(ctx, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Nonce != "1" {
		t.Fatalf("unexpected records after prune: %+v", recent)
	}
	if _, err := nonces.EnsureNonce(ctx, NonceRecord{Client: "bank"}); err == nil {
		t.Fatalf("expected incomplete record to fail")
	}
}

func TestDecodeNotice(t *testing.T) {
	notice, err := DecodeNotice([]byte(`{"reference":" wire-9 ","owner":"alice","tokenType":"native","amount":250}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if notice.Reference != "wire-9" || notice.Token != bounty.TokenNative || notice.Amount != 250 {
		t.Fatalf("unexpected notice %+v", notice)
	}
	for _, body := range []string{
		`{"owner":"alice","tokenType":"NATIVE","amount":1}`,
		`{"reference":"r","tokenType":"NATIVE","amount":1}`,
		`{"reference":"r","owner":"alice","tokenType":"GOLD","amount":1}`,
		`{"reference":"r","owner":"alice","tokenType":"NATIVE","amount":0}`,
		`not json`,
	} {
		if _, err := DecodeNotice([]byte(body)); !errors.Is(err, bounty.ErrInvalidArgument) {
			t.Fatalf("expected invalid argument for %s, got %v", body, err)
		}
	}
}
