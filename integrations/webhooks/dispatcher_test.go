package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"whistlechain/core/types"
	"whistlechain/native/bounty"
)

type rawEvent struct{ evt *types.Event }

func (r rawEvent) EventType() string   { return r.evt.Type }
func (r rawEvent) Event() *types.Event   { return r.evt }

func deposit() rawEvent {
	return rawEvent{bounty.NewDepositEvent("alice", bounty.TokenNative, 10)}
}

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		signature string
		eventType string
		body      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		signature = r.Header.Get(HeaderSignature)
		eventType = r.Header.Get(HeaderEvent)
		body = data
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	require.NoError(t, err)
	defer dispatcher.Close()

	dispatcher.Emit(deposit())
	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, bounty.EventTypeDeposit, eventType)
	require.True(t, Verify([]byte("secret"), body, signature))
	var payload Payload
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NotEmpty(t, payload.DeliveryID)
	require.Equal(t, "10", payload.Attributes["amount"])
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	require.NoError(t, err)
	defer dispatcher.Close()

	dispatcher.Emit(deposit())
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
	require.Zero(t, dispatcher.Failed())
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(2, time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	defer dispatcher.Close()

	dispatcher.Emit(deposit())
	waitFor(func() bool { return dispatcher.Failed() == 1 }, time.Second)
	require.Equal(t, uint64(1), dispatcher.Failed())
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDispatcherFiltersEvents(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithEvents(bounty.EventTypeBountyClosed))
	require.NoError(t, err)
	defer dispatcher.Close()

	dispatcher.Emit(deposit())
	dispatcher.Emit(rawEvent{&types.Event{Type: bounty.EventTypeBountyClosed, Attributes: map[string]string{}}})
	waitFor(func() bool { return received.Load() == 1 }, time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), received.Load())
}

func TestDispatcherDropsWhenClosed(t *testing.T) {
	dispatcher, err := NewDispatcher("http://127.0.0.1:0", []byte("secret"))
	require.NoError(t, err)
	dispatcher.Close()
	dispatcher.Emit(deposit())
	require.Equal(t, uint64(1), dispatcher.Dropped())
}

func TestCloseStopsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	dispatcher, err := NewDispatcher("http://example.invalid", []byte("secret"))
	require.NoError(t, err)
	dispatcher.Close()
	dispatcher.Close()
}

func TestNewDispatcherValidates(t *testing.T) {
	_, err := NewDispatcher(" ", []byte("secret"))
	require.Error(t, err)
	_, err = NewDispatcher("http://example.invalid", nil)
	require.Error(t, err)
}

func TestRetryPolicyDoublesAndCaps(t *testing.T) {
	dispatcher, err := NewDispatcher("http://example.invalid", []byte("secret"), WithRetryPolicy(4, 2*time.Second, 5*time.Second))
	require.NoError(t, err)
	defer dispatcher.Close()

	policy := dispatcher.retryPolicy()
	require.Equal(t, 2*time.Second, policy.NextBackOff())
	require.Equal(t, 4*time.Second, policy.NextBackOff())
	require.Equal(t, 5*time.Second, policy.NextBackOff())
	require.Equal(t, backoff.Stop, policy.NextBackOff())
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
