package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whistlechain/gateway/audit"
	"whistlechain/gateway/config"
	"whistlechain/gateway/middleware"
	"whistlechain/gateway/routes"
	"whistlechain/native/bounty"
	"whistlechain/observability/logging"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.Enabled = false
	cfg.Auth.Admin = "ops"
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.db")
	cfg.Evidence.Dir = t.TempDir()
	cfg.Rail.Clients = []config.RailClient{{ID: "bank", Secret: "s"}}
	return cfg
}

func TestNewAppServesGateway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := logging.New(&bytes.Buffer{}, "bountyd", "test", 0)
	application, err := newApp(ctx, testConfig(t), logger)
	require.NoError(t, err)
	defer application.Close()

	server := httptest.NewServer(application.handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	post := func(identity, path string, body interface{}) *http.Response {
		t.Helper()
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, server.URL+path, bytes.NewReader(data))
		require.NoError(t, err)
		req.Header.Set(middleware.DevIdentityHeader, identity)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}
	require.Equal(t, http.StatusOK, post("ops", "/v1/deposits", map[string]interface{}{"owner": "alice", "tokenType": "NATIVE", "amount": 5}).StatusCode)
	require.Equal(t, http.StatusCreated, post("alice", "/v1/bounties", map[string]interface{}{"title": "t", "amount": 5, "tokenType": "NATIVE"}).StatusCode)

	list, err := application.engine.Bounties(ctx, bounty.BountyFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	entries, err := application.auditStore.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// The record store and the audit log share one sqlite driver registration
// inside this binary.
func TestNewAppWithSQLiteRecordsAndAudit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "bounties.db")}
	application, err := newApp(ctx, cfg, logging.New(&bytes.Buffer{}, "bountyd", "test", 0))
	require.NoError(t, err)
	defer application.Close()

	require.NoError(t, application.engine.Deposit(ctx, "ops", "alice", bounty.TokenNative, 7))
	balance, err := application.engine.Balance(ctx, "alice", bounty.TokenNative)
	require.NoError(t, err)
	require.EqualValues(t, 7, balance)

	require.NoError(t, application.auditStore.InsertAuditLog(ctx, audit.Entry{Principal: "alice", Method: http.MethodPost, Path: "/v1/bounties", Timestamp: time.Now()}))
	entries, err := application.auditStore.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestNewAppRejectsMissingSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.HMACSecret = ""
	_, err := newApp(context.Background(), cfg, logging.New(&bytes.Buffer{}, "bountyd", "test", 0))
	require.Error(t, err)
}

func TestOpenStoreDrivers(t *testing.T) {
	dir := t.TempDir()
	cases := []config.StorageConfig{
		{Driver: config.DriverMemory},
		{Driver: config.DriverLevelDB, Path: filepath.Join(dir, "ldb")},
		{Driver: config.DriverBolt, Path: filepath.Join(dir, "bounties.bolt")},
		{Driver: config.DriverSQLite, Path: filepath.Join(dir, "bounties.db")},
	}
	for _, storageCfg := range cases {
		t.Run(storageCfg.Driver, func(t *testing.T) {
			store, nonces, err := openStore(storageCfg)
			require.NoError(t, err)
			require.NotNil(t, nonces)
			engine := bounty.NewEngine(store)
			engine.SetAdmin("ops")
			require.NoError(t, engine.Deposit(context.Background(), "ops", "alice", bounty.TokenNative, 3))
			bal, err := engine.Balance(context.Background(), "alice", bounty.TokenNative)
			require.NoError(t, err)
			require.Equal(t, uint64(3), bal)
			require.NoError(t, store.Close())
		})
	}
	_, _, err := openStore(config.StorageConfig{Driver: "mongo"})
	require.Error(t, err)
}

func TestRateLimitsMergeDefaults(t *testing.T) {
	limits := rateLimits([]config.RateLimitConfig{{ID: routes.RateLimitWrite, RatePerSecond: 9, Burst: 3}, {ID: "  "}})
	require.Equal(t, 9.0, limits[routes.RateLimitWrite].RatePerSecond)
	require.Equal(t, defaultRateLimits[routes.RateLimitRead], limits[routes.RateLimitRead])
	require.Len(t, limits, len(defaultRateLimits))
}

func TestIsLoopbackAddress(t *testing.T) {
	require.True(t, isLoopbackAddress("127.0.0.1:8080"))
	require.True(t, isLoopbackAddress("localhost:8080"))
	require.False(t, isLoopbackAddress(":8080"))
	require.False(t, isLoopbackAddress("10.0.0.5:8080"))
}

func TestBuildTLSConfigRequiresPair(t *testing.T) {
	cfg, err := buildTLSConfig("", config.SecurityConfig{})
	require.NoError(t, err)
	require.Nil(t, cfg)
	_, err = buildTLSConfig("/etc", config.SecurityConfig{TLSCertFile: "cert.pem"})
	require.Error(t, err)
}
