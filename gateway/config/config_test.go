package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaultsSecureByDefault(t *testing.T) {
	cfg, err := LoadWithEnv("", nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if !cfg.Auth.enabledSet {
		t.Fatalf("expected auth.enabled default to mark enabledSet true")
	}
	if cfg.Auth.AllowAnonymous {
		t.Fatalf("expected auth.allowAnonymous to default to false")
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Fatalf("expected memory storage by default, got %q", cfg.Storage.Driver)
	}
	if cfg.Feed.Buffer != 64 {
		t.Fatalf("unexpected feed buffer %d", cfg.Feed.Buffer)
	}
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := LoadWithEnv(path, nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\nbogus: true\n")
	if _, err := LoadWithEnv(path, nil); err == nil {
		t.Fatalf("expected unknown field to fail decoding")
	}
}

func TestLoadRequiresOptionalPathsWhenAllowAnonymousEnabled(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: true\n  allowAnonymous: true\n")
	if _, err := LoadWithEnv(path, nil); err == nil {
		t.Fatalf("expected load to fail when auth.allowAnonymous is true without optional paths")
	}
}

func TestLoadSensitiveDeploymentRequiresExplicitAuth(t *testing.T) {
	path := writeConfig(t, "environment: prod\nauth:\n  hmacSecret: s3cret\n")
	_, err := LoadWithEnv(path, nil)
	if !errors.Is(err, ErrAuthEnabledNotConfigured) {
		t.Fatalf("expected ErrAuthEnabledNotConfigured, got %v", err)
	}
}

func TestLoadProductionRequiresSecret(t *testing.T) {
	path := writeConfig(t, "environment: prod\nauth:\n  enabled: true\n")
	_, err := LoadWithEnv(path, nil)
	if !errors.Is(err, ErrAuthSecretMissing) {
		t.Fatalf("expected ErrAuthSecretMissing, got %v", err)
	}

	cfg, err := LoadWithEnv(path, envMap(map[string]string{EnvHMACSecret: "from-env"}))
	if err != nil {
		t.Fatalf("load with env secret: %v", err)
	}
	if cfg.Auth.HMACSecret != "from-env" {
		t.Fatalf("expected secret from environment, got %q", cfg.Auth.HMACSecret)
	}
}

func TestLoadAllowsExplicitAuthDisabledForTLSConfig(t *testing.T) {
	yaml := "auth:\n  enabled: false\nsecurity:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n"
	path := writeConfig(t, yaml)
	if _, err := LoadWithEnv(path, nil); err != nil {
		t.Fatalf("load config: %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: postgres\n")
	cfg, err := LoadWithEnv(path, envMap(map[string]string{
		EnvDSN:    "postgres://localhost/whistle",
		EnvListen: ":9999",
		EnvAdmin:  "ops",
	}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.DSN != "postgres://localhost/whistle" {
		t.Fatalf("dsn override not applied: %q", cfg.Storage.DSN)
	}
	if cfg.ListenAddress != ":9999" {
		t.Fatalf("listen override not applied: %q", cfg.ListenAddress)
	}
	if cfg.Auth.Admin != "ops" {
		t.Fatalf("admin override not applied: %q", cfg.Auth.Admin)
	}
}

func TestStorageValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "memory", yaml: "storage:\n  driver: memory\n"},
		{name: "leveldb without path", yaml: "storage:\n  driver: leveldb\n", wantErr: true},
		{name: "leveldb", yaml: "storage:\n  driver: leveldb\n  path: /tmp/db\n"},
		{name: "bolt without path", yaml: "storage:\n  driver: bolt\n", wantErr: true},
		{name: "bolt", yaml: "storage:\n  driver: bolt\n  path: /tmp/bounties.bolt\n"},
		{name: "sqlite dsn", yaml: "storage:\n  driver: SQLite\n  dsn: file:x.db\n"},
		{name: "postgres without dsn", yaml: "storage:\n  driver: postgres\n", wantErr: true},
		{name: "unknown", yaml: "storage:\n  driver: mongo\n", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadWithEnv(writeConfig(t, tc.yaml), nil)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRailClientsRequireAdmin(t *testing.T) {
	yaml := "rail:\n  clients:\n    - id: bank\n      secret: abc\n"
	if _, err := LoadWithEnv(writeConfig(t, yaml), nil); err == nil {
		t.Fatalf("expected rail without admin to fail")
	}
	cfg, err := LoadWithEnv(writeConfig(t, yaml+"auth:\n  admin: ops\n"), nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Rail.Enabled() {
		t.Fatalf("expected rail enabled")
	}
	if cfg.Rail.ClockSkew != 2*time.Minute {
		t.Fatalf("expected default rail clock skew preserved, got %s", cfg.Rail.ClockSkew)
	}
}

func TestRateLimitValidation(t *testing.T) {
	yaml := "rateLimits:\n  - id: write\n    ratePerSecond: 2\n    burst: 4\n  - id: write\n    burst: 1\n"
	if _, err := LoadWithEnv(writeConfig(t, yaml), nil); err == nil {
		t.Fatalf("expected duplicate rate limit ids to fail")
	}
	cfg, err := LoadWithEnv(writeConfig(t, "rateLimits:\n  - id: write\n    ratePerSecond: 2\n    burst: 4\n"), nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	limit, ok := cfg.RateLimitByID("write")
	if !ok || limit.Burst != 4 {
		t.Fatalf("unexpected limit %+v", limit)
	}
}

func TestWebhookValidation(t *testing.T) {
	if _, err := LoadWithEnv(writeConfig(t, "webhooks:\n  - url: https://ops.example/hook\n"), nil); err == nil {
		t.Fatalf("expected webhook without secret to fail")
	}
	cfg, err := LoadWithEnv(writeConfig(t, "webhooks:\n  - url: https://ops.example/hook\n    secret: s\n    events: [bounty.closed]\n"), nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Events[0] != "bounty.closed" {
		t.Fatalf("unexpected webhooks %+v", cfg.Webhooks)
	}
}
