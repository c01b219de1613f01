package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders("api-key=abc, x-team = whistle,broken,=skip")
	if len(got) != 2 || got["api-key"] != "abc" || got["x-team"] != "whistle" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318/",
		"OTEL_EXPORTER_OTLP_HEADERS":  "authorization=token",
	}
	cfg := Config{ServiceName: "bountyd", Endpoint: "localhost:4318"}.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Endpoint != "collector:4318" || !cfg.Insecure {
		t.Fatalf("unexpected endpoint config %+v", cfg)
	}
	if cfg.Headers["authorization"] != "token" {
		t.Fatalf("expected headers from env, got %v", cfg.Headers)
	}
}

func TestAttributesDescribeGateway(t *testing.T) {
	attrs := Config{Environment: "staging", InstanceID: "gw-1", StorageDriver: " Postgres ", AdminConfigured: true}.Attributes()
	set := attribute.NewSet(attrs...)
	want := map[attribute.Key]string{
		"service.name":           DefaultServiceName,
		"service.namespace":      ServiceNamespace,
		"service.instance.id":    "gw-1",
		"deployment.environment": "staging",
		StorageDriverKey:         "postgres",
	}
	for key, value := range want {
		got, ok := set.Value(key)
		if !ok || got.AsString() != value {
			t.Fatalf("attribute %s = %q (present=%t), want %q", key, got.AsString(), ok, value)
		}
	}
	if got, _ := set.Value(AdminConfiguredKey); !got.AsBool() {
		t.Fatalf("expected admin flag on the resource")
	}
}

func TestNewResourceHonoursEnvOverride(t *testing.T) {
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "whistlechain.storage.driver=bolt")
	res, err := NewResource(context.Background(), Config{StorageDriver: "memory"})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	got, ok := res.Set().Value(StorageDriverKey)
	if !ok || got.AsString() != "bolt" {
		t.Fatalf("expected env to win, got %q", got.AsString())
	}
}

func TestInitWithoutSignals(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
