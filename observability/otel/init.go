package otel

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	// DefaultServiceName names the gateway when the config leaves it blank.
	DefaultServiceName = "bountyd"
	// ServiceNamespace groups every whistlechain binary in a collector.
	ServiceNamespace = "whistlechain"
	// DefaultEndpoint is the local OTLP/HTTP collector.
	DefaultEndpoint = "localhost:4318"

	// StorageDriverKey records which bounty store backs the process, so
	// spans from sqlite and postgres deployments can be told apart.
	StorageDriverKey = attribute.Key("whistlechain.storage.driver")
	// AdminConfiguredKey records whether an admin verifier is configured.
	AdminConfiguredKey = attribute.Key("whistlechain.admin.configured")
)

// Config describes the bountyd telemetry pipeline.
type Config struct {
	ServiceName     string
	Environment     string
	InstanceID      string
	StorageDriver   string
	AdminConfigured bool
	Endpoint        string
	Insecure        bool
	Headers         map[string]string
	Metrics         bool
	Traces          bool
}

// ApplyEnv overlays the standard OTEL_EXPORTER_OTLP_* variables on cfg.
// lookup is usually os.LookupEnv.
func (cfg Config) ApplyEnv(lookup func(string) (string, bool)) Config {
	if lookup == nil {
		return cfg
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && strings.TrimSpace(v) != "" {
		endpoint := strings.TrimSpace(v)
		if strings.HasPrefix(endpoint, "http://") {
			cfg.Insecure = true
		}
		endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
		cfg.Endpoint = strings.TrimSuffix(endpoint, "/")
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_INSECURE"); ok {
		cfg.Insecure = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_HEADERS"); ok {
		if headers := ParseHeaders(v); len(headers) > 0 {
			cfg.Headers = headers
		}
	}
	return cfg
}

func (cfg Config) withDefaults() Config {
	cfg.ServiceName = strings.TrimSpace(cfg.ServiceName)
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.InstanceID = host
		}
	}
	return cfg
}

// Attributes returns the resource attributes stamped on every span and
// metric bountyd exports.
func (cfg Config) Attributes() []attribute.KeyValue {
	cfg = cfg.withDefaults()
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceNamespace(ServiceNamespace),
		AdminConfiguredKey.Bool(cfg.AdminConfigured),
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.InstanceID))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	if driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver)); driver != "" {
		attrs = append(attrs, StorageDriverKey.String(driver))
	}
	return attrs
}

// NewResource builds the bountyd resource. OTEL_RESOURCE_ATTRIBUTES and
// OTEL_SERVICE_NAME win over the configured values.
func NewResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(cfg.Attributes()...),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	return res, nil
}

// Init installs the global providers for the enabled signals and the W3C
// propagator. The returned function flushes and stops them in reverse order.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	cfg = cfg.withDefaults()
	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var shutdownFns []func(context.Context) error
	if cfg.Traces {
		tp, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		shutdownFns = append(shutdownFns, tp.Shutdown)
	}
	if cfg.Metrics {
		mp, err := newMeterProvider(ctx, cfg, res)
		if err != nil {
			for i := len(shutdownFns) - 1; i >= 0; i-- {
				_ = shutdownFns[i](ctx)
			}
			return nil, err
		}
		otel.SetMeterProvider(mp)
		shutdownFns = append(shutdownFns, mp.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		var shutdownErr error
		for i := len(shutdownFns) - 1; i >= 0; i-- {
			if err := shutdownFns[i](ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
		return shutdownErr
	}, nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(2*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
	), nil
}

// Escrow transitions are low volume, so a 15s export interval is plenty.
func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	), nil
}

// ParseHeaders converts a comma-separated OTEL header string (key=value,foo=bar)
// into a map suitable for the exporter configuration.
func ParseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
