package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"whistlechain/core/events"
	"whistlechain/gateway/audit"
	"whistlechain/gateway/config"
	"whistlechain/gateway/evidence"
	"whistlechain/gateway/middleware"
	"whistlechain/gateway/rail"
	"whistlechain/gateway/routes"
	"whistlechain/integrations/webhooks"
	"whistlechain/native/bounty"
	"whistlechain/observability"
	"whistlechain/state/kvstore"
	"whistlechain/state/sqlstore"
	"whistlechain/storage"
)

const (
	idempotencyRetention = 24 * time.Hour
	idempotencySweep     = time.Hour
)

var defaultRateLimits = map[string]middleware.RateLimit{
	routes.RateLimitRead:     {RatePerSecond: 10, Burst: 40},
	routes.RateLimitWrite:    {RatePerSecond: 2, Burst: 10},
	routes.RateLimitEvidence: {RatePerSecond: 0.5, Burst: 5},
	routes.RateLimitFeed:     {RatePerSecond: 1, Burst: 5},
	routes.RateLimitRail:     {RatePerSecond: 5, Burst: 20},
}

// app holds the assembled gateway and everything that must be released on
// shutdown.
type app struct {
	handler     http.Handler
	engine      *bounty.Engine
	store       bounty.Store
	auditStore  *audit.Store
	dispatchers []*webhooks.Dispatcher
	logger      *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, nonceDB, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a := &app{store: store, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	engine := bounty.NewEngine(store)
	engine.SetAdmin(bounty.Identity(cfg.Auth.Admin))
	a.engine = engine

	feed := events.NewFeed()
	emitters := events.Multi{feed, observability.NewEventRecorder(nil)}
	for i, hook := range cfg.Webhooks {
		dispatcher, err := webhooks.NewDispatcher(hook.URL, []byte(hook.Secret),
			webhooks.WithEvents(hook.Events...),
			webhooks.WithRetryPolicy(hook.MaxAttempts, hook.MinBackoff, hook.MaxBackoff),
			webhooks.WithQueueSize(hook.QueueSize),
			webhooks.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("webhooks[%d]: %w", i, err)
		}
		a.dispatchers = append(a.dispatchers, dispatcher)
		emitters = append(emitters, dispatcher)
	}
	engine.SetEmitter(emitters)

	authenticator, err := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        cfg.Auth.Enabled,
		HMACSecret:     cfg.Auth.HMACSecret,
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
		RequireAddress: cfg.Auth.RequireAddress,
		OptionalPaths:  cfg.Auth.OptionalPaths,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		ClockSkew:      cfg.Auth.ClockSkew,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("configure auth: %w", err)
	}

	var recorder *audit.Recorder
	if path := strings.TrimSpace(cfg.Audit.Path); path != "" {
		auditStore, err := audit.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		a.auditStore = auditStore
		recorder = audit.NewRecorder(auditStore, func(r *http.Request) string {
			id, _ := middleware.IdentityFromContext(r.Context())
			return id.String()
		}, logger)
		go a.sweepIdempotency(ctx)
	}

	var verifier *rail.Verifier
	if cfg.Rail.Enabled() {
		secrets := make(map[string]string, len(cfg.Rail.Clients))
		for _, client := range cfg.Rail.Clients {
			secrets[client.ID] = client.Secret
		}
		verifier = rail.NewVerifier(secrets, rail.Options{
			ClockSkew: cfg.Rail.ClockSkew,
			NonceTTL:  cfg.Rail.NonceTTL,
			Store:     rail.NewStorageNonces(nonceDB),
		})
		if err := verifier.Hydrate(ctx); err != nil {
			return nil, fmt.Errorf("hydrate rail nonces: %w", err)
		}
	}

	var evidenceStore *evidence.Store
	if dir := strings.TrimSpace(cfg.Evidence.Dir); dir != "" {
		evidenceStore, err = evidence.Open(dir, cfg.Evidence.MaxBytes)
		if err != nil {
			return nil, err
		}
	}

	router, err := routes.New(routes.Config{
		Engine:        engine,
		Feed:          feed,
		Authenticator: authenticator,
		RateLimiter:   middleware.NewRateLimiter(rateLimits(cfg.RateLimits), logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: cfg.Observability.ServiceName,
			LogRequests: cfg.Observability.LogRequests,
			Enabled:     cfg.Observability.Metrics || cfg.Observability.Tracing,
		}, logger),
		Recorder:      recorder,
		Rail:          verifier,
		Evidence:      evidenceStore,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		FeedBuffer:    cfg.Feed.Buffer,
		ExportMaxRows: cfg.Export.MaxRows,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure routes: %w", err)
	}
	a.handler = router
	ok = true
	return a, nil
}

// openStore selects the record store. The returned database holds rail
// nonces; it shares the key-value backend when there is one.
func openStore(cfg config.StorageConfig) (bounty.Store, storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", config.DriverMemory:
		db := storage.NewMemDB()
		return kvstore.New(db), db, nil
	case config.DriverLevelDB:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
		}
		return kvstore.New(db), db, nil
	case config.DriverBolt:
		db, err := storage.NewBoltDB(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt %s: %w", cfg.Path, err)
		}
		return kvstore.New(db), db, nil
	case config.DriverSQLite, config.DriverPostgres:
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			dsn = cfg.Path
		}
		store, err := sqlstore.Open(strings.ToLower(strings.TrimSpace(cfg.Driver)), dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, storage.NewMemDB(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// rateLimits converts the configured limits, falling back to the built in
// defaults for any key left unconfigured.
func rateLimits(entries []config.RateLimitConfig) map[string]middleware.RateLimit {
	out := make(map[string]middleware.RateLimit, len(defaultRateLimits))
	for key, limit := range defaultRateLimits {
		out[key] = limit
	}
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			continue
		}
		out[id] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			RatePerSecond:     entry.RatePerSecond,
			Burst:             entry.Burst,
			DefaultTokens:     entry.DefaultTokens,
			Tokens:            entry.Tokens,
		}
	}
	return out
}

func (a *app) sweepIdempotency(ctx context.Context) {
	ticker := time.NewTicker(idempotencySweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := a.auditStore.PruneIdempotency(ctx, now.Add(-idempotencyRetention))
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					a.logger.Warn("prune idempotency keys failed", "error", err)
				}
				continue
			}
			if removed > 0 {
				a.logger.Info("pruned idempotency keys", "removed", removed)
			}
		}
	}
}

// Close drains webhooks and releases the stores.
func (a *app) Close() {
	for _, d := range a.dispatchers {
		d.Close()
	}
	if a.auditStore != nil {
		if err := a.auditStore.Close(); err != nil {
			a.logger.Warn("close audit store", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close record store", "error", err)
		}
	}
}
