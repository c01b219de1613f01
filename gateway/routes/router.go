package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"whistlechain/core/events"
	"whistlechain/gateway/audit"
	"whistlechain/gateway/evidence"
	"whistlechain/gateway/middleware"
	"whistlechain/gateway/rail"
	"whistlechain/native/bounty"
)

// Rate limit keys looked up in the limiter configuration.
const (
	RateLimitRead     = "read"
	RateLimitWrite    = "write"
	RateLimitEvidence = "evidence"
	RateLimitFeed     = "feed"
	RateLimitRail     = "rail"
)

const (
	defaultFeedBuffer    = 64
	defaultExportMaxRows = 10000
)

type Config struct {
	Engine        *bounty.Engine
	Feed          *events.Feed
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Recorder      *audit.Recorder
	Rail          *rail.Verifier
	Evidence      *evidence.Store
	CORS          middleware.CORSConfig
	FeedBuffer    int
	ExportMaxRows int
	Logger        *slog.Logger
}

type api struct {
	engine         *bounty.Engine
	feed           *events.Feed
	recorder       *audit.Recorder
	rail           *rail.Verifier
	evidence       *evidence.Store
	logger         *slog.Logger
	feedBuffer     int
	exportMaxRows  int
	originPatterns []string
}

// New assembles the gateway router. Optional collaborators left nil disable
// the routes that depend on them.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("routes: engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &api{
		engine:         cfg.Engine,
		feed:           cfg.Feed,
		recorder:       cfg.Recorder,
		rail:           cfg.Rail,
		evidence:       cfg.Evidence,
		logger:         logger.With("component", "gateway"),
		feedBuffer:     cfg.FeedBuffer,
		exportMaxRows:  cfg.ExportMaxRows,
		originPatterns: originPatterns(cfg.CORS.AllowedOrigins),
	}
	if h.feedBuffer <= 0 {
		h.feedBuffer = defaultFeedBuffer
	}
	if h.exportMaxRows <= 0 {
		h.exportMaxRows = defaultExportMaxRows
	}
	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return passthrough
		}
		return cfg.RateLimiter.Middleware(key)
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Route("/v1", func(v chi.Router) {
		// Rail clients sign requests themselves and never carry bearer
		// tokens.
		if h.rail != nil {
			v.With(limit(RateLimitRail)).Post("/rail/deposits", h.railDeposit)
		}

		v.Group(func(sr chi.Router) {
			if cfg.Authenticator != nil {
				sr.Use(cfg.Authenticator.Middleware())
			}

			sr.Group(func(rd chi.Router) {
				rd.Use(limit(RateLimitRead))
				rd.Get("/bounties", h.listBounties)
				rd.Get("/bounties/{id}", h.getBounty)
				rd.Get("/bounties/{id}/tips", h.listTips)
				rd.Get("/bounties/{id}/claims", h.listClaims)
				rd.Get("/tips/{id}", h.getTip)
				rd.Get("/claims/{id}", h.getClaim)
				rd.Get("/accounts/me/balances", h.myBalances)
				rd.Get("/accounts/{owner}/balances", h.balances)
				rd.Get("/exports/bounties", h.exportBounties)
				rd.Get("/admin/audit", h.auditLog)
			})

			sr.Group(func(wr chi.Router) {
				wr.Use(limit(RateLimitWrite))
				if h.recorder != nil {
					wr.Use(h.recorder.Middleware)
				}
				wr.Post("/bounties", h.createBounty)
				wr.Post("/bounties/{id}/tips", h.submitTip)
				wr.Post("/bounties/{id}/claims", h.submitClaim)
				wr.Post("/bounties/{id}/close", h.closeBounty)
				wr.Post("/claims/{id}/verify", h.verifyClaim)
				wr.Post("/deposits", h.deposit)
			})

			if h.evidence != nil {
				sr.Group(func(er chi.Router) {
					er.Use(limit(RateLimitEvidence))
					er.Post("/evidence", h.uploadEvidence)
					er.Get("/evidence/{ref}", h.downloadEvidence)
				})
			}

			if h.feed != nil {
				sr.With(limit(RateLimitFeed)).Get("/feed", h.streamFeed)
			}
		})
	})

	return r, nil
}

func passthrough(next http.Handler) http.Handler { return next }

// caller returns the authenticated identity or writes a 401.
func (h *api) caller(w http.ResponseWriter, r *http.Request) (bounty.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, codeUnauthenticated, errNoIdentity)
		return "", false
	}
	return id, true
}

// requireAdmin returns the caller when it is the configured admin.
func (h *api) requireAdmin(w http.ResponseWriter, r *http.Request) (bounty.Identity, bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return "", false
	}
	if !h.engine.Guard().IsAdmin(caller) {
		writeJSONError(w, http.StatusForbidden, codeUnauthorized, errors.New("admin only"))
		return "", false
	}
	return caller, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (bounty.ID, bool) {
	id, err := bounty.ParseID(chi.URLParam(r, param))
	if err != nil {
		writeBadRequest(w, err)
		return bounty.ID{}, false
	}
	return id, true
}

// originPatterns converts CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	var out []string
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, origin)
	}
	return out
}
