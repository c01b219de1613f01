package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"whistlechain/crypto"
	"whistlechain/native/bounty"
	"whistlechain/observability/logging"
)

// DevIdentityHeader carries the caller identity when authentication is
// disabled. It is ignored whenever tokens are enforced.
const DevIdentityHeader = "X-Whistle-Identity"

type AuthConfig struct {
	Enabled        bool
	HMACSecret     string
	Issuer         string
	Audience       string
	RequireAddress bool
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type contextKey string

const (
	ContextKeyToken    contextKey = "gateway.token"
	ContextKeyIdentity contextKey = "gateway.identity"
)

var (
	errMissingSubject = errors.New("token subject missing")
	errIssuerMismatch = errors.New("issuer mismatch")
	errAudience       = errors.New("audience mismatch")
)

// Authenticator resolves the caller identity from HMAC signed bearer tokens.
// The identity is the token subject.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	secret := []byte(strings.TrimSpace(cfg.HMACSecret))
	if cfg.Enabled && len(secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, logger: logger.With("component", "auth"), secret: secret, now: time.Now}, nil
}

// IdentityFromContext returns the authenticated caller attached by the
// middleware.
func IdentityFromContext(ctx context.Context) (bounty.Identity, bool) {
	id, ok := ctx.Value(ContextKeyIdentity).(bounty.Identity)
	if !ok || id.IsZero() {
		return "", false
	}
	return id, true
}

// WithIdentity attaches an identity to ctx.
func WithIdentity(ctx context.Context, id bounty.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, id.Normalize())
}

func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				if id := bounty.Identity(r.Header.Get(DevIdentityHeader)); !id.IsZero() {
					r = r.WithContext(WithIdentity(r.Context(), id))
				}
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			optional := a.cfg.AllowAnonymous && a.isOptional(r.URL.Path)
			if tokenString == "" {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			identity, err := a.Authenticate(tokenString)
			if err != nil {
				a.logger.Warn("token validation failed", "route", r.URL.Path, logging.MaskField("token", tokenString), "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyToken, tokenString)
			ctx = WithIdentity(ctx, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate validates a raw token and returns its subject.
func (a *Authenticator) Authenticate(tokenString string) (bounty.Identity, error) {
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return "", err
	}
	if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
		return "", err
	}
	sub, _ := claims["sub"].(string)
	identity := bounty.Identity(sub).Normalize()
	if identity.IsZero() {
		return "", errMissingSubject
	}
	if a.cfg.RequireAddress {
		if _, err := crypto.DecodeIdentity(string(identity)); err != nil {
			return "", err
		}
	}
	return identity, nil
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errIssuerMismatch
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errAudience
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errAudience
			}
		default:
			return errAudience
		}
	}
	return nil
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
