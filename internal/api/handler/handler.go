// Package handler implements the HTTP handlers for the eggtrack API.
//
// Routes keep the /functions/v1 prefix the frontend already calls, so the
// server is a drop-in replacement behind the existing reverse proxy.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eggtrack/eggtrack/internal/api/respond"
	"github.com/eggtrack/eggtrack/internal/auth"
	"github.com/eggtrack/eggtrack/internal/config"
	"github.com/eggtrack/eggtrack/internal/controller"
	"github.com/eggtrack/eggtrack/internal/store"
	"github.com/eggtrack/eggtrack/internal/upstream"
)

// Runner is the controller surface the API drives.
type Runner interface {
	Tick(ctx context.Context) (controller.TickResult, error)
	Import(ctx context.Context, opts controller.ImportOptions) (controller.ImportResult, error)
}

// Fetcher pulls the latest player records from the upstream feed.
type Fetcher interface {
	Fetch(ctx context.Context) ([]upstream.PlayerRecord, error)
}

// DataStore is the persistence surface the read and admin endpoints use.
type DataStore interface {
	ReadCache(ctx context.Context) ([]store.CacheEntry, error)
	ReadCacheRow(ctx context.Context, id string) (*store.CacheEntry, error)
	CacheLastUpdated(ctx context.Context) (time.Time, error)
	ReplaceCache(ctx context.Context, records []upstream.PlayerRecord, now time.Time) (store.CacheResult, error)
	DeleteSnapshot(ctx context.Context, snapshotDate, performedBy string) (int64, error)
	CountSnapshotRows(ctx context.Context, snapshotDate string) (int, error)
	ListEmailLog(ctx context.Context, limit, offset int) ([]store.EmailLogEntry, error)
	WeeklyStatistics(ctx context.Context) ([]store.WeeklyStatRow, error)
}

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Authenticator runs the Discord identity exchange.
type Authenticator interface {
	Exchange(ctx context.Context, code, redirectURI string) (auth.ExchangeResult, error)
}

// Pinger checks database connectivity for the health endpoint.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds dependencies for all API endpoints.
type Handler struct {
	runner   Runner
	fetcher  Fetcher
	store    DataStore
	tokens   TokenVerifier
	exchange Authenticator
	db       Pinger
	cfg      *config.Config
	logger   *slog.Logger

	now func() time.Time
}

// Deps bundles the handler's collaborators.
type Deps struct {
	Runner   Runner
	Fetcher  Fetcher
	Store    DataStore
	Tokens   TokenVerifier
	Exchange Authenticator
	DB       Pinger
	Config   *config.Config
	Logger   *slog.Logger
	Now      func() time.Time
}

// New creates a Handler.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{
		runner:   d.Runner,
		fetcher:  d.Fetcher,
		store:    d.Store,
		tokens:   d.Tokens,
		exchange: d.Exchange,
		db:       d.DB,
		cfg:      d.Config,
		logger:   d.Logger,
		now:      d.Now,
	}
}

// --------------------------------------------------------------------------
// Session auth middleware
// --------------------------------------------------------------------------

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFrom extracts the authenticated principal from the request
// context. The zero Principal means the request was not authenticated.
func PrincipalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(principalKey).(auth.Principal)
	return p
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireSession rejects requests without a valid session token and stores
// the principal in the request context.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
			return
		}
		p, err := h.tokens.Verify(token)
		if err != nil {
			respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin layers an access-level check on top of RequireSession.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return h.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !PrincipalFrom(r.Context()).IsAdmin() {
			respond.WriteError(w, http.StatusForbidden, "FORBIDDEN", "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// operatorSecretOK reports whether the request carries the operator secret.
// An empty configured secret disables this path entirely.
func (h *Handler) operatorSecretOK(r *http.Request) bool {
	return h.cfg.SecretToken != "" && r.Header.Get("x-secret-token") == h.cfg.SecretToken
}

// serviceRoleOK reports whether the request is an internal service call:
// service-role bearer plus the explicit internal-call marker.
func (h *Handler) serviceRoleOK(r *http.Request) bool {
	if h.cfg.ServiceRoleKey == "" {
		return false
	}
	return bearerToken(r) == h.cfg.ServiceRoleKey && r.Header.Get("x-internal-call") == "true"
}
