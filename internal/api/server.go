// Package api assembles the HTTP surface: router, middleware, and the
// /functions/v1 routes the frontend calls.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"github.com/eggtrack/eggtrack/internal/api/handler"
	"github.com/eggtrack/eggtrack/internal/api/respond"
	"github.com/eggtrack/eggtrack/internal/config"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(h *handler.Handler, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip
	r.Use(recoverer)

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins: cfg.CORSAllowOrigins,
		AllowedMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Accept-Encoding", "Authorization", "Content-Type",
			"x-secret-token", "x-internal-call",
		},
		ExposedHeaders:   []string{"X-Process-Time", "Link"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// Function routes, same paths the frontend already calls.
	r.Route("/functions/v1", func(r chi.Router) {
		// Identity exchange (public; the only unauthenticated route)
		r.Post("/discord-auth", h.DiscordAuth)

		// Scheduler / operator triggers (credential check inside)
		r.Post("/refresh-leaderboard-cron", h.RefreshLeaderboardCron)
		r.Post("/update-player-data", h.UpdatePlayerData)
		r.Post("/delete-snapshot", h.DeleteSnapshot)

		// Authenticated reads
		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Get("/get-leaderboard", h.GetLeaderboard)
			r.Get("/get-player-current-stats", h.GetPlayerCurrentStats)
		})

		// Admin reads
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Get("/weekly-statistics", h.GetWeeklyStatistics)
			r.Get("/email-log", h.GetEmailLog)
		})
	})

	return r
}

// recoverer converts handler panics into the standard error envelope.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
