package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check — public, no auth required
	r.Get("/health", h.Health)

	// API routes — protected by API key auth
	r.Route("/v1", func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		// Runs
		r.Get("/runs", h.ListRuns)
		r.Post("/runs", h.CreateRun)
		r.Get("/runs/{id}", h.GetRun)
		r.Post("/runs/{id}/cancel", h.CancelRun)

		// Scenes — live generation state
		r.Get("/scenes", h.ListScenes)
		r.Get("/scenes/{id}/images/{slot}", h.GetSceneImage)
		r.Put("/scenes/{id}/description", h.UpdateSceneDescription)
		r.Post("/scenes/{id}/prompts", h.RegenerateScenePrompts)
		r.Post("/scenes/{id}/images", h.RegenerateSceneImages)
		r.Delete("/scenes/{id}/images", h.ClearSceneImages)
		r.Post("/scenes/{id}/audio", h.RegenerateSceneAudio)

		// Assembly and export
		r.Post("/assemble", h.AssembleVideo)
		r.Get("/export", h.ExportAssets)

		// Backend credential
		r.Get("/credential", h.GetCredential)
		r.Put("/credential", h.SetCredential)
		r.Delete("/credential", h.ClearCredential)
	})

	return r
}
