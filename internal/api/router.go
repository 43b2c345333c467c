package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc Recommender, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Ingestion.
	r.Post("/ingest/notes", h.IngestNotes)
	r.Post("/ingest/users", h.IngestUsers)
	r.Post("/ingest/rebuild", h.Rebuild)

	// Recommendations.
	r.Get("/recommend/notes/similar/{noteID}", h.SimilarNotes)
	r.Get("/recommend/users/{userID}", h.ForUser)

	r.Get("/index/status", h.IndexStatus)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// NewHealthRouter serves the unauthenticated liveness and readiness probes.
func NewHealthRouter(svc Recommender) chi.Router {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/live", h.Live)
	r.Get("/ready", h.Ready)
	return r
}
