package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/noterank/internal/apperr"
	"github.com/starford/noterank/internal/models"
	"github.com/starford/noterank/internal/recommend"
	"github.com/starford/noterank/internal/vectorindex"
)

// Recommender is the service surface used by the handlers.
type Recommender interface {
	Ready() bool
	Status() vectorindex.Status
	SimilarToNote(ctx context.Context, noteID string, k int) ([]models.ScoredItem, error)
	ForUser(ctx context.Context, userID string, k int) ([]models.ScoredItem, error)
	IngestNotes(ctx context.Context, source string, raws []map[string]any) (recommend.IngestResult, error)
	IngestUsers(ctx context.Context, source string, raws []map[string]any) (recommend.IngestResult, error)
	Rebuild(ctx context.Context) (int, error)
}

// Handler holds API route handlers.
type Handler struct {
	svc Recommender
}

// NewHandler creates a new Handler.
func NewHandler(svc Recommender) *Handler {
	return &Handler{svc: svc}
}

// parseK reads the k query parameter, defaulting to defaultK.
func parseK(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("k")
	if raw == "" {
		return defaultK, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("k: must be an integer")
	}
	if err := validation.Validate(k, validation.Min(1), validation.Max(maxK)); err != nil {
		return 0, errors.New("k: " + err.Error())
	}
	return k, nil
}

// writeServiceError maps service errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(notFound))
	case errors.Is(err, apperr.ErrIndexNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("index not ready"))
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrEmbedding):
		slog.Error("embedding provider failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("embedding provider error"))
	default:
		slog.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// SimilarNotes handles GET /api/recommend/notes/similar/{noteID}.
//
//	@Summary		Notes similar to a given note
//	@Tags			recommend
//	@Produce		json
//	@Param			noteID	path		string	true	"Source note id"
//	@Param			k		query		int		false	"Number of results (1-100)"
//	@Success		200		{object}	RecommendationResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recommend/notes/similar/{noteID} [get]
func (h *Handler) SimilarNotes(w http.ResponseWriter, r *http.Request) {
	k, err := parseK(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	items, err := h.svc.SimilarToNote(r.Context(), chi.URLParam(r, "noteID"), k)
	if err != nil {
		writeServiceError(w, err, "note not found")
		return
	}
	writeJSON(w, http.StatusOK, RecommendationResponse{Items: nonNil(items)})
}

// ForUser handles GET /api/recommend/users/{userID}.
//
//	@Summary		Personalised recommendations for a user
//	@Tags			recommend
//	@Produce		json
//	@Param			userID	path		string	true	"User id"
//	@Param			k		query		int		false	"Number of results (1-100)"
//	@Success		200		{object}	RecommendationResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recommend/users/{userID} [get]
func (h *Handler) ForUser(w http.ResponseWriter, r *http.Request) {
	k, err := parseK(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	items, err := h.svc.ForUser(r.Context(), chi.URLParam(r, "userID"), k)
	if err != nil {
		writeServiceError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, RecommendationResponse{Items: nonNil(items)})
}

// IngestNotes handles POST /api/ingest/notes.
//
//	@Summary		Store and index raw note records
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IngestNotesRequest	true	"Raw note records"
//	@Success		200		{object}	IngestResponse
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ingest/notes [post]
func (h *Handler) IngestNotes(w http.ResponseWriter, r *http.Request) {
	var req IngestNotesRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.IngestNotes(r.Context(), sourceAPI, req.Notes)
	if err != nil {
		writeServiceError(w, err, "not found")
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{OK: true, Count: res.Count, Mode: res.Mode})
}

// IngestUsers handles POST /api/ingest/users.
//
//	@Summary		Store raw user records
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IngestUsersRequest	true	"Raw user records"
//	@Success		200		{object}	IngestResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ingest/users [post]
func (h *Handler) IngestUsers(w http.ResponseWriter, r *http.Request) {
	var req IngestUsersRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.IngestUsers(r.Context(), sourceAPI, req.Users)
	if err != nil {
		writeServiceError(w, err, "not found")
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{OK: true, Count: res.Count})
}

// Rebuild handles POST /api/ingest/rebuild.
//
//	@Summary		Rebuild the index from every stored note
//	@Tags			ingest
//	@Produce		json
//	@Success		200	{object}	IngestResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ingest/rebuild [post]
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Rebuild(r.Context())
	if err != nil {
		writeServiceError(w, err, "not found")
		return
	}
	mode := recommend.ModeBuild
	if n == 0 {
		mode = recommend.ModeNone
	}
	writeJSON(w, http.StatusOK, IngestResponse{OK: true, Count: n, Mode: mode})
}

// IndexStatus handles GET /api/index/status.
//
//	@Summary		Index state, generation and size
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	IndexStatusResponse
//	@Security		BearerAuth
//	@Router			/index/status [get]
func (h *Handler) IndexStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready handles GET /health/ready. It reports 503 until the index is built.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	st := h.svc.Status()
	if !h.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Index: string(st.State)})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Index: string(st.State)})
}

func nonNil(items []models.ScoredItem) []models.ScoredItem {
	if items == nil {
		return []models.ScoredItem{}
	}
	return items
}
