package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/noterank/internal/models"
	"github.com/starford/noterank/internal/vectorindex"
)

// Request-level limits for k.
const (
	defaultK = 10
	maxK     = 100
)

// sourceAPI labels records pushed over HTTP in the catalog.
const sourceAPI = "api"

// IngestNotesRequest is the request body for ingesting raw note records.
type IngestNotesRequest struct {
	Notes []map[string]any `json:"notes" validate:"required"`
}

// Validate checks that the notes list is present.
func (r IngestNotesRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Notes, validation.NotNil),
	)
}

// IngestUsersRequest is the request body for ingesting raw user records.
type IngestUsersRequest struct {
	Users []map[string]any `json:"users" validate:"required"`
}

// Validate checks that the users list is present.
func (r IngestUsersRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Users, validation.NotNil),
	)
}

// IngestResponse is returned by the ingest endpoints.
type IngestResponse struct {
	OK    bool   `json:"ok" example:"true" validate:"required"`
	Count int    `json:"count" example:"42" validate:"required"`
	Mode  string `json:"mode,omitempty" example:"upsert" enums:"none,build,upsert"`
}

// RecommendationResponse wraps a ranked list of notes.
type RecommendationResponse struct {
	Items []models.ScoredItem `json:"items" validate:"required"`
}

// IndexStatusResponse is the index status payload.
type IndexStatusResponse = vectorindex.Status

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status string `json:"status" example:"ok" validate:"required"`
	Index  string `json:"index,omitempty" example:"ready"`
}
