package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/engine"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
)

// ResolveRequest is the request body for resolving a scene.
type ResolveRequest struct {
	Roots  []string `json:"roots" example:"tasks/login.md,notes/auth.md#Tokens" validate:"required"`
	Budget int      `json:"budget,omitempty" example:"32000"`
}

// Validate checks the request shape; budget limits are enforced by the engine.
func (r ResolveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Roots, validation.Required, validation.Each(validation.Required)),
	)
}

// UpdateMetadataRequest is the request body for a metadata field update.
type UpdateMetadataRequest struct {
	Field string `json:"field" example:"status" validate:"required"`
	Value string `json:"value" example:"done"`
}

// Validate checks the request shape; field rules are enforced by the engine.
func (r UpdateMetadataRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Field, validation.Required),
	)
}

// Scene is the resolve response (aliased from the domain layer).
type Scene = models.Scene

// Document is the fetch and update response (aliased from the engine).
type Document = engine.DocumentView

// SearchResult is a single search hit.
type SearchResult = index.SearchResult

// ListItem is a metadata-only listing row.
type ListItem = index.ListRow

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// ListResponse wraps a status listing.
type ListResponse struct {
	Documents []ListItem `json:"documents" validate:"required"`
}

// BacklinksResponse wraps backlink identifiers.
type BacklinksResponse struct {
	ID        string   `json:"id" example:"notes/auth.md" validate:"required"`
	Backlinks []string `json:"backlinks" validate:"required"`
}
