package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/engine"
)

// Handler holds API route handlers.
type Handler struct {
	eng *engine.Engine
}

// NewHandler creates a new Handler.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{eng: eng}
}

// docPath extracts the document identifier from the URL (everything after the
// route prefix). Supports encoded slashes (e.g. tasks%2Flogin.md).
func docPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Resolve handles POST /api/resolve.
//
//	@Summary		Resolve a token-bounded scene from one or more roots
//	@Tags			resolve
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ResolveRequest	true	"Roots and budget"
//	@Success		200		{object}	Scene
//	@Failure		400		{object}	errorEnvelope
//	@Failure		404		{object}	errorEnvelope
//	@Failure		409		{object}	errorEnvelope
//	@Security		BearerAuth
//	@Router			/resolve [post]
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	g := h.eng.Guard()
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, g, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(w, g, err.Error())
		return
	}
	scene, err := h.eng.Resolve(r.Context(), req.Roots, req.Budget)
	if err != nil {
		writeEngineError(w, g, err)
		return
	}
	writeResult(w, g, scene)
}

// Search handles GET /api/search.
//
//	@Summary		Ranked lookup across documents
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errorEnvelope
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	g := h.eng.Guard()
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		badRequest(w, g, "query parameter 'q' is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.eng.Search(r.Context(), q, limit)
	if err != nil {
		writeEngineError(w, g, err)
		return
	}
	writeResult(w, g, SearchResponse{Results: results})
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List document metadata, optionally filtered by status
//	@Tags			documents
//	@Produce		json
//	@Param			status	query		string	false	"Status filter (case-insensitive)"
//	@Success		200		{object}	ListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	g := h.eng.Guard()
	rows, err := h.eng.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeEngineError(w, g, err)
		return
	}
	writeResult(w, g, ListResponse{Documents: rows})
}

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Fetch a document, or one anchor section of it
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document identifier"
//	@Param			anchor	query		string	false	"Anchor selector"
//	@Success		200		{object}	Document
//	@Failure		404		{object}	errorEnvelope
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	g := h.eng.Guard()
	id := docPath(r)
	if id == "" {
		badRequest(w, g, "path is required")
		return
	}
	doc, err := h.eng.Fetch(r.Context(), id, r.URL.Query().Get("anchor"))
	if err != nil {
		writeEngineError(w, g, err)
		return
	}
	writeResult(w, g, doc)
}

// UpdateMetadata handles PATCH /api/documents/*.
//
//	@Summary		Atomically set one metadata field
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string					true	"Document identifier"
//	@Param			body	body		UpdateMetadataRequest	true	"Field and value"
//	@Success		200		{object}	Document
//	@Failure		400		{object}	errorEnvelope
//	@Failure		404		{object}	errorEnvelope
//	@Failure		422		{object}	errorEnvelope
//	@Security		BearerAuth
//	@Router			/documents/{path} [patch]
func (h *Handler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	g := h.eng.Guard()
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	id := docPath(r)
	if id == "" {
		badRequest(w, g, "path is required")
		return
	}
	var req UpdateMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, g, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(w, g, err.Error())
		return
	}
	doc, err := h.eng.UpdateMetadata(r.Context(), id, req.Field, req.Value)
	if err != nil {
		writeEngineError(w, g, err)
		return
	}
	writeResult(w, g, doc)
}

// Backlinks handles GET /api/backlinks/*.
//
//	@Summary		Documents referencing the given document
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document identifier"
//	@Success		200		{object}	BacklinksResponse
//	@Security		BearerAuth
//	@Router			/backlinks/{path} [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	g := h.eng.Guard()
	id := docPath(r)
	if id == "" {
		badRequest(w, g, "path is required")
		return
	}
	links, err := h.eng.Backlinks(r.Context(), id)
	if err != nil {
		writeEngineError(w, g, err)
		return
	}
	writeResult(w, g, BacklinksResponse{ID: id, Backlinks: links})
}
