// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the context engine to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/engine"
)

const (
	contractURI  = "ansuz://reference-syntax"
	searchLimit  = 20
	kindBadInput = "BadRequest"
)

// Server wraps the MCP server with the engine tools.
type Server struct {
	mcp *server.MCPServer
	eng *engine.Engine
}

// New creates a new MCP server with all tools registered.
func New(eng *engine.Engine) *Server {
	s := &Server{eng: eng}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("resolve_context",
		mcp.WithDescription("Resolve one or more root documents and everything they reference into a single "+
			"budget-bounded context scene. Read the reference syntax via the "+contractURI+" resource."),
		mcp.WithString("roots", mcp.Required(), mcp.Description("Root document ids, comma or newline separated (e.g. tasks/login.md,design/auth#Tokens)")),
		mcp.WithString("budget", mcp.Description("Optional token budget; empty uses the server default")),
	), s.resolveContext)

	s.mcp.AddTool(mcp.NewTool("search_context",
		mcp.WithDescription("Full-text ranked lookup over document titles and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchContext)

	s.mcp.AddTool(mcp.NewTool("fetch_document",
		mcp.WithDescription("Fetch one document, or a single anchor section of it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id relative to the vault (e.g. tasks/login.md)")),
		mcp.WithString("anchor", mcp.Description("Optional heading name to return only that section")),
	), s.fetchDocument)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List documents by metadata status without resolving references."),
		mcp.WithString("status", mcp.Description("Optional status filter (empty for all)")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("update_metadata",
		mcp.WithDescription("Atomically set one metadata field (title, status, priority, assignee) of a document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("field", mcp.Required(), mcp.Description("One of title, status, priority, assignee")),
		mcp.WithString("value", mcp.Required(), mcp.Description("New value; priority must be an integer")),
	), s.updateMetadata)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all documents that reference the specified document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Reference Syntax Contract",
			mcp.WithResourceDescription("How documents declare metadata, references and anchors."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type errorPayload struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Recovery string `json:"recoverySuggestion,omitempty"`
}

// result encodes v as {"result": v} and redacts the encoded text.
func (s *Server) result(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(map[string]any{"result": v}, "", "  ")
	if err != nil {
		return s.failure(apperr.Internal("encode result", err))
	}
	return mcp.NewToolResultText(s.eng.Guard().Redact(string(out)))
}

// failure encodes an engine error as {"error": {...}}.
func (s *Server) failure(err error) *mcp.CallToolResult {
	e := apperr.As(err)
	msg := e.Message
	if e.Kind == apperr.KindInternal {
		slog.Error("tool failed", slog.String("error", s.eng.Guard().RedactError(err)))
	} else if cause := e.Unwrap(); cause != nil {
		msg += ": " + cause.Error()
	}
	return s.errorResult(errorPayload{Kind: string(e.Kind), Message: msg, Recovery: e.Recovery})
}

func (s *Server) badInput(err error) *mcp.CallToolResult {
	return s.errorResult(errorPayload{Kind: kindBadInput, Message: err.Error()})
}

func (s *Server) errorResult(p errorPayload) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(map[string]any{"error": p}, "", "  ")
	return mcp.NewToolResultError(s.eng.Guard().Redact(string(out)))
}

// optional returns the string argument key, or "" when it is absent.
func optional(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return v
}

// splitRoots accepts comma or newline separated ids.
func splitRoots(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (s *Server) resolveContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("roots")
	if err != nil {
		return s.badInput(err), nil
	}
	roots := splitRoots(raw)
	if len(roots) == 0 {
		return s.errorResult(errorPayload{Kind: kindBadInput, Message: "roots must name at least one document"}), nil
	}
	budget := 0
	if b := strings.TrimSpace(optional(req, "budget")); b != "" {
		if budget, err = strconv.Atoi(b); err != nil {
			return s.errorResult(errorPayload{Kind: kindBadInput, Message: "budget must be an integer"}), nil
		}
	}
	scene, err := s.eng.Resolve(ctx, roots, budget)
	if err != nil {
		return s.failure(err), nil
	}
	return s.result(scene), nil
}

func (s *Server) searchContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return s.badInput(err), nil
	}
	results, err := s.eng.Search(ctx, query, searchLimit)
	if err != nil {
		return s.failure(err), nil
	}
	return s.result(results), nil
}

func (s *Server) fetchDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return s.badInput(err), nil
	}
	doc, err := s.eng.Fetch(ctx, id, optional(req, "anchor"))
	if err != nil {
		return s.failure(err), nil
	}
	return s.result(doc), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, err := s.eng.List(ctx, optional(req, "status"))
	if err != nil {
		return s.failure(err), nil
	}
	return s.result(rows), nil
}

func (s *Server) updateMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return s.badInput(err), nil
	}
	field, err := req.RequireString("field")
	if err != nil {
		return s.badInput(err), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return s.badInput(err), nil
	}
	doc, err := s.eng.UpdateMetadata(ctx, id, field, value)
	if err != nil {
		return s.failure(err), nil
	}
	return s.result(doc), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return s.badInput(err), nil
	}
	bl, err := s.eng.Backlinks(ctx, id)
	if err != nil {
		return s.failure(err), nil
	}
	return s.result(map[string]any{"id": id, "backlinks": bl}), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     ReferenceSyntaxContract,
		},
	}, nil
}
