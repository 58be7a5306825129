package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/guard"
)

// Transport-level error kinds, alongside the engine's apperr kinds.
const (
	kindBadRequest   = "BadRequest"
	kindUnauthorized = "Unauthorized"
)

type errorPayload struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Recovery string `json:"recoverySuggestion,omitempty"`
}

type resultEnvelope struct {
	Result any `json:"result"`
}

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

// writeJSON encodes v and passes the encoded bytes through g before writing.
func writeJSON(w http.ResponseWriter, g *guard.Guard, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
		status = http.StatusInternalServerError
		payload = []byte(`{"error":{"kind":"Internal","message":"response encoding failed"}}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append([]byte(g.Redact(string(payload))), '\n'))
}

func writeResult(w http.ResponseWriter, g *guard.Guard, v any) {
	writeJSON(w, g, http.StatusOK, resultEnvelope{Result: v})
}

func writeError(w http.ResponseWriter, g *guard.Guard, status int, p errorPayload) {
	writeJSON(w, g, status, errorEnvelope{Error: p})
}

func badRequest(w http.ResponseWriter, g *guard.Guard, msg string) {
	writeError(w, g, http.StatusBadRequest, errorPayload{Kind: kindBadRequest, Message: msg})
}

// writeEngineError maps an engine error onto a status code and payload.
func writeEngineError(w http.ResponseWriter, g *guard.Guard, err error) {
	e := apperr.As(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(e, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(e, apperr.ErrCircularDependency):
		status = http.StatusConflict
	case errors.Is(e, apperr.ErrTokenBudgetExceeded):
		status = http.StatusBadRequest
	case errors.Is(e, apperr.ErrInvalidMetadata):
		status = http.StatusUnprocessableEntity
	}
	msg := e.Message
	if status == http.StatusInternalServerError {
		slog.Error("request failed", slog.String("error", g.RedactError(err)))
	} else if cause := errors.Unwrap(e); cause != nil {
		msg += ": " + cause.Error()
	}
	writeError(w, g, status, errorPayload{Kind: string(e.Kind), Message: msg, Recovery: e.Recovery})
}
