// Package apperr defines the error taxonomy returned at the engine boundary.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of boundary error.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindCircularDependency  Kind = "CircularDependency"
	KindTokenBudgetExceeded Kind = "TokenBudgetExceeded"
	KindInvalidMetadata     Kind = "InvalidMetadata"
	KindInternal            Kind = "Internal"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrNotFound            = errors.New("not found")
	ErrCircularDependency  = errors.New("circular dependency")
	ErrTokenBudgetExceeded = errors.New("token budget exceeded")
	ErrInvalidMetadata     = errors.New("invalid metadata")
	ErrInternal            = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindNotFound:            ErrNotFound,
	KindCircularDependency:  ErrCircularDependency,
	KindTokenBudgetExceeded: ErrTokenBudgetExceeded,
	KindInvalidMetadata:     ErrInvalidMetadata,
	KindInternal:            ErrInternal,
}

// Location pinpoints a position inside a document.
type Location struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

func (l Location) String() string {
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.Path, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.Path, l.Line)
}

// Error is a boundary error carrying enough detail for an actionable message.
type Error struct {
	Kind     Kind
	Message  string
	Recovery string

	ID        string    // NotFound
	Path      []string  // CircularDependency: root ... repeated node
	Cycle     []string  // CircularDependency: nodes on the cycle
	Requested int       // TokenBudgetExceeded
	Limit     int       // TokenBudgetExceeded
	Location  *Location // InvalidMetadata

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// NotFound reports a missing document identifier.
func NotFound(id string) *Error {
	return &Error{
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("document %q does not exist", id),
		Recovery: fmt.Sprintf("check the reference to %q or create the file", id),
		ID:       id,
	}
}

// CircularDependency reports a reference cycle. path runs from the root to the
// repeated node inclusive; the cycle is the suffix starting at the first
// occurrence of the repeated node.
func CircularDependency(path []string) *Error {
	cycle := path
	if n := len(path); n > 0 {
		repeated := path[n-1]
		for i, id := range path[:n-1] {
			if id == repeated {
				cycle = path[i : n-1]
				break
			}
		}
	}
	return &Error{
		Kind:     KindCircularDependency,
		Message:  "reference cycle: " + strings.Join(path, " -> "),
		Recovery: fmt.Sprintf("remove one of the references between %s", strings.Join(cycle, ", ")),
		Path:     append([]string(nil), path...),
		Cycle:    append([]string(nil), cycle...),
	}
}

// TokenBudgetExceeded reports a requested budget outside the allowed range.
func TokenBudgetExceeded(requested, limit int) *Error {
	return &Error{
		Kind:      KindTokenBudgetExceeded,
		Message:   fmt.Sprintf("requested %d tokens, limit is %d", requested, limit),
		Recovery:  fmt.Sprintf("request a budget between 1 and %d tokens", limit),
		Requested: requested,
		Limit:     limit,
	}
}

// InvalidMetadata reports a malformed metadata block.
func InvalidMetadata(loc Location, cause error) *Error {
	return &Error{
		Kind:     KindInvalidMetadata,
		Message:  "malformed metadata block at " + loc.String(),
		Recovery: "fix the YAML between the leading --- delimiters",
		Location: &loc,
		cause:    cause,
	}
}

// Internal wraps an unexpected failure.
func Internal(msg string, cause error) *Error {
	return &Error{
		Kind:     KindInternal,
		Message:  msg,
		Recovery: "retry the request; if it persists inspect the server log",
		cause:    cause,
	}
}

// As converts any error into an *Error, wrapping unknown errors as Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("unexpected failure", err)
}
