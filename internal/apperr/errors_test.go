package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCircularDependency_CycleSuffix(t *testing.T) {
	err := CircularDependency([]string{"root.md", "a.md", "b.md", "c.md", "a.md"})
	if got := strings.Join(err.Cycle, ","); got != "a.md,b.md,c.md" {
		t.Errorf("cycle = %q", got)
	}
	if !strings.Contains(err.Error(), "root.md -> a.md -> b.md -> c.md -> a.md") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestIsMatchesSentinel(t *testing.T) {
	wrapped := fmt.Errorf("engine: resolve: %w", NotFound("x.md"))
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("expected errors.Is(ErrNotFound)")
	}
	if errors.Is(wrapped, ErrInternal) {
		t.Error("NotFound must not match ErrInternal")
	}
}

func TestAs_WrapsUnknown(t *testing.T) {
	e := As(errors.New("boom"))
	if e.Kind != KindInternal {
		t.Errorf("kind = %s", e.Kind)
	}
	if !errors.Is(e, ErrInternal) {
		t.Error("expected internal sentinel")
	}
	if As(nil) != nil {
		t.Error("As(nil) should be nil")
	}
}

func TestTokenBudgetExceeded_Message(t *testing.T) {
	e := TokenBudgetExceeded(500000, 128000)
	if !strings.Contains(e.Message, "500000") || !strings.Contains(e.Message, "128000") {
		t.Errorf("message should state requested and limit: %q", e.Message)
	}
}

func TestInvalidMetadata_Location(t *testing.T) {
	e := InvalidMetadata(Location{Path: "a.md", Line: 3, Column: 5}, errors.New("bad"))
	if !strings.Contains(e.Error(), "a.md:3:5") {
		t.Errorf("error = %q", e.Error())
	}
}
