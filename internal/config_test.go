package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if got := cfg.App.HTTP.Address(); got != "127.0.0.1:8080" {
		t.Errorf("address = %q", got)
	}
}

func TestEngineConfig_DefaultAboveMax(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Engine.DefaultBudget = cfg.Engine.MaxBudget + 1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "exceeds max_budget") {
		t.Fatalf("err = %v", err)
	}
}

func TestEngineConfig_WorkersRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Engine.ParseWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero parse workers should fail validation")
	}
}

func TestWatcherConfig_BudgetAboveMax(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Watcher.Roots = []string{"root.md"}
	cfg.Watcher.Budget = cfg.Engine.MaxBudget * 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("watcher budget above max should fail")
	}
}

func TestWatcherConfig_BlankRoot(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Watcher.Roots = []string{"root.md", ""}
	if err := cfg.Validate(); err == nil {
		t.Fatal("blank watcher root should fail")
	}
}

func TestGuardConfig_Rules(t *testing.T) {
	cfg := GuardConfig{Patterns: []PatternConfig{
		{Name: "ticket", Regex: `TCK-[0-9]{6}`},
		{Name: "internal_host", Regex: `[a-z]+\.corp\.example`},
	}}
	rules, err := cfg.Rules()
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 || rules[0].Name != "ticket" || rules[1].Name != "internal_host" {
		t.Errorf("rules = %+v", rules)
	}
}

func TestGuardConfig_InvalidPattern(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Guard.Patterns = []PatternConfig{{Name: "broken", Regex: `([a-z`}, {Name: "", Regex: "x"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid pattern should fail validation")
	}
	if !strings.Contains(err.Error(), "broken") || !strings.Contains(err.Error(), "pattern 1") {
		t.Errorf("error should name both bad patterns: %v", err)
	}
}
