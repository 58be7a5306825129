package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func (s *sample) Validate() error {
	if s.Count < 0 {
		return errors.New("count must not be negative")
	}
	return nil
}

func TestDecode_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "vault-a")
	s := sample{Name: "default", Count: 3}
	if err := Decode([]byte("name: ${SAMPLE_NAME}\n"), &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "vault-a" || s.Count != 3 {
		t.Errorf("got %+v", s)
	}
}

func TestDecode_RunsValidator(t *testing.T) {
	var s sample
	err := Decode([]byte("count: -1\n"), &s)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var s sample
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &s); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()

	s := sample{Name: "default"}
	if err := LoadOptional(filepath.Join(dir, "absent.yaml"), &s); err != nil {
		t.Fatalf("absent file: %v", err)
	}
	if s.Name != "default" {
		t.Errorf("defaults lost: %+v", s)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("count: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadOptional(path, &s); err != nil {
		t.Fatal(err)
	}
	if s.Count != 7 || s.Name != "default" {
		t.Errorf("got %+v", s)
	}

	bad := sample{Count: -2}
	if err := LoadOptional("", &bad); err == nil {
		t.Error("defaults must still be validated")
	}
}
