package internal

import "io"

// Run modes.
const (
	ModeServe   = "serve"
	ModeMCP     = "mcp"
	ModeResolve = "resolve"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	mode   string
	roots  []string
	budget int
	out    io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithMode selects what Run does; the default is ModeServe.
func WithMode(mode string) Option {
	return func(a *application) {
		a.mode = mode
	}
}

// WithResolve sets the roots and budget for ModeResolve. A zero budget uses
// the engine default.
func WithResolve(roots []string, budget int) Option {
	return func(a *application) {
		a.roots = roots
		a.budget = budget
	}
}

// WithOutput sets where ModeResolve writes the scene.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}
