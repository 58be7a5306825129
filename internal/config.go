package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/guard"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Vault   VaultConfig       `yaml:"vault"`
	Cache   CacheConfig       `yaml:"cache"`
	Engine  EngineConfig      `yaml:"engine"`
	Watcher WatcherConfig     `yaml:"watcher"`
	Auth    AuthConfig        `yaml:"auth"`
	Guard   GuardConfig       `yaml:"guard"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		&c.App, &c.Vault, &c.Cache, &c.Engine, &c.Watcher, &c.Auth, &c.Guard,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.Watcher.Budget > c.Engine.MaxBudget {
		return fmt.Errorf("watcher: budget %d exceeds engine max_budget %d", c.Watcher.Budget, c.Engine.MaxBudget)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration. The server binds to Host,
// which defaults to the loopback interface.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the document vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// CacheConfig configures the persisted cache store and its write-behind
// flushing.
type CacheConfig struct {
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	FlushCount    int           `yaml:"flush_count"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.FlushInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.FlushCount, validation.Min(0)),
	)
}

// EngineConfig bounds resolution requests.
type EngineConfig struct {
	DefaultBudget int `yaml:"default_budget"`
	MaxBudget     int `yaml:"max_budget"`
	ParseWorkers  int `yaml:"parse_workers"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.DefaultBudget, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxBudget, validation.Required, validation.Min(1)),
		validation.Field(&c.ParseWorkers, validation.Required, validation.Min(1), validation.Max(64)),
	); err != nil {
		return err
	}
	if c.DefaultBudget > c.MaxBudget {
		return fmt.Errorf("engine: default_budget %d exceeds max_budget %d", c.DefaultBudget, c.MaxBudget)
	}
	return nil
}

// WatcherConfig configures the file watcher used by serve. Roots are
// re-resolved after every debounced batch of changes; with no roots the
// watcher only refreshes the cache and publishes change events.
type WatcherConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Debounce      time.Duration `yaml:"debounce"`
	SceneThrottle time.Duration `yaml:"scene_throttle"`
	Roots         []string      `yaml:"roots"`
	Budget        int           `yaml:"budget"`
}

// Validate validates the watcher configuration.
func (c *WatcherConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
		validation.Field(&c.SceneThrottle, validation.Min(time.Duration(0))),
		validation.Field(&c.Roots, validation.Each(validation.Required)),
		validation.Field(&c.Budget, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// PatternConfig is a user supplied redaction rule.
type PatternConfig struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// GuardConfig lists redaction rules applied after the built-in ones.
type GuardConfig struct {
	Patterns []PatternConfig `yaml:"patterns"`
}

// Validate validates the guard configuration and compiles every pattern.
func (c *GuardConfig) Validate() error {
	_, err := c.Rules()
	return err
}

// Rules compiles the configured patterns in order.
func (c *GuardConfig) Rules() ([]guard.Rule, error) {
	rules := make([]guard.Rule, 0, len(c.Patterns))
	var errs []error
	for i, p := range c.Patterns {
		if p.Name == "" || p.Regex == "" {
			errs = append(errs, fmt.Errorf("guard: pattern %d: name and regex are required", i))
			continue
		}
		r, err := guard.Compile(p.Name, p.Regex)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Host: "127.0.0.1",
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		Cache: CacheConfig{
			Path:          "./ansuz.db",
			FlushInterval: 2 * time.Second,
			FlushCount:    64,
		},
		Engine: EngineConfig{
			DefaultBudget: 32000,
			MaxBudget:     128000,
			ParseWorkers:  4,
		},
		Watcher: WatcherConfig{
			Enabled:       true,
			Debounce:      500 * time.Millisecond,
			SceneThrottle: time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
