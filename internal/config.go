package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Storage StorageConfig     `yaml:"storage"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Git     GitConfig         `yaml:"git"`
	Sync    SyncConfig        `yaml:"sync"`
	Rebuild RebuildConfig     `yaml:"rebuild"`
	Watcher WatcherConfig     `yaml:"watcher"`
	MCP     MCPConfig         `yaml:"mcp"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Storage, &c.SQLite, &c.Auth, &c.Sync, &c.Rebuild, &c.Watcher, &c.MCP,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.Sync.Enabled && !c.Git.Enabled {
		return fmt.Errorf("sync: enabled but git is disabled")
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

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ReadHeaderTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.ShutdownTimeout, validation.Required),
	)
}

// StorageConfig holds the root of the per-user note repositories.
type StorageConfig struct {
	ReposPath string `yaml:"repos_path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ReposPath, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//
// DefaultUser is the acting user for requests without an X-User-ID header.
// Zero makes the header mandatory.
type AuthConfig struct {
	Mode        string `yaml:"mode"`
	Token       string `yaml:"token"`
	DefaultUser int64  `yaml:"default_user"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
		validation.Field(&c.DefaultUser, validation.Min(int64(0))),
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

// GitConfig controls the git integration. Binary defaults to "git" on PATH.
type GitConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`
}

// SyncConfig controls the background sync worker.
type SyncConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.When(c.Enabled, validation.Required, validation.Min(time.Second))),
	)
}

// RebuildConfig controls the rebuild coordinator. Cells of rebuilds that
// never finish expire after the TTLs.
type RebuildConfig struct {
	QueuedTTL  time.Duration `yaml:"queued_ttl"`
	RunningTTL time.Duration `yaml:"running_ttl"`
	OnStart    bool          `yaml:"on_start"`
}

// Validate validates the rebuild configuration.
func (c *RebuildConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.QueuedTTL, validation.Required),
		validation.Field(&c.RunningTTL, validation.Required),
	)
}

// WatcherConfig controls the file watcher.
type WatcherConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watcher configuration.
func (c *WatcherConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.When(c.Enabled, validation.Required)),
	)
}

// MCPConfig holds the user the MCP server acts for.
type MCPConfig struct {
	UserID int64 `yaml:"user_id"`
}

// Validate validates the MCP configuration.
func (c *MCPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.UserID, validation.Required, validation.Min(int64(1))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:              8080,
				ReadHeaderTimeout: 10 * time.Second,
				ShutdownTimeout:   10 * time.Second,
			},
		},
		Storage: StorageConfig{
			ReposPath: "./repos",
		},
		SQLite: SQLiteConfig{
			Path: "./mythnote.db",
		},
		Auth: AuthConfig{
			Mode:        AuthModeDisabled,
			DefaultUser: 1,
		},
		Git: GitConfig{
			Enabled: true,
			Binary:  "git",
		},
		Sync: SyncConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
		Rebuild: RebuildConfig{
			QueuedTTL:  time.Hour,
			RunningTTL: 12 * time.Hour,
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Debounce: 200 * time.Millisecond,
		},
		MCP: MCPConfig{
			UserID: 1,
		},
	}
}
