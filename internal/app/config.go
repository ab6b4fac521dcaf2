package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/solorunner/nlm-auth-broker/internal/broker"
	"github.com/solorunner/nlm-auth-broker/internal/credstore"
	"github.com/solorunner/nlm-auth-broker/internal/observability"
	"github.com/solorunner/nlm-auth-broker/internal/tools"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = observability.FormatText
	LogFormatJSON LogFormat = observability.FormatJSON
	LogFormatOTel LogFormat = observability.FormatOTel
)

// CredentialStorageType represents where consumed cookies are persisted.
type CredentialStorageType string

const (
	CredentialStorageNone    CredentialStorageType = "none"
	CredentialStorageFile    CredentialStorageType = "file"
	CredentialStorageEnv     CredentialStorageType = "env"
	CredentialStorageKeyring CredentialStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = observability.ExporterStdout
	DefaultConfigServerHost        = "127.0.0.1"
	DefaultConfigServerPort        = 8765
	DefaultConfigShutdownTimeout   = 5 * time.Second
	DefaultConfigBrokerTTL         = broker.DefaultTTL
	DefaultConfigTombstoneTTL      = broker.DefaultTombstoneTTL
	DefaultConfigMCPPath           = "/mcp"
	DefaultConfigSessionIdleTTL    = tools.DefaultSessionIdleTTL
	DefaultConfigCredentialStorage = CredentialStorageFile
	DefaultConfigKeyringService    = "nlm-auth-broker"
	DefaultConfigProfile           = "default"
	DefaultConfigPollInterval      = 2 * time.Second
	DefaultConfigClientTimeout     = 5 * time.Minute
	DefaultConfigOpenURL           = "https://notebooklm.google.com/"
)

// TelemetryConfig holds settings for the otel log format.
type TelemetryConfig struct {
	Exporter    string `json:"exporter" validate:"oneof=stdout otlp-http otlp-grpc"`
	MinSeverity string `json:"min_severity"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// BrokerConfig holds token lifetime settings.
type BrokerConfig struct {
	// TTL is both the pending entry lifetime and the latest-token lifetime.
	TTL time.Duration `json:"ttl" validate:"gt=0"`
	// SweepInterval enables a background sweeper. Zero keeps sweeping request-triggered only.
	SweepInterval time.Duration `json:"sweep_interval" validate:"gte=0"`
	// TombstoneTTL is how long consumed or expired tokens stay known for diagnostics.
	// Unset means DefaultConfigTombstoneTTL; zero disables tombstones.
	TombstoneTTL *time.Duration `json:"tombstone_ttl"`
}

// MCPConfig holds settings for the agent tool endpoint.
type MCPConfig struct {
	Enabled *bool  `json:"enabled"`
	Path    string `json:"path" validate:"startswith=/"`
	// SessionIdleTTL drops tool session state after this long without a tool call.
	SessionIdleTTL time.Duration `json:"session_idle_ttl" validate:"gt=0"`
}

// IsEnabled reports whether the MCP endpoint is mounted; unset means enabled.
func (m MCPConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// CredentialsConfig describes where consumed cookies are persisted.
type CredentialsConfig struct {
	Storage CredentialStorageType `json:"storage" validate:"required,oneof=none file env keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	Dir            string `json:"dir,omitempty"`             // For file storage: one file per profile
	EnvKey         string `json:"env_key,omitempty"`         // For env storage: environment variable name
	KeyringService string `json:"keyring_service,omitempty"` // For keyring storage: service name

	Profile string `json:"profile" validate:"required"`
}

// NewCredentialStore creates a credstore.Store from the credentials configuration.
func (c *CredentialsConfig) NewCredentialStore() (credstore.Store, error) {
	switch c.Storage {
	case CredentialStorageNone:
		return credstore.NopStore{}, nil
	case CredentialStorageFile:
		return credstore.NewFileStore(c.Dir)
	case CredentialStorageEnv:
		return credstore.NewEnvStore(c.EnvKey)
	case CredentialStorageKeyring:
		return credstore.NewKeyringStore(c.KeyringService)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.Storage)
	}
}

// ClientConfig holds settings for commands that talk to a running broker.
type ClientConfig struct {
	BaseURL      string        `json:"base_url" validate:"required,url"`
	PollInterval time.Duration `json:"poll_interval" validate:"gt=0"`
	Timeout      time.Duration `json:"timeout" validate:"gt=0"`
	OpenURL      string        `json:"open_url" validate:"omitempty,url"`
	NoBrowser    bool          `json:"no_browser"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level        `json:"log_level"`
	LogFormat   LogFormat         `json:"log_format" validate:"oneof=text json otel"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	Server      ServerConfig      `json:"server"`
	Shutdown    ShutdownConfig    `json:"shutdown"`
	Broker      BrokerConfig      `json:"broker"`
	MCP         MCPConfig         `json:"mcp"`
	Credentials CredentialsConfig `json:"credentials"`
	Client      ClientConfig      `json:"client"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Broker.TTL == 0 {
		c.Broker.TTL = DefaultConfigBrokerTTL
	}
	if c.Broker.TombstoneTTL == nil {
		ttl := DefaultConfigTombstoneTTL
		c.Broker.TombstoneTTL = &ttl
	}
	if c.MCP.Path == "" {
		c.MCP.Path = DefaultConfigMCPPath
	}
	if c.MCP.SessionIdleTTL == 0 {
		c.MCP.SessionIdleTTL = DefaultConfigSessionIdleTTL
	}
	if c.Credentials.Storage == "" {
		c.Credentials.Storage = DefaultConfigCredentialStorage
	}
	if c.Credentials.Profile == "" {
		c.Credentials.Profile = DefaultConfigProfile
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = "http://" + c.Server.Host + ":" + fmt.Sprint(c.Server.Port)
	}
	if c.Client.PollInterval == 0 {
		c.Client.PollInterval = DefaultConfigPollInterval
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = DefaultConfigClientTimeout
	}
	if c.Client.OpenURL == "" {
		c.Client.OpenURL = DefaultConfigOpenURL
	}

	// Dynamic defaults based on storage type
	switch c.Credentials.Storage {
	case CredentialStorageFile:
		if c.Credentials.Dir == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("credentials.dir required (auto-detect failed: %w)", err)
			}
			c.Credentials.Dir = filepath.Join(configDir, "nlm-auth-broker", "profiles")
		}
	case CredentialStorageKeyring:
		if c.Credentials.KeyringService == "" {
			c.Credentials.KeyringService = DefaultConfigKeyringService
		}
	case CredentialStorageEnv, CredentialStorageNone:
		// env_key must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Broker.TombstoneTTL != nil && *c.Broker.TombstoneTTL < 0 {
		return errors.New("broker.tombstone_ttl must not be negative")
	}

	if c.MCP.IsEnabled() && isAuthRoute(c.MCP.Path) {
		return fmt.Errorf("mcp.path %s collides with the auth endpoints", c.MCP.Path)
	}

	switch c.Credentials.Storage {
	case CredentialStorageFile:
		if c.Credentials.Dir == "" {
			return errors.New("dir required for file storage")
		}
	case CredentialStorageEnv:
		if c.Credentials.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case CredentialStorageKeyring:
		if c.Credentials.KeyringService == "" {
			return errors.New("keyring_service required for keyring storage")
		}
	}

	return nil
}

func isAuthRoute(path string) bool {
	return path == "/auth" || strings.HasPrefix(path, "/auth/") || path == "/healthz"
}
