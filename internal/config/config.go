// ABOUTME: Configuration loading and parsing for llm-gateway
// ABOUTME: Supports TOML or YAML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultConfigPath     = "default.conf"
	DefaultBackendURL     = "https://api.openai.com/v1"
	DefaultBackendTimeout = "120s"
	DefaultDatabasePath   = "hits.db"
	DefaultBufferSize     = 10
	DefaultReaperInterval = "5s"
	DefaultCloseTimeout   = "1s"
	DefaultMetricsPath    = "/metrics"
	DefaultLogLevel       = "info"
)

// Config represents the complete llm-gateway configuration
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Backend   BackendConfig   `toml:"backend" yaml:"backend"`
	Streaming StreamingConfig `toml:"streaming" yaml:"streaming"`
	Database  DatabaseConfig  `toml:"database" yaml:"database"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Tailscale TailscaleConfig `toml:"tailscale" yaml:"tailscale"`
	APIKeys   []APIKeyConfig  `toml:"api_keys" yaml:"api_keys"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	// Listen is the HTTP "host:port". Command-line flags take precedence.
	Listen string `toml:"listen,omitempty" yaml:"listen,omitempty"`

	// GRPCAddr enables the gRPC health service when set.
	GRPCAddr string `toml:"grpc_addr,omitempty" yaml:"grpc_addr,omitempty"`
}

// BackendConfig describes the OpenAI-compatible generation backend
type BackendConfig struct {
	Kind      string `toml:"kind,omitempty" yaml:"kind,omitempty"`
	URL       string `toml:"url,omitempty" yaml:"url,omitempty"`
	APIKey    string `toml:"api_key,omitempty" yaml:"api_key,omitempty"`
	ModelName string `toml:"model_name,omitempty" yaml:"model_name,omitempty"`

	Timeout    time.Duration `toml:"-" yaml:"-"`
	TimeoutRaw string        `toml:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// StreamingConfig tunes the session broker
type StreamingConfig struct {
	BufferSize int `toml:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`

	ReaperInterval time.Duration `toml:"-" yaml:"-"`
	CloseTimeout   time.Duration `toml:"-" yaml:"-"`

	// Raw string values for unmarshaling
	ReaperIntervalRaw string `toml:"reaper_interval,omitempty" yaml:"reaper_interval,omitempty"`
	CloseTimeoutRaw   string `toml:"close_timeout,omitempty" yaml:"close_timeout,omitempty"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `toml:"path,omitempty" yaml:"path,omitempty"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level,omitempty" yaml:"level,omitempty"`
	Format string `toml:"format,omitempty" yaml:"format,omitempty"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path    string `toml:"path,omitempty" yaml:"path,omitempty"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Hostname  string `toml:"hostname,omitempty" yaml:"hostname,omitempty"`
	AuthKey   string `toml:"auth_key,omitempty" yaml:"auth_key,omitempty"`
	StateDir  string `toml:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	Ephemeral bool   `toml:"ephemeral,omitempty" yaml:"ephemeral,omitempty"`

	// HTTPS serves on :443 with the node's auto-provisioned certificate
	// instead of plain HTTP on :80.
	HTTPS bool `toml:"https,omitempty" yaml:"https,omitempty"`
}

// APIKeyConfig is one accepted bearer credential. Exactly one of Key and
// KeyHash (bcrypt) is set.
type APIKeyConfig struct {
	Name        string   `toml:"name" yaml:"name"`
	Key         string   `toml:"key,omitempty" yaml:"key,omitempty"`
	KeyHash     string   `toml:"key_hash,omitempty" yaml:"key_hash,omitempty"`
	Description string   `toml:"description,omitempty" yaml:"description,omitempty"`
	Permissions []string `toml:"permissions" yaml:"permissions"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := decode(path, []byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvFallbacks(&cfg)
	applyDefaults(&cfg)

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadRaw reads a configuration file without expanding environment
// variables, applying defaults or validating. It is used to edit a file and
// write it back with Save without baking secrets or defaults into it.
func LoadRaw(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := decode(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to path in the format implied by its
// extension. The file is replaced atomically and is readable only by its
// owner since it holds credentials.
func (c *Config) Save(path string) error {
	data, err := encode(path, c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing config file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// isYAML reports whether path should be read as YAML. Everything else,
// including the default "default.conf", is TOML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	_, err := toml.Decode(string(data), cfg)
	return err
}

func encode(path string, cfg *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvFallbacks fills backend credentials from the environment when the
// file leaves them empty.
func applyEnvFallbacks(cfg *Config) {
	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Backend.ModelName == "" {
		cfg.Backend.ModelName = os.Getenv("OAI_MODEL_NAME")
	}
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = os.Getenv("OPENAI_BASE_URL")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = "openai"
	}
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = DefaultBackendURL
	}
	if cfg.Backend.TimeoutRaw == "" {
		cfg.Backend.TimeoutRaw = DefaultBackendTimeout
	}
	if cfg.Streaming.BufferSize == 0 {
		cfg.Streaming.BufferSize = DefaultBufferSize
	}
	if cfg.Streaming.ReaperIntervalRaw == "" {
		cfg.Streaming.ReaperIntervalRaw = DefaultReaperInterval
	}
	if cfg.Streaming.CloseTimeoutRaw == "" {
		cfg.Streaming.CloseTimeoutRaw = DefaultCloseTimeout
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.Kind != "openai" {
		return fmt.Errorf("backend.kind %q is not supported (only \"openai\")", c.Backend.Kind)
	}
	if c.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	if c.Backend.APIKey == "" {
		return errors.New("backend.api_key is required (or set OPENAI_API_KEY)")
	}
	if c.Backend.ModelName == "" {
		return errors.New("backend.model_name is required (or set OAI_MODEL_NAME)")
	}

	if c.Streaming.BufferSize < 1 {
		return fmt.Errorf("streaming.buffer_size must be at least 1, got %d", c.Streaming.BufferSize)
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}

	seen := make(map[string]bool, len(c.APIKeys))
	for i, k := range c.APIKeys {
		if k.Name == "" {
			return fmt.Errorf("api_keys[%d].name is required", i)
		}
		if seen[k.Name] {
			return fmt.Errorf("api_keys[%d]: duplicate name %q", i, k.Name)
		}
		seen[k.Name] = true
		if (k.Key == "") == (k.KeyHash == "") {
			return fmt.Errorf("api_keys[%d] (%s): exactly one of key or key_hash is required", i, k.Name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backend.TimeoutRaw != "" {
		cfg.Backend.Timeout, err = time.ParseDuration(cfg.Backend.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing backend.timeout %q: %w", cfg.Backend.TimeoutRaw, err)
		}
	}

	if cfg.Streaming.ReaperIntervalRaw != "" {
		cfg.Streaming.ReaperInterval, err = time.ParseDuration(cfg.Streaming.ReaperIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing reaper_interval %q: %w", cfg.Streaming.ReaperIntervalRaw, err)
		}
		if cfg.Streaming.ReaperInterval <= 0 {
			return fmt.Errorf("reaper_interval must be positive, got %s", cfg.Streaming.ReaperInterval)
		}
	}

	if cfg.Streaming.CloseTimeoutRaw != "" {
		cfg.Streaming.CloseTimeout, err = time.ParseDuration(cfg.Streaming.CloseTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing close_timeout %q: %w", cfg.Streaming.CloseTimeoutRaw, err)
		}
	}

	return nil
}
