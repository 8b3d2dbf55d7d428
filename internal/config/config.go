// Package config handles configuration loading, validation, and hot reload
// for wfmenu.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"wfmenu/internal/ipc"
	"wfmenu/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Environment overrides.
const (
	EnvLogLevel = "WFMENU_LOG_LEVEL"
	EnvOutput   = "WFMENU_OUTPUT"
	EnvConfig   = "WFMENU_CONFIG"
)

// Config holds the complete client configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Socket describes where the compositor IPC socket lives.
	Socket SocketConfig `toml:"socket" json:"socket" yaml:"socket"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Output controls how focus changes are printed.
	Output OutputConfig `toml:"output" json:"output" yaml:"output"`

	// Menu controls D-Bus menu resolution for the focused view.
	Menu MenuConfig `toml:"menu" json:"menu" yaml:"menu"`
}

// SocketConfig holds compositor socket settings.
type SocketConfig struct {
	// Path is an explicit socket path. $WAYFIRE_SOCKET still wins.
	Path string `toml:"path" json:"path" yaml:"path"`

	// DefaultPath is used when neither the environment nor Path names one.
	DefaultPath string `toml:"default_path" json:"default_path" yaml:"default_path"`

	// Discover scans DiscoverDir for DiscoverPattern when the chosen path
	// does not accept connections.
	Discover        bool   `toml:"discover" json:"discover" yaml:"discover"`
	DiscoverDir     string `toml:"discover_dir" json:"discover_dir" yaml:"discover_dir"`
	DiscoverPattern string `toml:"discover_pattern" json:"discover_pattern" yaml:"discover_pattern"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used when Output is "file" or "both".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// OutputConfig controls the focus printer.
type OutputConfig struct {
	// Format is "text" or "json" (one object per line).
	Format string `toml:"format" json:"format" yaml:"format"`

	// Color is "auto", "always" or "never".
	Color string `toml:"color" json:"color" yaml:"color"`
}

// MenuConfig controls menu resolution over the session bus.
type MenuConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// TimeoutMs bounds one resolution round trip.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Socket: SocketConfig{
			DefaultPath:     ipc.DefaultSocketPath,
			Discover:        true,
			DiscoverDir:     "/tmp",
			DiscoverPattern: "wayfire-wayland*",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Output: OutputConfig{
			Format: "text",
			Color:  "auto",
		},
		Menu: MenuConfig{
			Enabled:   true,
			TimeoutMs: 2000,
		},
	}
}

// ConfigPath returns the default configuration file path, honouring
// $WFMENU_CONFIG.
func ConfigPath() string {
	if v := os.Getenv(EnvConfig); v != "" {
		return v
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from path. A missing file yields the defaults.
// The format is chosen by extension: .toml, .yaml/.yml, .json/.jsonc
// (comments allowed). Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("decode TOML: unknown keys %v", undecoded)
		}
	}
	return nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = cfg.TOML()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return writeFileAtomic(path, data, 0o600)
}

// TOML encodes the configuration.
func (c *Config) TOML() ([]byte, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv(ipc.EnvSocket)); v != "" {
		c.Socket.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvOutput); v != "" {
		c.Output.Format = strings.ToLower(v)
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Endpoint converts the socket section for ipc.Endpoint.Resolve.
func (c *Config) Endpoint() ipc.Endpoint {
	return ipc.Endpoint{
		Path:        c.Socket.Path,
		DefaultPath: c.Socket.DefaultPath,
		Discover:    c.Socket.Discover,
		Dir:         c.Socket.DiscoverDir,
		Pattern:     c.Socket.DiscoverPattern,
	}
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	if c.Logging.FilePath != "" {
		lc.FilePath = expandPath(c.Logging.FilePath)
	}
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	return lc, nil
}

// MenuTimeout returns the menu resolution timeout.
func (c *Config) MenuTimeout() time.Duration {
	return time.Duration(c.Menu.TimeoutMs) * time.Millisecond
}
