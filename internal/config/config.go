package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vango-dev/remoting/internal/errors"
	"github.com/vango-dev/remoting/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "remoting.json"

	// DefaultClientURL is the endpoint the demo client talks to.
	DefaultClientURL = "http://localhost:8080/remoting"
)

// Duration is a time.Duration that reads and writes as "30s" in JSON
// and in environment variables.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config represents the complete remoting.json configuration.
// Every field can be overridden by the environment variable in its env tag.
type Config struct {
	// Server contains the HTTP server and session settings.
	Server ServerConfig `json:"server"`

	// Client contains settings for the demo client.
	Client ClientConfig `json:"client"`

	// Log contains logging settings.
	Log LogConfig `json:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig mirrors server.ServerConfig in a file-friendly form.
type ServerConfig struct {
	// Address is the listen address. Default: ":8080".
	Address string `json:"address,omitempty" env:"REMOTING_ADDRESS"`

	// Path is the batch endpoint path. Default: "/remoting".
	Path string `json:"path,omitempty" env:"REMOTING_PATH"`

	// LongPollTimeout bounds a parked poll. Default: "30s".
	LongPollTimeout Duration `json:"longPollTimeout,omitempty" env:"REMOTING_LONG_POLL_TIMEOUT"`

	// SessionIdleTimeout closes sessions without traffic. Default: "5m".
	SessionIdleTimeout Duration `json:"sessionIdleTimeout,omitempty" env:"REMOTING_SESSION_IDLE_TIMEOUT"`

	// MaxSessions limits concurrent sessions. Default: 0 (unlimited).
	MaxSessions int `json:"maxSessions,omitempty" env:"REMOTING_MAX_SESSIONS"`

	// StrictMode rejects value changes whose old value does not match.
	StrictMode bool `json:"strictMode,omitempty" env:"REMOTING_STRICT_MODE"`

	// MaxBodyBytes limits a request batch. Default: 4MB.
	MaxBodyBytes int64 `json:"maxBodyBytes,omitempty" env:"REMOTING_MAX_BODY_BYTES"`

	// ShutdownTimeout bounds graceful shutdown. Default: "30s".
	ShutdownTimeout Duration `json:"shutdownTimeout,omitempty" env:"REMOTING_SHUTDOWN_TIMEOUT"`
}

// ClientConfig contains settings for the demo client.
type ClientConfig struct {
	// URL is the server batch endpoint.
	URL string `json:"url,omitempty" env:"REMOTING_CLIENT_URL"`

	// Transport selects "http" or "ws".
	Transport string `json:"transport,omitempty" env:"REMOTING_CLIENT_TRANSPORT"`

	// Push enables long polling.
	Push bool `json:"push,omitempty" env:"REMOTING_CLIENT_PUSH"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: "info".
	Level string `json:"level,omitempty" env:"REMOTING_LOG_LEVEL"`

	// Format is "text" or "json". Default: "text".
	Format string `json:"format,omitempty" env:"REMOTING_LOG_FORMAT"`
}

// New creates a new Config with default values.
func New() *Config {
	d := server.DefaultServerConfig()
	return &Config{
		Server: ServerConfig{
			Address:            d.Address,
			Path:               d.Path,
			LongPollTimeout:    Duration(d.LongPollTimeout),
			SessionIdleTimeout: Duration(d.SessionIdleTimeout),
			MaxBodyBytes:       d.MaxBodyBytes,
			ShutdownTimeout:    Duration(d.ShutdownTimeout),
		},
		Client: ClientConfig{
			URL:       DefaultClientURL,
			Transport: "http",
			Push:      true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads remoting.json from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).WithSubject(path)
		}
		return nil, errors.New(errors.CodeConfigParse).Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.CodeConfigParse).
			WithSubject(path).
			Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// Resolve builds the effective configuration: the file at path (or
// remoting.json in the working directory when path is empty and the file
// exists), then environment overrides, then validation.
func Resolve(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch {
	case path != "":
		cfg, err = LoadFile(path)
	case Exists("."):
		cfg, err = Load(".")
	default:
		cfg = New()
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from REMOTING_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(fmt.Errorf("parse env: %w", err))
	}
	c.applyDefaults()
	return nil
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()
	if c.Server.Address == "" {
		c.Server.Address = d.Server.Address
	}
	if c.Server.Path == "" {
		c.Server.Path = d.Server.Path
	}
	if c.Server.LongPollTimeout == 0 {
		c.Server.LongPollTimeout = d.Server.LongPollTimeout
	}
	if c.Server.SessionIdleTimeout == 0 {
		c.Server.SessionIdleTimeout = d.Server.SessionIdleTimeout
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Client.URL == "" {
		c.Client.URL = d.Client.URL
	}
	if c.Client.Transport == "" {
		c.Client.Transport = d.Client.Transport
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.ToServerConfig().Validate(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return errors.New(errors.CodeInvalidConfig).WithDetail(err.Error())
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New(errors.CodeInvalidConfig).
			WithDetail(fmt.Sprintf("log format %q must be text or json", c.Log.Format))
	}
	switch c.Client.Transport {
	case "http", "ws":
	default:
		return errors.New(errors.CodeInvalidConfig).
			WithDetail(fmt.Sprintf("client transport %q must be http or ws", c.Client.Transport))
	}
	return nil
}

// ToServerConfig converts the file settings into a server configuration.
func (c *Config) ToServerConfig() *server.ServerConfig {
	sc := server.DefaultServerConfig()
	sc.Address = c.Server.Address
	sc.Path = c.Server.Path
	sc.LongPollTimeout = time.Duration(c.Server.LongPollTimeout)
	sc.SessionIdleTimeout = time.Duration(c.Server.SessionIdleTimeout)
	sc.MaxSessions = c.Server.MaxSessions
	sc.StrictMode = c.Server.StrictMode
	sc.MaxBodyBytes = c.Server.MaxBodyBytes
	sc.ShutdownTimeout = time.Duration(c.Server.ShutdownTimeout)
	return sc
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// NewLogger returns a logger writing to w with the configured level and format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}
