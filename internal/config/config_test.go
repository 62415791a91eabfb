package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	rerrors "github.com/vango-dev/remoting/internal/errors"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Address != ":8080" {
		t.Errorf("Server.Address = %q, want :8080", cfg.Server.Address)
	}
	if time.Duration(cfg.Server.LongPollTimeout) != 30*time.Second {
		t.Errorf("Server.LongPollTimeout = %v, want 30s", time.Duration(cfg.Server.LongPollTimeout))
	}
	if cfg.Client.URL != DefaultClientURL {
		t.Errorf("Client.URL = %q, want %q", cfg.Client.URL, DefaultClientURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := Load(tmpDir)
	if !errors.Is(err, rerrors.New(rerrors.CodeConfigNotFound)) {
		t.Fatalf("Load() error = %v, want config not found", err)
	}

	configJSON := `{
  "server": {
    "address": ":9000",
    "longPollTimeout": "10s",
    "strictMode": true
  },
  "log": {"level": "debug"}
}`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("Server.Address = %q, want :9000", cfg.Server.Address)
	}
	if time.Duration(cfg.Server.LongPollTimeout) != 10*time.Second {
		t.Errorf("Server.LongPollTimeout = %v, want 10s", time.Duration(cfg.Server.LongPollTimeout))
	}
	if !cfg.Server.StrictMode {
		t.Error("Server.StrictMode = false, want true")
	}
	// Unset fields keep their defaults.
	if cfg.Server.Path != "/remoting" {
		t.Errorf("Server.Path = %q, want /remoting", cfg.Server.Path)
	}
	if cfg.Path() != filepath.Join(tmpDir, ConfigFileName) {
		t.Errorf("Path() = %q", cfg.Path())
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	os.WriteFile(path, []byte(`{"server": {"longPollTimeout": "soon"}}`), 0644)

	_, err := LoadFile(path)
	if !errors.Is(err, rerrors.New(rerrors.CodeConfigParse)) {
		t.Fatalf("LoadFile() error = %v, want parse error", err)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	cfg := New()
	cfg.Server.SessionIdleTimeout = Duration(time.Hour)

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"sessionIdleTimeout": "1h0m0s"`) {
		t.Errorf("saved config = %s", data)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if loaded.Server.SessionIdleTimeout != cfg.Server.SessionIdleTimeout {
		t.Errorf("SessionIdleTimeout = %v after reload", loaded.Server.SessionIdleTimeout)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REMOTING_ADDRESS", ":7070")
	t.Setenv("REMOTING_LONG_POLL_TIMEOUT", "5s")
	t.Setenv("REMOTING_STRICT_MODE", "true")
	t.Setenv("REMOTING_LOG_LEVEL", "warn")
	t.Setenv("REMOTING_CLIENT_TRANSPORT", "ws")

	cfg := New()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("Server.Address = %q, want :7070", cfg.Server.Address)
	}
	if time.Duration(cfg.Server.LongPollTimeout) != 5*time.Second {
		t.Errorf("Server.LongPollTimeout = %v, want 5s", time.Duration(cfg.Server.LongPollTimeout))
	}
	if !cfg.Server.StrictMode || cfg.Client.Transport != "ws" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if level, _ := cfg.LogLevel(); level != slog.LevelWarn {
		t.Errorf("LogLevel() = %v, want WARN", level)
	}
	// Untouched fields survive.
	if cfg.Server.Path != "/remoting" {
		t.Errorf("Server.Path = %q", cfg.Server.Path)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("REMOTING_MAX_SESSIONS", "many")

	err := New().ApplyEnv()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("ApplyEnv() error = %v, want parse env error", err)
	}
}

func TestResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	os.WriteFile(path, []byte(`{"server": {"address": ":1111"}}`), 0644)
	t.Setenv("REMOTING_ADDRESS", ":2222")

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if cfg.Server.Address != ":2222" {
		t.Errorf("Server.Address = %q, env should win", cfg.Server.Address)
	}

	t.Setenv("REMOTING_PATH", "relative")
	if _, err := Resolve(path); !errors.Is(err, rerrors.New(rerrors.CodeInvalidConfig)) {
		t.Fatalf("Resolve() error = %v, want invalid config", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad transport", func(c *Config) { c.Client.Transport = "carrier-pigeon" }},
		{"idle below poll", func(c *Config) { c.Server.SessionIdleTimeout = Duration(time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate() expected error")
			}
		})
	}
}

func TestToServerConfig(t *testing.T) {
	cfg := New()
	cfg.Server.MaxSessions = 10
	cfg.Server.StrictMode = true

	sc := cfg.ToServerConfig()
	if sc.MaxSessions != 10 || !sc.StrictMode || sc.Path != "/remoting" {
		t.Fatalf("ToServerConfig() = %+v", sc)
	}
	if sc.CheckOrigin == nil {
		t.Fatal("ToServerConfig() lost server defaults")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := New()
	cfg.Log.Format = "json"
	cfg.Log.Level = "error"

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Error("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("log output = %q", out)
	}
}
