// Package config loads cohort-reporting settings from defaults, an optional
// YAML file, COHORT_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// DefaultFile is read from the working directory when no file is given.
const DefaultFile = "cohort.yaml"

// EnvPrefix prefixes every environment variable; COHORT_HTTP_ADDR sets http.addr.
const EnvPrefix = "COHORT_"

// Config holds all settings.
type Config struct {
	HTTP        HTTPConfig        `koanf:"http"`
	GRPC        GRPCConfig        `koanf:"grpc"`
	Store       StoreConfig       `koanf:"store"`
	Definitions DefinitionsConfig `koanf:"definitions"`
	Parser      ParserConfig      `koanf:"parser"`
	Log         LogConfig         `koanf:"log"`
	UI          UIConfig          `koanf:"ui"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type GRPCConfig struct {
	// Addr is the gRPC listen address; empty disables the gRPC server.
	Addr string `koanf:"addr"`
}

type StoreConfig struct {
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

type DefinitionsConfig struct {
	// Dir holds definition files loaded at startup; empty disables loading.
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

type ParserConfig struct {
	MaxLength int `koanf:"max_length"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type UIConfig struct {
	Locale string `koanf:"locale"`
}

// Defaults returns the flattened default settings.
func Defaults() map[string]any {
	return map[string]any{
		"http.addr":         ":8787",
		"grpc.addr":         ":8788",
		"store.backend":     BackendMemory,
		"store.path":        "cohort.db",
		"definitions.dir":   "",
		"definitions.watch": false,
		"parser.max_length": 4000,
		"log.level":         "info",
		"log.format":        "text",
		"ui.locale":         "en",
	}
}

// Validate checks settings that cannot be checked by type alone.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendMemory, BackendSQLite, c.Store.Backend)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Parser.MaxLength < 0 {
		return fmt.Errorf("parser.max_length must not be negative")
	}
	if c.Definitions.Watch && c.Definitions.Dir == "" {
		return fmt.Errorf("definitions.watch requires definitions.dir")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ParseLevel parses a log level name such as "debug" or "WARN".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
