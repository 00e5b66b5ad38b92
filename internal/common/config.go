package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/keltia/fetiche/internal/models"
)

// ConfigVersion is the schema gate for the configuration file. Older
// or newer files are refused.
const ConfigVersion = 2

var ErrUnsupportedConfigVersion = errors.New("unsupported configuration version")

// Config is the application configuration tree, loaded from TOML.
type Config struct {
	Version int                     `toml:"version"`
	Engine  EngineConfig            `toml:"engine"`
	Logging LoggingConfig           `toml:"logging"`
	Sources map[string]*models.Site `toml:"sources"`
	Storage map[string]AreaConfig   `toml:"storage"`
}

type EngineConfig struct {
	// BaseDir is the engine home directory; the state file, the token
	// cache and relative storage areas live under it.
	BaseDir string `toml:"base_dir"`
	// Workers bounds the dispatch pool (default: number of CPUs).
	Workers       int    `toml:"workers"`
	TickInterval  string `toml:"tick_interval"`  // scheduler tick, default "2s"
	StatsInterval string `toml:"stats_interval"` // periodic stats report, default "30s"
	SyncInterval  string `toml:"sync_interval"`  // state sync, default "30s"
	Grace         string `toml:"grace"`          // forced-cancellation grace, default "2s"
	// ChannelDepth bounds every inter-task channel (default 16).
	ChannelDepth int `toml:"channel_depth"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05.000"
}

// AreaConfig describes one named storage area: either a rotated
// directory tree {path, rotation} or a KV cache {url}.
type AreaConfig struct {
	Path     string `toml:"path,omitempty"`
	Rotation string `toml:"rotation,omitempty"`
	URL      string `toml:"url,omitempty"`
}

func (e *EngineConfig) duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (e *EngineConfig) Tick() time.Duration  { return e.duration(e.TickInterval, 2*time.Second) }
func (e *EngineConfig) Stats() time.Duration { return e.duration(e.StatsInterval, 30*time.Second) }
func (e *EngineConfig) Sync() time.Duration  { return e.duration(e.SyncInterval, 30*time.Second) }
func (e *EngineConfig) GraceWindow() time.Duration {
	return e.duration(e.Grace, 2*time.Second)
}

func (e *EngineConfig) PoolSize() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.NumCPU()
}

func (e *EngineConfig) Depth() int {
	if e.ChannelDepth > 0 {
		return e.ChannelDepth
	}
	return 16
}

// StateFile is the single per-home engine state file.
func (e *EngineConfig) StateFile() string {
	return filepath.Join(e.BaseDir, "state")
}

// TokenDir is where per-source token files live.
func (e *EngineConfig) TokenDir() string {
	return filepath.Join(e.BaseDir, "tokens")
}

// LoadConfig merges defaults with zero or more TOML files, later files
// overriding earlier ones, then validates the result.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
	}

	if cfg.Version != ConfigVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedConfigVersion, cfg.Version, ConfigVersion)
	}

	if cfg.Engine.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Engine.BaseDir = filepath.Join(home, ".fetiche")
	}

	// The map key is the site name.
	validate := validator.New()
	for name, site := range cfg.Sources {
		site.Name = name
		if err := validate.Struct(site); err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
	}

	return cfg, nil
}

// DiscoverConfig returns the path of `fetiche.toml` next to the
// executable, or an empty string.
func DiscoverConfig() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	p := filepath.Join(filepath.Dir(exe), "fetiche.toml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
