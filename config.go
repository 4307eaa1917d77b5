package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"ebb-and-flow/server/logging"
)

const (
	defaultListenAddr           = ":8080"
	defaultTickRate             = 20
	defaultSeed                 = "prototype"
	defaultControlQueueCapacity = 256
)

// Config collects every runtime toggle the server reads from its environment.
// The zero value is legal; Normalized fills in the same defaults the env tags
// declare, so tests can build configs directly.
type Config struct {
	ListenAddr string `env:"EBB_LISTEN_ADDR" envDefault:":8080"`
	TickRate   int    `env:"EBB_TICK_RATE" envDefault:"20"`

	// Seed feeds every deterministic RNG stream. Equal seeds reproduce
	// equal histories.
	Seed       string `env:"EBB_SEED" envDefault:"prototype"`
	ActorCount int    `env:"EBB_ACTORS" envDefault:"4"`
	Director   bool   `env:"EBB_DIRECTOR" envDefault:"true"`

	// AdvanceDormant keeps non-current branches moving through wall time.
	AdvanceDormant bool `env:"EBB_ADVANCE_DORMANT"`

	// KeyframeInterval is in broadcast ticks; zero disables periodic
	// keyframes, leaving only join, branch-switch and resync frames.
	KeyframeInterval int           `env:"EBB_KEYFRAME_INTERVAL" envDefault:"100"`
	KeyframeCapacity int           `env:"EBB_KEYFRAME_CAPACITY" envDefault:"32"`
	KeyframeMaxAge   time.Duration `env:"EBB_KEYFRAME_MAX_AGE" envDefault:"1m"`

	ControlQueueCapacity  int `env:"EBB_CONTROL_QUEUE" envDefault:"256"`
	ControlsPerSubscriber int `env:"EBB_CONTROLS_PER_SUBSCRIBER" envDefault:"16"`

	LogSinks    []string `env:"EBB_LOG_SINKS" envSeparator:"," envDefault:"console"`
	LogSeverity string   `env:"EBB_LOG_SEVERITY" envDefault:"info"`
	LogPath     string   `env:"EBB_LOG_PATH" envDefault:"ebb-events.ndjson"`
	LogColor    bool     `env:"EBB_LOG_COLOR"`

	// Viewer runs the terminal chronoscope instead of serving HTTP.
	Viewer bool `env:"EBB_VIEWER"`
}

// LoadConfig reads the environment and applies defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.Normalized(), nil
}

// DefaultConfig is the configuration an empty environment produces.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		return Config{}.Normalized()
	}
	return cfg.Normalized()
}

// Normalized returns a copy with invalid and missing values replaced by
// defaults.
func (cfg Config) Normalized() Config {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = defaultTickRate
	}
	if strings.TrimSpace(cfg.Seed) == "" {
		cfg.Seed = defaultSeed
	}
	if cfg.ActorCount < 0 {
		cfg.ActorCount = 0
	}
	if cfg.KeyframeInterval < 0 {
		cfg.KeyframeInterval = 0
	}
	if cfg.KeyframeCapacity < 0 {
		cfg.KeyframeCapacity = 0
	}
	if cfg.KeyframeMaxAge < 0 {
		cfg.KeyframeMaxAge = 0
	}
	if cfg.ControlQueueCapacity <= 0 {
		cfg.ControlQueueCapacity = defaultControlQueueCapacity
	}
	if cfg.ControlsPerSubscriber < 0 {
		cfg.ControlsPerSubscriber = 0
	}
	if len(cfg.LogSinks) == 0 {
		cfg.LogSinks = []string{"console"}
	}
	if strings.TrimSpace(cfg.LogSeverity) == "" {
		cfg.LogSeverity = "info"
	}
	return cfg
}

// Severity maps the configured severity name onto the logging floor. Unknown
// names fall back to info.
func (cfg Config) Severity() logging.Severity {
	switch strings.ToLower(strings.TrimSpace(cfg.LogSeverity)) {
	case "debug":
		return logging.SeverityDebug
	case "warn", "warning":
		return logging.SeverityWarn
	case "error":
		return logging.SeverityError
	default:
		return logging.SeverityInfo
	}
}
