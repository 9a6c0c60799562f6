// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for arena rules and process settings.
//
// Values come from three layers, later layers winning:
// compiled defaults, an optional TOML file, then environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// MATCH RULES
// =============================================================================

// Rules holds every tunable constant consumed by the scoring engine,
// the movement resolver and the tournament state machine.
type Rules struct {
	KillPoints      float64 `toml:"kill_points"`       // Points per kill (times round multiplier)
	PointsPerSecond float64 `toml:"points_per_second"` // Survival weight
	EfficiencyBonus float64 `toml:"efficiency_bonus"`  // Points per unused CPU second
	ErrorPenalty    float64 `toml:"error_penalty"`     // Points lost per agent fault
	Cumulative      bool    `toml:"cumulative"`        // Carry scores across rounds

	EliminationsPerRound int     `toml:"eliminations_per_round"`
	TimeLimit            float64 `toml:"time_limit"`      // Simulated seconds per round
	SecsPerMsg           float64 `toml:"secs_per_msg"`    // Message cap = TimeLimit / SecsPerMsg
	ProcessorLimit       float64 `toml:"processor_limit"` // CPU seconds per agent per round

	NumBots          int     `toml:"num_bots"`
	NumBullets       int     `toml:"num_bullets"` // Projectile cap per agent
	BotSpeed         float64 `toml:"bot_speed"`
	BulletSpeed      float64 `toml:"bullet_speed"`
	MaxMessageLength int     `toml:"max_message_length"`
	NameLength       int     `toml:"name_length"`
	Radius           float64 `toml:"radius"` // Collision and hit radius

	TickRate       int `toml:"tick_rate"`       // Ticks per simulated second at speed 1
	CountdownTicks int `toml:"countdown_ticks"` // Ticks between start and the first move
	MaxSpeed       int `toml:"max_speed"`       // Highest speed multiplier
}

// DefaultRules returns the standard tournament rules.
func DefaultRules() Rules {
	return Rules{
		KillPoints:      5,
		PointsPerSecond: 0.1,
		EfficiencyBonus: 1,
		ErrorPenalty:    5,
		Cumulative:      true,

		EliminationsPerRound: 5,
		TimeLimit:            90,
		SecsPerMsg:           5,
		ProcessorLimit:       2,

		NumBots:          16,
		NumBullets:       4,
		BotSpeed:         1.5,
		BulletSpeed:      4,
		MaxMessageLength: 200,
		NameLength:       8,
		Radius:           10,

		TickRate:       30,
		CountdownTicks: 60,
		MaxSpeed:       8,
	}
}

// MessageCap is the number of messages an agent may send per round.
func (r Rules) MessageCap() int {
	if r.SecsPerMsg <= 0 {
		return 0
	}
	return int(r.TimeLimit / r.SecsPerMsg)
}

// RulesFromEnv returns rules with environment variable overrides.
func RulesFromEnv() Rules {
	return rulesFromEnv(DefaultRules())
}

func rulesFromEnv(cfg Rules) Rules {
	if n := getEnvInt("ARENA_NUM_BOTS", 0); n > 0 {
		cfg.NumBots = n
	}
	if n := getEnvInt("ARENA_ELIMINATIONS", 0); n > 0 {
		cfg.EliminationsPerRound = n
	}
	if v := getEnvFloat("ARENA_TIME_LIMIT", 0); v > 0 {
		cfg.TimeLimit = v
	}
	if v := getEnvFloat("ARENA_PROCESSOR_LIMIT", 0); v > 0 {
		cfg.ProcessorLimit = v
	}
	if n := getEnvInt("ARENA_TICK_RATE", 0); n > 0 {
		cfg.TickRate = n
	}
	cfg.Cumulative = getEnvBool("ARENA_CUMULATIVE", cfg.Cumulative)
	return cfg
}

// =============================================================================
// ARENA GEOMETRY
// =============================================================================

// ArenaConfig holds the playfield bounds in arena units (one unit = one pixel).
type ArenaConfig struct {
	Left   float64 `toml:"left"`
	Top    float64 `toml:"top"`
	Right  float64 `toml:"right"`
	Bottom float64 `toml:"bottom"`
	HUD    int     `toml:"hud"` // Extra pixels below the field for the text area
}

// DefaultArena returns the standard 700x500 field.
func DefaultArena() ArenaConfig {
	return ArenaConfig{
		Left:   0,
		Top:    10,
		Right:  700,
		Bottom: 500,
		HUD:    100,
	}
}

// Width returns the frame width in pixels.
func (a ArenaConfig) Width() int { return int(a.Right) }

// Height returns the frame height in pixels, text area excluded.
func (a ArenaConfig) Height() int { return int(a.Bottom) }

// =============================================================================
// REPLAY CONFIGURATION
// =============================================================================

// ReplayConfig controls the instant-replay frame ring.
type ReplayConfig struct {
	Enabled bool `toml:"enabled"` // Play the ring back on pause and round end
	Frames  int  `toml:"frames"`  // Ring capacity
	Speed   int  `toml:"speed"`   // Ticks per replay frame step
	EndHold int  `toml:"end_hold"`
}

// DefaultReplay returns the default replay configuration.
func DefaultReplay() ReplayConfig {
	return ReplayConfig{
		Enabled: true,
		Frames:  40,
		Speed:   2,
		EndHold: 15,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	ControlToken string   `toml:"control_token"` // Bearer token for match commands, empty = open
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
	}
}

// ObservabilityConfig configures the localhost debug server.
type ObservabilityConfig struct {
	Enabled       bool   `toml:"enabled"`
	ListenAddr    string `toml:"listen_addr"`
	StatsViewAddr string `toml:"stats_view_addr"` // Live runtime charts, empty = off
}

// DefaultObservability returns safe defaults.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// =============================================================================
// LOGGING, EVENTS, ERROR REPORTING
// =============================================================================

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

// DefaultLogging returns console logging at info level.
func DefaultLogging() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "console"}
}

// EventLogConfig controls the JSONL event log.
type EventLogConfig struct {
	Path string `toml:"path"` // Empty disables the file writer
}

// SentryConfig enables agent fault reporting.
type SentryConfig struct {
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// DatabaseConfig holds PostgreSQL settings. An empty DSN disables the store.
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

// DefaultDatabase returns pool sizing suitable for a single arena.
func DefaultDatabase() DatabaseConfig {
	return DatabaseConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// =============================================================================
// ROSTER
// =============================================================================

// RosterConfig points at the entrant list and asset directory.
type RosterConfig struct {
	Path        string        `toml:"path"`         // YAML roster; empty means stock fillers only
	AssetsDir   string        `toml:"assets_dir"`   // Directory agent images are loaded from
	CallTimeout time.Duration `toml:"call_timeout"` // Hard deadline per scripted call, 0 = none
	Seed        int64         `toml:"seed"`         // 0 = time-based
}

// DefaultRoster returns the default roster settings.
func DefaultRoster() RosterConfig {
	return RosterConfig{
		AssetsDir: "assets",
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Rules         Rules               `toml:"rules"`
	Arena         ArenaConfig         `toml:"arena"`
	Replay        ReplayConfig        `toml:"replay"`
	Server        ServerConfig        `toml:"server"`
	Observability ObservabilityConfig `toml:"observability"`
	Logging       LoggingConfig       `toml:"logging"`
	EventLog      EventLogConfig      `toml:"event_log"`
	Sentry        SentryConfig        `toml:"sentry"`
	Database      DatabaseConfig      `toml:"database"`
	Roster        RosterConfig        `toml:"roster"`
}

// Default returns the compiled-in configuration.
func Default() AppConfig {
	return AppConfig{
		Rules:         DefaultRules(),
		Arena:         DefaultArena(),
		Replay:        DefaultReplay(),
		Server:        DefaultServer(),
		Observability: DefaultObservability(),
		Logging:       DefaultLogging(),
		Database:      DefaultDatabase(),
		Roster:        DefaultRoster(),
	}
}

// Load returns the complete configuration. If ARENA_CONFIG names a TOML
// file it is applied over the defaults; environment overrides go last.
func Load() (AppConfig, error) {
	cfg := Default()
	if path := os.Getenv("ARENA_CONFIG"); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = fileCfg
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg AppConfig) AppConfig {
	cfg.Rules = rulesFromEnv(cfg.Rules)

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Server.Port = p
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = strings.Split(origins, ",")
	}
	if v := os.Getenv("ARENA_CONTROL_TOKEN"); v != "" {
		cfg.Server.ControlToken = v
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.Observability.Enabled = false
	}
	if v := os.Getenv("STATSVIEW_ADDR"); v != "" {
		cfg.Observability.StatsViewAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("EVENT_LOG_PATH"); v != "" {
		cfg.EventLog.Path = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		cfg.Sentry.DSN = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ARENA_ROSTER"); v != "" {
		cfg.Roster.Path = v
	}
	if v := os.Getenv("ARENA_ASSETS"); v != "" {
		cfg.Roster.AssetsDir = v
	}
	if s := getEnvInt("ARENA_SEED", 0); s != 0 {
		cfg.Roster.Seed = int64(s)
	}
	cfg.Replay.Enabled = getEnvBool("ARENA_REPLAY", cfg.Replay.Enabled)
	return cfg
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
