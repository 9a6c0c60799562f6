package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadFile reads a TOML file over the compiled defaults. Keys missing from
// the file keep their default values.
func LoadFile(path string) (AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects rule sets the engine cannot run.
func (c AppConfig) Validate() error {
	r := c.Rules
	switch {
	case r.NumBots < 2:
		return fmt.Errorf("num_bots must be at least 2, got %d", r.NumBots)
	case r.EliminationsPerRound < 1:
		return fmt.Errorf("eliminations_per_round must be at least 1, got %d", r.EliminationsPerRound)
	case r.NumBullets < 0:
		return fmt.Errorf("num_bullets must not be negative, got %d", r.NumBullets)
	case r.TickRate <= 0:
		return fmt.Errorf("tick_rate must be positive, got %d", r.TickRate)
	case r.Radius <= 0:
		return fmt.Errorf("radius must be positive, got %v", r.Radius)
	case r.TimeLimit <= 0:
		return fmt.Errorf("time_limit must be positive, got %v", r.TimeLimit)
	case r.MaxSpeed < 1:
		return fmt.Errorf("max_speed must be at least 1, got %d", r.MaxSpeed)
	}
	a := c.Arena
	if a.Right-a.Left < 4*r.Radius || a.Bottom-a.Top < 4*r.Radius {
		return fmt.Errorf("arena %vx%v too small for radius %v", a.Right-a.Left, a.Bottom-a.Top, r.Radius)
	}
	if c.Replay.Enabled && c.Replay.Frames < 1 {
		return fmt.Errorf("replay frames must be positive when replay is enabled")
	}
	return nil
}
