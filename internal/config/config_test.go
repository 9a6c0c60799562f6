package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultRules verifies the standard tournament constants
func TestDefaultRules(t *testing.T) {
	r := DefaultRules()

	if r.NumBots != 16 {
		t.Errorf("Expected 16 bots, got %d", r.NumBots)
	}
	if r.MessageCap() != 18 {
		t.Errorf("Expected message cap 18, got %d", r.MessageCap())
	}
	if r.TickRate != 30 {
		t.Errorf("Expected 30 TPS, got %d", r.TickRate)
	}
	if !r.Cumulative {
		t.Error("Cumulative scoring should be on by default")
	}
}

// TestMessageCap verifies the cap derivation and its zero guard
func TestMessageCap(t *testing.T) {
	tests := []struct {
		name       string
		timeLimit  float64
		secsPerMsg float64
		want       int
	}{
		{"standard", 90, 5, 18},
		{"truncates", 10, 3, 3},
		{"disabled", 90, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Rules{TimeLimit: tt.timeLimit, SecsPerMsg: tt.secsPerMsg}
			if got := r.MessageCap(); got != tt.want {
				t.Errorf("MessageCap() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestEnvOverrides verifies environment variables win over defaults
func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARENA_NUM_BOTS", "6")
	t.Setenv("ARENA_CUMULATIVE", "false")
	t.Setenv("PORT", "8081")
	t.Setenv("DATABASE_URL", "postgres://arena@localhost/arena")
	t.Setenv("ARENA_CONFIG", "")
	t.Setenv("ARENA_CONTROL_TOKEN", "s3cret")
	t.Setenv("STATSVIEW_ADDR", "localhost:18066")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Rules.NumBots != 6 {
		t.Errorf("Expected 6 bots, got %d", cfg.Rules.NumBots)
	}
	if cfg.Rules.Cumulative {
		t.Error("Expected cumulative scoring disabled")
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("Expected port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Database.DSN == "" {
		t.Error("Expected DSN from DATABASE_URL")
	}
	if cfg.Server.ControlToken != "s3cret" {
		t.Errorf("Expected control token, got %q", cfg.Server.ControlToken)
	}
	if cfg.Observability.StatsViewAddr != "localhost:18066" {
		t.Errorf("Expected stats view addr, got %q", cfg.Observability.StatsViewAddr)
	}
}

// TestLoadFile verifies TOML values overlay defaults
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.toml")
	data := `
[rules]
num_bots = 8
time_limit = 30.0

[database]
conn_max_lifetime = "5m"

[roster]
path = "roster.yaml"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Rules.NumBots != 8 {
		t.Errorf("Expected 8 bots, got %d", cfg.Rules.NumBots)
	}
	if cfg.Rules.TimeLimit != 30 {
		t.Errorf("Expected time limit 30, got %v", cfg.Rules.TimeLimit)
	}
	if cfg.Rules.KillPoints != 5 {
		t.Errorf("Unset key should keep default, got kill points %v", cfg.Rules.KillPoints)
	}
	if cfg.Roster.Path != "roster.yaml" {
		t.Errorf("Expected roster path, got %q", cfg.Roster.Path)
	}
	if cfg.Database.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("Expected 5m lifetime, got %v", cfg.Database.ConnMaxLifetime)
	}
}

// TestValidate rejects unusable rule sets
func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults should validate: %v", err)
	}

	cfg.Rules.NumBots = 1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for a single bot")
	}

	cfg = Default()
	cfg.Rules.EliminationsPerRound = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when no agent is eliminated per round")
	}

	cfg = Default()
	cfg.Arena.Right = 20
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for an arena narrower than two agents")
	}
}
