package main

import (
	"testing"

	"bot-arena/internal/config"
	"bot-arena/internal/game"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		enabled zapcore.Level
		skipped zapcore.Level
	}{
		{"console debug", config.LoggingConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"json warn", config.LoggingConfig{Level: "warn", Format: "json"}, zapcore.WarnLevel, zapcore.InfoLevel},
		{"bad level falls back to info", config.LoggingConfig{Level: "loud"}, zapcore.InfoLevel, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := newLogger(tt.cfg)
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			core := log.Core()
			if !core.Enabled(tt.enabled) {
				t.Errorf("%v should be enabled", tt.enabled)
			}
			if core.Enabled(tt.skipped) {
				t.Errorf("%v should be disabled", tt.skipped)
			}
		})
	}
}

func TestFaultReporterWithoutClient(t *testing.T) {
	// With no Sentry client bound, capturing is a no-op.
	h := faultReporter()
	if h.OnFault == nil {
		t.Fatal("OnFault not set")
	}
	h.OnFault(&game.AgentFault{Ordinal: 2, Agent: "Drone03", Capability: game.CapMove, Value: "boom"})
}

func TestLogHooksLeaveFaultsToEngine(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := logHooks(zap.New(core))
	if h.OnFault != nil {
		t.Error("OnFault should be unset, the engine already logs faults")
	}

	h.OnRoundOver(game.RoundSummary{Round: 1, Leader: "Drone01"})
	if n := logs.FilterMessage("round over").Len(); n != 1 {
		t.Errorf("round over logged %d times, want 1", n)
	}
}
