package bots

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bot-arena/internal/game"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Strategy kinds accepted in a roster file.
const (
	KindDrone   = "drone"
	KindRandBot = "randbot"
	KindSentry  = "sentry"
	KindLua     = "lua"
)

// ErrTooManyEntrants is returned when a roster lists more entrants than seats.
var ErrTooManyEntrants = errors.New("roster has more entrants than seats")

// Entry is one entrant in a roster file.
type Entry struct {
	Kind   string `yaml:"kind"`
	Script string `yaml:"script"` // lua only, relative to the roster file
	Name   string `yaml:"name"`   // stock kinds only; scripts name themselves
}

type rosterFile struct {
	Entrants []Entry `yaml:"entrants"`
}

// LoadRoster reads a YAML roster. Script paths are resolved against the
// roster file's directory.
func LoadRoster(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	dir := filepath.Dir(path)
	for i := range f.Entrants {
		e := &f.Entrants[i]
		e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
		if e.Script != "" && !filepath.IsAbs(e.Script) {
			e.Script = filepath.Join(dir, e.Script)
		}
	}
	return f.Entrants, nil
}

// Options controls how a roster is seated.
type Options struct {
	Seats       int
	Radius      float64
	Seed        int64 // 0 = time-based
	CallTimeout time.Duration
	Log         *zap.Logger
}

// Roster is the seated strategy list, one per seat.
type Roster struct {
	Strategies []game.Strategy
	scripts    []*LuaBot
}

// Build seats the entrants and fills the remaining seats with stock
// strategies, cycling Drone, RandBot and Sentry.
func Build(entries []Entry, opts Options) (*Roster, error) {
	if len(entries) > opts.Seats {
		return nil, fmt.Errorf("%w: %d for %d", ErrTooManyEntrants, len(entries), opts.Seats)
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	r := &Roster{Strategies: make([]game.Strategy, 0, opts.Seats)}
	for i, e := range entries {
		s, err := r.build(i, e, seed, opts)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("entrant %d: %w", i+1, err)
		}
		r.Strategies = append(r.Strategies, s)
	}

	fillers := []string{KindDrone, KindRandBot, KindSentry}
	for i := len(entries); i < opts.Seats; i++ {
		kind := fillers[(i-len(entries))%len(fillers)]
		s, _ := r.build(i, Entry{Kind: kind}, seed, opts)
		r.Strategies = append(r.Strategies, s)
	}

	log.Info("roster seated",
		zap.Int("entrants", len(entries)),
		zap.Int("fillers", opts.Seats-len(entries)),
		zap.Int("scripts", len(r.scripts)))
	return r, nil
}

func (r *Roster) build(seat int, e Entry, seed int64, opts Options) (game.Strategy, error) {
	botSeed := seed + int64(seat)*7919
	name := func(prefix string) string {
		if e.Name != "" {
			return e.Name
		}
		return fmt.Sprintf("%s%02d", prefix, seat+1)
	}

	switch e.Kind {
	case KindDrone:
		return NewDrone(name("Drone"), opts.Radius, botSeed), nil
	case KindRandBot:
		return NewRandBot(name("Rand"), opts.Radius, botSeed), nil
	case KindSentry:
		return NewSentry(name("Sentry"), opts.Radius, botSeed), nil
	case KindLua:
		if e.Script == "" {
			return nil, errors.New("lua entrant without script")
		}
		b, err := LoadLuaBot(e.Script, LuaOptions{Radius: opts.Radius, Timeout: opts.CallTimeout})
		if err != nil {
			return nil, err
		}
		r.scripts = append(r.scripts, b)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", e.Kind)
	}
}

// Close releases every script VM.
func (r *Roster) Close() {
	for _, b := range r.scripts {
		b.Close()
	}
	r.scripts = nil
}
