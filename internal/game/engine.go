package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"bot-arena/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRosterSize is returned when the strategy count differs from NumBots.
var ErrRosterSize = errors.New("roster size does not match population")

// ErrNoEliminations is returned when rounds would never eliminate anyone.
var ErrNoEliminations = errors.New("eliminations per round must be at least 1")

// EngineConfig holds everything needed to build an engine.
type EngineConfig struct {
	Rules  config.Rules
	Arena  config.ArenaConfig
	Replay config.ReplayConfig

	Seed      int64            // 0 = time-based
	FixedStep bool             // advance 1/TickRate simulated seconds per tick at any speed instead of wall time
	Clock     func() time.Time // nil = time.Now

	Logger     *zap.Logger
	Canvas     Canvas      // optional presentation boundary
	Assets     AssetLoader // optional; without it every declared asset is a fault
	Calibrator *Calibrator // optional clock correction
	Hooks      Hooks
}

// Hooks are optional observers. All but OnTick run on their own goroutine
// and receive copies, so they may call back into the engine.
type Hooks struct {
	OnKill      func(KillEvent)
	OnFault     func(*AgentFault)
	OnOverheat  func(AgentRecord)
	OnMessage   func(MessageEvent)
	OnRoundOver func(RoundSummary)
	OnTick      func(Phase, time.Duration) // called inline; must not block
}

// MergeHooks returns hooks that call each non-nil hook of hs in order.
func MergeHooks(hs ...Hooks) Hooks {
	var out Hooks
	for _, h := range hs {
		out.OnKill = chain(out.OnKill, h.OnKill)
		out.OnFault = chain(out.OnFault, h.OnFault)
		out.OnOverheat = chain(out.OnOverheat, h.OnOverheat)
		out.OnMessage = chain(out.OnMessage, h.OnMessage)
		out.OnRoundOver = chain(out.OnRoundOver, h.OnRoundOver)
		if a, b := out.OnTick, h.OnTick; b != nil {
			if a == nil {
				out.OnTick = b
			} else {
				out.OnTick = func(p Phase, d time.Duration) { a(p, d); b(p, d) }
			}
		}
	}
	return out
}

func chain[T any](a, b func(T)) func(T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(v T) { a(v); b(v) }
}

// KillEvent describes one confirmed kill.
type KillEvent struct {
	Round   int     `json:"round"`
	Killer  string  `json:"killer"`
	Victim  string  `json:"victim"`
	Elapsed float64 `json:"elapsed"`
}

// MessageEvent is one broadcast as it appears in the round log.
type MessageEvent struct {
	Round int    `json:"round"`
	From  int    `json:"from"`
	Text  string `json:"text"`
}

// Engine is the referee: the single owner of agent records, projectiles
// and tournament counters. All mutation happens under mu, so commands
// never interleave with a tick.
type Engine struct {
	mu sync.RWMutex

	rules  config.Rules
	arena  config.ArenaConfig
	replay config.ReplayConfig
	log    *zap.Logger

	// Parallel slices indexed by ordinal; shuffled together.
	strategies []Strategy
	records    []AgentRecord
	announced  []bool // fault already announced this round

	projectiles *ProjectileSet
	sandbox     *Sandbox
	canvas      Canvas
	assets      AssetLoader
	hooks       Hooks

	rng     *rand.Rand
	rngSeed int64
	now     func() time.Time

	matchID   uuid.UUID
	phase     Phase
	round     int
	elapsed   float64 // simulated seconds this round
	lastWall  time.Time
	fixedStep bool
	speed     int
	countdown int
	display   DisplayMode
	tickCount uint64
	messages  []string // newest first
	leader    string
	winner    string
	summary   *RoundSummary

	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}

	snapshotPool *SnapshotPool
	eventLog     *EventLog
}

// NewEngine creates an engine for the given roster and performs a full
// reset, leaving it in Setup with round 0.
func NewEngine(cfg EngineConfig, roster []Strategy) (*Engine, error) {
	if len(roster) != cfg.Rules.NumBots {
		return nil, fmt.Errorf("%w: %d strategies for %d slots", ErrRosterSize, len(roster), cfg.Rules.NumBots)
	}
	if cfg.Rules.EliminationsPerRound < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrNoEliminations, cfg.Rules.EliminationsPerRound)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		rules:        cfg.Rules,
		arena:        cfg.Arena,
		replay:       cfg.Replay,
		log:          logger,
		strategies:   append([]Strategy(nil), roster...),
		records:      make([]AgentRecord, len(roster)),
		announced:    make([]bool, len(roster)),
		projectiles:  NewProjectileSet(len(roster), cfg.Rules.NumBullets),
		canvas:       cfg.Canvas,
		assets:       cfg.Assets,
		hooks:        cfg.Hooks,
		rng:          rand.New(rand.NewSource(seed)),
		rngSeed:      seed,
		now:          now,
		fixedStep:    cfg.FixedStep,
		speed:        1,
		snapshotPool: NewSnapshotPool(len(roster), len(roster)*cfg.Rules.NumBullets),
		eventLog:     NewEventLog(logger),
	}

	var factor func() float64
	if cfg.Calibrator != nil {
		factor = cfg.Calibrator.Factor
	}
	e.sandbox = NewSandbox(now, factor, e.handleFault)

	e.fullReset()
	e.publishSnapshot()
	return e, nil
}

// Start begins the tick loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.ticker = time.NewTicker(e.interval())
	ticker, stop := e.ticker, e.stopChan
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				e.Step()
			case <-stop:
				return
			}
		}
	}()

	e.log.Info("arena engine started", zap.Int("tps", e.rules.TickRate), zap.Int64("seed", e.rngSeed))
}

// Stop stops the tick loop
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	e.log.Info("arena engine stopped")
}

// Step runs exactly one tick. The loop calls it; tests and headless
// drivers may call it directly instead of Start.
func (e *Engine) Step() {
	start := time.Now()

	e.mu.Lock()
	e.tickCount++
	switch e.phase {
	case PhaseSetup:
		if e.round == 0 {
			e.rehearse()
		}
	case PhaseCountdown:
		e.countdown--
		if e.countdown <= 0 {
			e.setPhase(PhaseActive)
			e.lastWall = e.now()
		}
		e.paint()
	case PhaseActive:
		e.play()
	case PhasePaused, PhaseRoundOver, PhaseWinner:
		if e.canvas != nil {
			e.canvas.StepReplay()
		}
	}
	e.publishSnapshot()
	phase := e.phase
	e.mu.Unlock()

	if e.hooks.OnTick != nil {
		e.hooks.OnTick(phase, time.Since(start))
	}
}

// play runs one tick of an active round.
func (e *Engine) play() {
	e.advanceClock()
	if e.elapsed >= e.rules.TimeLimit || e.liveCount() <= 1 {
		e.finishRound()
		return
	}

	e.resolveMoves(false)
	e.resolveProjectiles(false)
	e.refreshScores(false)
	e.paint()

	e.eventLog.EmitSimple(EventTypeTick, e.tickCount, "", TickPayload{
		Round:     e.round,
		Elapsed:   e.elapsed,
		Live:      e.liveCount(),
		StateHash: e.stateHash(),
	})
}

// rehearse is a round-0 tick: agents move and shoot but nothing is scored.
func (e *Engine) rehearse() {
	e.resolveMoves(true)
	e.resolveProjectiles(true)
	e.paint()
}

func (e *Engine) advanceClock() {
	if e.fixedStep {
		e.elapsed += 1 / float64(e.rules.TickRate)
		return
	}
	now := e.now()
	e.elapsed += now.Sub(e.lastWall).Seconds() * float64(e.speed)
	e.lastWall = now
}

func (e *Engine) interval() time.Duration {
	return time.Second / time.Duration(e.rules.TickRate*e.speed)
}

func (e *Engine) setSpeed(s int) {
	e.speed = s
	if e.running && e.ticker != nil {
		e.ticker.Reset(e.interval())
	}
}

// liveCount returns agents neither dead nor out.
func (e *Engine) liveCount() int {
	n := 0
	for i := range e.records {
		if e.records[i].Alive() {
			n++
		}
	}
	return n
}

func (e *Engine) target(i int) Target {
	return Target{Ordinal: i, Name: e.records[i].Name, Acct: &e.records[i]}
}

// handleFault is the sandbox fault hook. The first fault an agent raises
// in a round is announced by the referee.
func (e *Engine) handleFault(f *AgentFault) {
	e.log.Warn("agent fault",
		zap.Int("ordinal", f.Ordinal),
		zap.String("agent", f.Agent),
		zap.String("capability", f.Capability),
		zap.Any("value", f.Value))
	e.eventLog.EmitSimple(EventTypeFault, e.tickCount, f.Agent, FaultPayload{
		Round:      e.round,
		Ordinal:    f.Ordinal,
		Capability: f.Capability,
		Message:    fmt.Sprint(f.Value),
	})
	if e.hooks.OnFault != nil {
		go e.hooks.OnFault(f)
	}
	if f.Ordinal >= 0 && f.Ordinal < len(e.announced) && !e.announced[f.Ordinal] && e.round > 0 {
		e.announced[f.Ordinal] = true
		e.broadcast(SystemSender, f.Agent+" raised an error.")
	}
}

// =============================================================================
// Commands
// =============================================================================

// BeginRound starts round 1 from Setup.
func (e *Engine) BeginRound() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseSetup {
		return e.invalid("begin round")
	}
	e.startRound()
	return nil
}

// NextRound initializes the following round after a round ends.
func (e *Engine) NextRound() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseRoundOver {
		return e.invalid("next round")
	}
	e.startRound()
	return nil
}

// Pause suspends an active round and starts the instant replay.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseActive {
		return e.invalid("pause")
	}
	e.setSpeed(1)
	e.setPhase(PhasePaused)
	if e.canvas != nil {
		e.canvas.StartReplay()
	}
	return nil
}

// Resume continues a paused round without crediting the paused time.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhasePaused {
		return e.invalid("resume")
	}
	e.lastWall = e.now()
	e.setPhase(PhaseActive)
	return nil
}

// Restart performs a full tournament reset back to Setup, round 0.
func (e *Engine) Restart() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fullReset()
	return nil
}

// SpeedUp doubles the simulation speed up to MaxSpeed. Only an active
// round can change speed; the current speed is returned.
func (e *Engine) SpeedUp() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseActive && e.speed*2 <= e.rules.MaxSpeed {
		e.setSpeed(e.speed * 2)
	}
	return e.speed
}

// SpeedDown halves the simulation speed down to 1.
func (e *Engine) SpeedDown() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseActive && e.speed > 1 {
		e.setSpeed(e.speed / 2)
	}
	return e.speed
}

// CycleDisplay advances the label display mode.
func (e *Engine) CycleDisplay() DisplayMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.display = e.display.Next()
	return e.display
}

func (e *Engine) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s during %s", ErrInvalidTransition, action, e.phase)
}

// =============================================================================
// Queries
// =============================================================================

// Phase returns the current tournament phase.
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Round returns the current round number (0 before the first round).
func (e *Engine) Round() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.round
}

// Elapsed returns simulated seconds played this round.
func (e *Engine) Elapsed() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.elapsed
}

// Records returns copies of every agent record in ordinal order.
func (e *Engine) Records() []AgentRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]AgentRecord(nil), e.records...)
}

// Messages returns up to limit log lines, newest first. limit <= 0 means all.
func (e *Engine) Messages(limit int) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.messages)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]string(nil), e.messages[:n]...)
}

// Standings returns the current ranking, best first.
func (e *Engine) Standings() []Standing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return StandingsFor(e.records)
}

// LastSummary returns the summary of the most recently finished round.
func (e *Engine) LastSummary() (RoundSummary, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.summary == nil {
		return RoundSummary{}, false
	}
	return *e.summary, true
}

// MatchID identifies the current tournament; it changes on full reset.
func (e *Engine) MatchID() uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.matchID
}

// Rules returns the rules the engine runs with.
func (e *Engine) Rules() config.Rules {
	return e.rules
}

// GetSnapshot returns the latest published snapshot (lock-free).
func (e *Engine) GetSnapshot() *MatchSnapshot {
	return e.snapshotPool.AcquireRead()
}

// StartEventLog begins writing events to path.
func (e *Engine) StartEventLog(path string) error {
	return e.eventLog.Start(path)
}

// StopEventLog flushes and closes the event log.
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// EventLogStats returns event log counters.
func (e *Engine) EventLogStats() (total, dropped uint64) {
	return e.eventLog.GetTotalCount(), e.eventLog.GetDroppedCount()
}
