package game

import (
	"image"
	"testing"

	"bot-arena/internal/config"

	"github.com/fogleman/gg"
)

// stubStrategy is a scriptable agent. Every capability is recorded so
// tests can assert which calls the engine made.
type stubStrategy struct {
	name string
	team string

	// decide returns the next move; nil means MoveStay.
	decide func(self AgentRecord, canFire bool) Move
	// outgoing is returned by OutgoingMessage.
	outgoing string
	// panicOn names a capability that panics.
	panicOn string
	// onMove runs inside every Move call (e.g. to advance a fake clock).
	onMove func()
	images []string

	moveCalls   int
	newRounds   int
	drawCalls   int
	ordinal     int
	inbox       []string
	loaded      []image.Image
	lastLive    []AgentRecord
	lastDead    []AgentRecord
	lastBullets []Projectile
}

func (s *stubStrategy) maybePanic(capability string) {
	if s.panicOn == capability {
		panic(capability + " exploded")
	}
}

func (s *stubStrategy) NewRound() {
	s.maybePanic(CapNewRound)
	s.newRounds++
}

func (s *stubStrategy) Move(self AgentRecord, canFire bool, live, dead []AgentRecord, projectiles []Projectile) Move {
	s.moveCalls++
	s.lastLive, s.lastDead, s.lastBullets = live, dead, projectiles
	if s.onMove != nil {
		s.onMove()
	}
	s.maybePanic(CapMove)
	if s.decide == nil {
		return MoveStay
	}
	return s.decide(self, canFire)
}

func (s *stubStrategy) Draw(dc *gg.Context, x, y int) {
	s.drawCalls++
	s.maybePanic(CapDraw)
	dc.DrawRectangle(float64(x), float64(y), 20, 20)
	dc.Fill()
}

func (s *stubStrategy) Name() string {
	s.maybePanic(CapName)
	return s.name
}

func (s *stubStrategy) Team() string {
	s.maybePanic(CapTeam)
	return s.team
}

func (s *stubStrategy) OutgoingMessage() string {
	s.maybePanic(CapOutgoingMessage)
	return s.outgoing
}

func (s *stubStrategy) IncomingMessage(from int, msg string) {
	s.inbox = append(s.inbox, msg)
}

func (s *stubStrategy) ImageNames() []string { return s.images }

func (s *stubStrategy) LoadedImages(images []image.Image) { s.loaded = images }

func (s *stubStrategy) AssignOrdinal(n int) { s.ordinal = n }

func always(m Move) func(AgentRecord, bool) Move {
	return func(AgentRecord, bool) Move { return m }
}

func testRules(n int) config.Rules {
	r := config.DefaultRules()
	r.NumBots = n
	r.EliminationsPerRound = 1
	r.CountdownTicks = 2
	return r
}

func newTestEngine(t testing.TB, rules config.Rules, roster ...*stubStrategy) *Engine {
	t.Helper()
	strategies := make([]Strategy, len(roster))
	for i, s := range roster {
		strategies[i] = s
	}
	e, err := NewEngine(EngineConfig{
		Rules:     rules,
		Arena:     config.DefaultArena(),
		Seed:      1,
		FixedStep: true,
	}, strategies)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

// seat undoes the setup shuffle so roster[i] sits at ordinal i, then drops
// the engine straight into an active round 1.
func seat(e *Engine, roster ...*stubStrategy) {
	for i, s := range roster {
		e.strategies[i] = s
		e.records[i] = AgentRecord{Ordinal: i, Name: s.name, Team: s.team}
		e.announced[i] = false
	}
	e.projectiles.Clear()
	e.messages = e.messages[:0]
	e.round = 1
	e.elapsed = 0
	e.phase = PhaseActive
}

func place(e *Engine, ordinal int, x, y float64) {
	e.records[ordinal].X = x
	e.records[ordinal].Y = y
}
