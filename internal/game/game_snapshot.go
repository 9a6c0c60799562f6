package game

import (
	"sync/atomic"
	"time"
)

// snapshotMessages is how many recent log lines a snapshot carries.
const snapshotMessages = 8

// MatchSnapshot is an immutable copy of match state for presentation.
// Uses value types (not pointers) so readers never alias engine state.
type MatchSnapshot struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Tick      uint64    `json:"tick"`

	MatchID   string      `json:"matchId"`
	Phase     Phase       `json:"phase"`
	Round     int         `json:"round"`
	Elapsed   float64     `json:"elapsed"`
	TimeLimit float64     `json:"timeLimit"`
	Speed     int         `json:"speed"`
	Display   DisplayMode `json:"display"`
	Countdown int         `json:"countdown"`

	// Pre-allocated slices (never grow beyond the population)
	Agents      []AgentRecord `json:"agents"`
	Projectiles []Projectile  `json:"projectiles"`
	Messages    []string      `json:"messages"`

	LiveCount int    `json:"liveCount"`
	Leader    string `json:"leader"`
	Winner    string `json:"winner"`
}

// SnapshotPool pre-allocates snapshots to avoid GC pressure.
// Uses triple buffering for lock-free producer/consumer.
type SnapshotPool struct {
	snapshots [3]MatchSnapshot
	writeIdx  uint32 // atomic - producer index
	readIdx   uint32 // atomic - consumer index
	sequence  uint64 // atomic
}

// NewSnapshotPool creates a pool sized for the population.
func NewSnapshotPool(agents, projectiles int) *SnapshotPool {
	pool := &SnapshotPool{}
	for i := 0; i < 3; i++ {
		pool.snapshots[i] = MatchSnapshot{
			Agents:      make([]AgentRecord, 0, agents),
			Projectiles: make([]Projectile, 0, projectiles),
			Messages:    make([]string, 0, snapshotMessages),
		}
	}
	return pool
}

// AcquireWrite gets the next write slot (producer only, called from the tick)
func (p *SnapshotPool) AcquireWrite() *MatchSnapshot {
	idx := atomic.AddUint32(&p.writeIdx, 1) % 3
	snap := &p.snapshots[idx]

	snap.Agents = snap.Agents[:0]
	snap.Projectiles = snap.Projectiles[:0]
	snap.Messages = snap.Messages[:0]

	snap.Sequence = atomic.AddUint64(&p.sequence, 1)
	snap.Timestamp = time.Now()
	return snap
}

// PublishWrite marks the write slot as the latest complete snapshot
func (p *SnapshotPool) PublishWrite() {
	atomic.StoreUint32(&p.readIdx, atomic.LoadUint32(&p.writeIdx))
}

// AcquireRead gets the latest complete snapshot
func (p *SnapshotPool) AcquireRead() *MatchSnapshot {
	idx := atomic.LoadUint32(&p.readIdx) % 3
	return &p.snapshots[idx]
}

// publishSnapshot copies the authoritative state into the next slot.
func (e *Engine) publishSnapshot() {
	snap := e.snapshotPool.AcquireWrite()

	snap.Tick = e.tickCount
	snap.MatchID = e.matchID.String()
	snap.Phase = e.phase
	snap.Round = e.round
	snap.Elapsed = e.elapsed
	snap.TimeLimit = e.rules.TimeLimit
	snap.Speed = e.speed
	snap.Display = e.display
	snap.Countdown = e.countdown
	snap.Agents = append(snap.Agents, e.records...)
	snap.Projectiles = e.projectiles.AppendTo(snap.Projectiles)
	n := min(len(e.messages), snapshotMessages)
	snap.Messages = append(snap.Messages, e.messages[:n]...)
	snap.LiveCount = e.liveCount()
	snap.Leader = e.leader
	snap.Winner = e.winner

	e.snapshotPool.PublishWrite()
}
