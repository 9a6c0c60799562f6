package game

import "time"

// AgentRecord is the engine's authoritative state for one participant.
// It holds only value fields so a plain assignment is a full copy; agents
// only ever see such copies.
type AgentRecord struct {
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name"`
	Team    string `json:"team"`

	// Top-left corner of the agent's bounding square.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	Dead       bool `json:"dead"`
	Out        bool `json:"out"`
	OutNext    bool `json:"outNext"`
	Overheated bool `json:"overheated"`

	Score           float64       `json:"score"`
	CumulativeScore float64       `json:"cumulativeScore"`
	ThinkTime       time.Duration `json:"thinkTime"`
	TimeOfDeath     float64       `json:"timeOfDeath"`
	Exceptions      int           `json:"exceptions"`
	Messages        int           `json:"messages"`
	LastMove        Move          `json:"lastMove"`
	Kills           int           `json:"kills"`
	KilledBy        string        `json:"killedBy"`
}

// Copy returns an independent copy of the record.
func (r *AgentRecord) Copy() AgentRecord {
	return *r
}

// Alive reports whether the agent can still act this round.
func (r *AgentRecord) Alive() bool {
	return !r.Dead && !r.Out
}

// Active reports whether the agent receives decision calls this tick.
func (r *AgentRecord) Active() bool {
	return !r.Dead && !r.Out && !r.Overheated
}

// Flagged reports whether the agent is out or scheduled to be.
func (r *AgentRecord) Flagged() bool {
	return r.Out || r.OutNext
}

// Total is the ranking key.
func (r *AgentRecord) Total() float64 {
	return r.Score + r.CumulativeScore
}

// Center returns the agent's center given the collision radius.
func (r *AgentRecord) Center(radius float64) (float64, float64) {
	return r.X + radius, r.Y + radius
}

// AddThinkTime implements Accountable.
func (r *AgentRecord) AddThinkTime(d time.Duration) {
	r.ThinkTime += d
}

// AddFault implements Accountable.
func (r *AgentRecord) AddFault() {
	r.Exceptions++
}

// kill marks the record dead at the given simulated time.
func (r *AgentRecord) kill(by string, at float64) {
	r.Dead = true
	r.KilledBy = by
	r.TimeOfDeath = at
}

// knockOut retires the record from the tournament.
func (r *AgentRecord) knockOut() {
	r.Out = true
	r.X, r.Y = offArena, offArena
}

// offArena parks retired agents where nothing can reach them.
const offArena = -1000
