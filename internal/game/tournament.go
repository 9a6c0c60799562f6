package game

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidTransition is returned for a command the current phase does
// not accept.
var ErrInvalidTransition = errors.New("invalid transition")

// Phase is the tournament state.
type Phase uint8

const (
	PhaseSetup Phase = iota
	PhaseCountdown
	PhaseActive
	PhasePaused
	PhaseRoundOver
	PhaseWinner
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseCountdown:
		return "countdown"
	case PhaseActive:
		return "active"
	case PhasePaused:
		return "paused"
	case PhaseRoundOver:
		return "round_over"
	case PhaseWinner:
		return "winner"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// DisplayMode selects the label painted under each agent.
type DisplayMode uint8

const (
	DisplayNames DisplayMode = iota
	DisplayScores
	DisplayTeams
	DisplayNone
)

// Next cycles names, scores, teams, none.
func (d DisplayMode) Next() DisplayMode {
	return (d + 1) % (DisplayNone + 1)
}

// String returns the mode name
func (d DisplayMode) String() string {
	switch d {
	case DisplayNames:
		return "names"
	case DisplayScores:
		return "scores"
	case DisplayTeams:
		return "teams"
	default:
		return "none"
	}
}

// MarshalText renders the mode by name in JSON.
func (d DisplayMode) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// RoundSummary is the result of a finished round.
type RoundSummary struct {
	MatchID    uuid.UUID  `json:"matchId"`
	Round      int        `json:"round"`
	Elapsed    float64    `json:"elapsed"`
	Leader     string     `json:"leader"`
	Final      bool       `json:"final"`
	Eliminated []string   `json:"eliminated"`
	Standings  []Standing `json:"standings"`
}

func (e *Engine) setPhase(p Phase) {
	if e.phase == p {
		return
	}
	e.log.Debug("phase change", zap.Stringer("from", e.phase), zap.Stringer("to", p), zap.Int("round", e.round))
	e.eventLog.EmitSimple(EventTypePhase, e.tickCount, "", PhasePayload{
		Round: e.round,
		From:  e.phase.String(),
		To:    p.String(),
	})
	e.phase = p
}

// fullReset recreates every record and returns to Setup with round 0.
// Names are read here once and never change for the rest of the match.
func (e *Engine) fullReset() {
	e.matchID = uuid.New()
	e.round = 0
	e.elapsed = 0
	e.leader, e.winner = "", ""
	e.summary = nil
	e.messages = e.messages[:0]
	e.setSpeed(1)

	for i := range e.records {
		e.records[i] = AgentRecord{Ordinal: i}
		e.announced[i] = false
		s := e.strategies[i]
		name, fault := Invoke(e.sandbox, e.target(i), CapName, s.Name)
		name = truncate(name, e.rules.NameLength)
		if fault != nil || name == "" {
			name = fmt.Sprintf("Bot %d", i+1)
		}
		e.records[i].Name = name
	}

	e.shuffle()
	e.placeScatter()
	e.prepareAgents()
	e.projectiles.Clear()
	e.setPhase(PhaseSetup)

	e.log.Info("tournament reset", zap.Stringer("match", e.matchID), zap.Int("agents", len(e.records)))
}

// startRound initializes the next round and enters the countdown.
func (e *Engine) startRound() {
	e.round++
	e.elapsed = 0
	e.messages = e.messages[:0]
	e.setSpeed(1)
	e.shuffle()

	carry := e.rules.Cumulative && e.round > 1
	for i := range e.records {
		old := e.records[i]
		r := AgentRecord{Ordinal: i, Name: old.Name, Team: old.Team}
		if carry {
			r.CumulativeScore = old.CumulativeScore + old.Score
		}
		if old.Flagged() {
			r.knockOut()
		}
		e.records[i] = r
		e.announced[i] = false
	}

	e.placeDiagonal()
	e.prepareAgents()
	e.projectiles.Clear()
	e.countdown = e.rules.CountdownTicks
	e.setPhase(PhaseCountdown)

	left := remaining(e.records)
	e.eventLog.EmitSimple(EventTypeRoundStart, e.tickCount, "", RoundStartPayload{
		Round: e.round,
		Live:  left,
	})
	e.log.Info("round starting", zap.Int("round", e.round), zap.Int("agents", left))

	if left <= e.rules.EliminationsPerRound+1 {
		e.broadcast(SystemSender, "Final Round starting. Good luck!")
	} else {
		e.broadcast(SystemSender, fmt.Sprintf("Round %d starting. Good luck!", e.round))
	}
}

// finishRound credits survivors, flags eliminations and decides whether
// the tournament is over.
func (e *Engine) finishRound() {
	e.refreshScores(true)
	e.setSpeed(1)

	var eliminated []string
	for _, i := range selectEliminations(e.records, e.rules.EliminationsPerRound) {
		r := &e.records[i]
		r.OutNext = true
		eliminated = append(eliminated, r.Name)
		e.eventLog.EmitSimple(EventTypeElimination, e.tickCount, r.Name, EliminationPayload{
			Round: e.round,
			Total: r.Total(),
		})
	}

	leader := ""
	for _, i := range Rank(e.records, true) {
		if !e.records[i].Out {
			leader = e.records[i].Name
			break
		}
	}
	e.leader = leader

	final := remaining(e.records) <= 1
	if final {
		e.winner = leader
		e.setPhase(PhaseWinner)
		e.broadcast(SystemSender, fmt.Sprintf("Final round complete. %s is the winner.", leader))
	} else {
		e.setPhase(PhaseRoundOver)
		if e.rules.Cumulative {
			e.broadcast(SystemSender, fmt.Sprintf("Round %d complete. %s is leading.", e.round, leader))
		} else {
			e.broadcast(SystemSender, fmt.Sprintf("Round %d complete. %s is the winner.", e.round, leader))
		}
	}

	summary := RoundSummary{
		MatchID:    e.matchID,
		Round:      e.round,
		Elapsed:    e.elapsed,
		Leader:     leader,
		Final:      final,
		Eliminated: eliminated,
		Standings:  StandingsFor(e.records),
	}
	e.summary = &summary

	e.eventLog.EmitSimple(EventTypeRoundOver, e.tickCount, "", RoundOverPayload{
		Round:      e.round,
		Leader:     leader,
		Final:      final,
		Eliminated: eliminated,
	})
	e.log.Info("round over",
		zap.Int("round", e.round),
		zap.String("leader", leader),
		zap.Bool("final", final),
		zap.Strings("eliminated", eliminated))

	if e.canvas != nil {
		e.canvas.StartReplay()
	}
	if e.hooks.OnRoundOver != nil {
		go e.hooks.OnRoundOver(summary)
	}
}

// shuffle permutes agents with N*10 random swaps, keeping strategies and
// records paired, then renumbers ordinals.
func (e *Engine) shuffle() {
	n := len(e.records)
	for k := 0; k < n*10; k++ {
		a, b := e.rng.Intn(n), e.rng.Intn(n)
		e.records[a], e.records[b] = e.records[b], e.records[a]
		e.strategies[a], e.strategies[b] = e.strategies[b], e.strategies[a]
	}
	for i := range e.records {
		e.records[i].Ordinal = i
	}
}

// placeDiagonal lines agents up from the top-left corner in ordinal order.
func (e *Engine) placeDiagonal() {
	n := len(e.records)
	rad := e.rules.Radius
	stepX := (e.arena.Right - e.arena.Left - 4*rad) / float64(max(n-1, 1))
	stepY := (e.arena.Bottom - e.arena.Top - 4*rad) / float64(max(n-1, 1))
	for i := range e.records {
		r := &e.records[i]
		if r.Out {
			continue
		}
		r.X = e.arena.Left + rad + float64(i)*stepX
		r.Y = e.arena.Top + rad + float64(i)*stepY
	}
}

// placeScatter puts agents on distinct random cells of an N x 5 grid.
func (e *Engine) placeScatter() {
	const rows = 5
	n := len(e.records)
	rad := e.rules.Radius
	stepX := (e.arena.Right - e.arena.Left - 4*rad) / float64(max(n-1, 1))
	stepY := (e.arena.Bottom - e.arena.Top - 4*rad) / rows

	cells := e.rng.Perm(n * rows)
	for i := range e.records {
		cx, cy := cells[i]%n, cells[i]/n
		e.records[i].X = e.arena.Left + rad + float64(cx)*stepX
		e.records[i].Y = e.arena.Top + rad + float64(cy)*stepY
	}
}

// prepareAgents runs the per-round agent setup calls for everyone still in
// the tournament: ordinal, team, assets, round initialization.
func (e *Engine) prepareAgents() {
	for i := range e.records {
		if e.records[i].Out {
			continue
		}
		s := e.strategies[i]
		t := e.target(i)
		ordinal := i
		e.sandbox.Call(t, CapAssignOrdinal, func() { s.AssignOrdinal(ordinal) })
		if team, fault := Invoke(e.sandbox, t, CapTeam, s.Team); fault == nil {
			e.records[i].Team = team
		}
		e.loadImages(i)
		e.sandbox.Call(t, CapNewRound, s.NewRound)
	}
}

// loadImages resolves the agent's declared assets. Each missing asset is
// a fault; the agent still receives the list with nil holes. Every agent
// gets its own copy of each image.
func (e *Engine) loadImages(i int) {
	s := e.strategies[i]
	t := e.target(i)

	names, fault := Invoke(e.sandbox, t, CapImageNames, s.ImageNames)
	if fault != nil || names == nil {
		return
	}

	images := make([]image.Image, len(names))
	for k, name := range names {
		if e.assets == nil {
			e.sandbox.Fault(t, &AgentFault{Ordinal: i, Agent: t.Name, Capability: CapLoadAsset, Value: fmt.Errorf("no asset loader for %q", name)})
			continue
		}
		img, err := e.assets.Load(name)
		if err != nil {
			e.sandbox.Fault(t, &AgentFault{Ordinal: i, Agent: t.Name, Capability: CapLoadAsset, Value: err})
			continue
		}
		images[k] = cloneImage(img)
	}
	e.sandbox.Call(t, CapLoadedImages, func() { s.LoadedImages(images) })
}

func cloneImage(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}
