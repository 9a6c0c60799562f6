package game

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

// resolveMoves gives every active agent its turn, strictly in ordinal
// order. Each agent sees the authoritative state as left by the agents
// before it in the same tick, so lower ordinals move first.
func (e *Engine) resolveMoves(rehearsal bool) {
	budget := time.Duration(e.rules.ProcessorLimit * float64(time.Second))
	for i := range e.records {
		r := &e.records[i]
		if !r.Active() {
			continue
		}
		if !rehearsal && r.ThinkTime > budget {
			e.overheat(i)
			continue
		}
		e.act(i, rehearsal)
	}
}

// act runs one agent's turn: team name, decision, then the move.
func (e *Engine) act(i int, rehearsal bool) {
	s := e.strategies[i]
	t := e.target(i)

	if team, fault := Invoke(e.sandbox, t, CapTeam, s.Team); fault == nil {
		e.records[i].Team = team
	}

	canFire := e.projectiles.CanFire(i)
	view := BuildView(e.records, e.projectiles, i)
	move, _ := Invoke(e.sandbox, t, CapMove, func() Move {
		return s.Move(view.Self, canFire, view.Live, view.Dead, view.Projectiles)
	})

	r := &e.records[i]
	r.LastMove = move
	switch {
	case move >= MoveUp && move <= MoveRight:
		e.moveAgent(i, move)
	case move.IsFire():
		pos, vel := spawnProjectile(move, r.X, r.Y, e.rules.Radius, e.rules.BulletSpeed)
		e.projectiles.Fire(i, pos, vel)
	case move == MoveSendMessage:
		if rehearsal || r.Messages >= e.rules.MessageCap() {
			return
		}
		if msg, fault := Invoke(e.sandbox, t, CapOutgoingMessage, s.OutgoingMessage); fault == nil {
			e.broadcast(i, msg)
		}
	}
}

// moveAgent applies a directional move, reverting it on contact with any
// agent still in the tournament (dead agents are obstacles), then clamps
// to the arena.
func (e *Engine) moveAgent(i int, m Move) {
	r := &e.records[i]
	oldX, oldY := r.X, r.Y
	step := e.rules.BotSpeed

	switch m {
	case MoveUp:
		r.Y -= step
	case MoveDown:
		r.Y += step
	case MoveLeft:
		r.X -= step
	case MoveRight:
		r.X += step
	}

	minDist := 2 * e.rules.Radius
	for j := range e.records {
		o := &e.records[j]
		if j == i || o.Out {
			continue
		}
		if (mgl64.Vec2{r.X - o.X, r.Y - o.Y}).Len() < minDist {
			r.X, r.Y = oldX, oldY
			break
		}
	}

	r.X = mgl64.Clamp(r.X, e.arena.Left, e.arena.Right-2*e.rules.Radius)
	r.Y = mgl64.Clamp(r.Y, e.arena.Top, e.arena.Bottom-2*e.rules.Radius)
}

// resolveProjectiles advances every projectile after all moves. The first
// agent in ordinal order whose hit circle contains the projectile absorbs
// it; only a live target dies. During rehearsal projectiles pass through.
func (e *Engine) resolveProjectiles(rehearsal bool) {
	radius := e.rules.Radius
	e.projectiles.Step(e.arena, func(p *Projectile) bool {
		if rehearsal {
			return false
		}
		for j := range e.records {
			o := &e.records[j]
			if j == p.Owner || o.Out {
				continue
			}
			cx, cy := o.Center(radius)
			if p.Pos.Sub(mgl64.Vec2{cx, cy}).Len() < radius {
				if !o.Dead {
					e.kill(j, p.Owner)
				}
				return true
			}
		}
		return false
	})
}

func (e *Engine) kill(victim, killer int) {
	v := &e.records[victim]
	k := &e.records[killer]

	k.Kills++
	v.kill(k.Name, e.elapsed)
	v.Score = e.score(v, false)

	e.log.Debug("agent destroyed",
		zap.String("victim", v.Name),
		zap.String("killer", k.Name),
		zap.Float64("elapsed", e.elapsed))
	e.eventLog.EmitSimple(EventTypeKill, e.tickCount, k.Name, KillPayload{
		Round:       e.round,
		Killer:      k.Name,
		Victim:      v.Name,
		KillerKills: k.Kills,
		Elapsed:     e.elapsed,
	})
	if e.hooks.OnKill != nil {
		ev := KillEvent{Round: e.round, Killer: k.Name, Victim: v.Name, Elapsed: e.elapsed}
		go e.hooks.OnKill(ev)
	}

	e.broadcast(SystemSender, fmt.Sprintf("%s destroyed by %s.", v.Name, k.Name))
}

func (e *Engine) overheat(i int) {
	r := &e.records[i]
	r.Overheated = true

	e.log.Info("agent overheated",
		zap.String("agent", r.Name),
		zap.Duration("thinkTime", r.ThinkTime))
	e.eventLog.EmitSimple(EventTypeOverheat, e.tickCount, r.Name, OverheatPayload{
		Round:     e.round,
		ThinkTime: r.ThinkTime.Seconds(),
	})
	if e.hooks.OnOverheat != nil {
		go e.hooks.OnOverheat(r.Copy())
	}

	e.broadcast(SystemSender, r.Name+" overheated - CPU limit exceeded.")
}
