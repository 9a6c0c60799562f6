package game

import (
	"bot-arena/internal/config"

	"github.com/go-gl/mathgl/mgl64"
)

// Projectile is an in-flight bullet. Velocity is in arena units per tick.
type Projectile struct {
	Pos   mgl64.Vec2 `json:"pos"`
	Vel   mgl64.Vec2 `json:"vel"`
	Owner int        `json:"owner"`
}

// Step advances the projectile by one tick.
func (p *Projectile) Step() {
	p.Pos = p.Pos.Add(p.Vel)
}

// InArena reports whether the projectile is still inside the field.
func (p *Projectile) InArena(a config.ArenaConfig) bool {
	x, y := p.Pos.X(), p.Pos.Y()
	return x >= a.Left && x <= a.Right && y >= a.Top && y <= a.Bottom
}

// ProjectileSet holds every live projectile, grouped by owner ordinal.
// Each owner has at most perOwner projectiles in flight.
type ProjectileSet struct {
	perOwner int
	byOwner  [][]Projectile
}

// NewProjectileSet creates an empty set for the given population.
func NewProjectileSet(owners, perOwner int) *ProjectileSet {
	s := &ProjectileSet{
		perOwner: perOwner,
		byOwner:  make([][]Projectile, owners),
	}
	for i := range s.byOwner {
		s.byOwner[i] = make([]Projectile, 0, perOwner)
	}
	return s
}

// CanFire reports whether the owner has a free slot.
func (s *ProjectileSet) CanFire(owner int) bool {
	return len(s.byOwner[owner]) < s.perOwner
}

// Fire adds a projectile for owner. Returns false when every slot is taken.
func (s *ProjectileSet) Fire(owner int, pos, vel mgl64.Vec2) bool {
	if !s.CanFire(owner) {
		return false
	}
	s.byOwner[owner] = append(s.byOwner[owner], Projectile{Pos: pos, Vel: vel, Owner: owner})
	return true
}

// Count returns the owner's projectiles in flight.
func (s *ProjectileSet) Count(owner int) int {
	return len(s.byOwner[owner])
}

// Len returns the total number of projectiles in flight.
func (s *ProjectileSet) Len() int {
	n := 0
	for _, list := range s.byOwner {
		n += len(list)
	}
	return n
}

// Clear removes every projectile.
func (s *ProjectileSet) Clear() {
	for i := range s.byOwner {
		s.byOwner[i] = s.byOwner[i][:0]
	}
}

// AppendTo appends value copies of all projectiles to dst in owner order.
func (s *ProjectileSet) AppendTo(dst []Projectile) []Projectile {
	for _, list := range s.byOwner {
		dst = append(dst, list...)
	}
	return dst
}

// Step advances every projectile once, in owner order. A projectile leaving
// the arena is dropped; otherwise impact is called and the projectile is
// dropped when it reports a hit.
func (s *ProjectileSet) Step(arena config.ArenaConfig, impact func(p *Projectile) bool) {
	for owner := range s.byOwner {
		list := s.byOwner[owner]
		// Filter in place (no allocation)
		n := 0
		for i := range list {
			p := list[i]
			p.Step()
			if !p.InArena(arena) {
				continue
			}
			if impact != nil && impact(&p) {
				continue
			}
			list[n] = p
			n++
		}
		s.byOwner[owner] = list[:n]
	}
}

// spawnProjectile returns the spawn point and velocity for a fire move,
// given the shooter's top-left corner.
func spawnProjectile(m Move, x, y, radius, speed float64) (pos, vel mgl64.Vec2) {
	switch m {
	case MoveFireUp:
		return mgl64.Vec2{x + radius, y - 1}, mgl64.Vec2{0, -speed}
	case MoveFireDown:
		return mgl64.Vec2{x + radius, y + 2*radius + 1}, mgl64.Vec2{0, speed}
	case MoveFireLeft:
		return mgl64.Vec2{x - 1, y + radius}, mgl64.Vec2{-speed, 0}
	default:
		return mgl64.Vec2{x + 2*radius + 1, y + radius}, mgl64.Vec2{speed, 0}
	}
}
