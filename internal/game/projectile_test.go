package game

import (
	"math"
	"testing"

	"bot-arena/internal/config"

	"github.com/go-gl/mathgl/mgl64"
)

// TestProjectileSlots verifies the per-owner cap
func TestProjectileSlots(t *testing.T) {
	s := NewProjectileSet(2, 4)

	for i := 0; i < 4; i++ {
		if !s.Fire(0, mgl64.Vec2{100, 100}, mgl64.Vec2{0, -4}) {
			t.Fatalf("Fire %d should succeed", i)
		}
	}
	if s.CanFire(0) {
		t.Error("Owner 0 should have no free slot")
	}
	if s.Fire(0, mgl64.Vec2{100, 100}, mgl64.Vec2{0, -4}) {
		t.Error("Fifth projectile should be refused")
	}
	if !s.CanFire(1) {
		t.Error("Owner 1 should be unaffected")
	}
	if s.Len() != 4 {
		t.Errorf("Expected 4 projectiles, got %d", s.Len())
	}
}

// TestProjectileLinearMotion verifies position = start + N*velocity
func TestProjectileLinearMotion(t *testing.T) {
	arena := config.DefaultArena()
	s := NewProjectileSet(1, 4)
	start := mgl64.Vec2{50, 250}
	vel := mgl64.Vec2{4, 0}
	s.Fire(0, start, vel)

	for n := 1; n <= 20; n++ {
		s.Step(arena, nil)
		got := s.AppendTo(nil)
		if len(got) != 1 {
			t.Fatalf("Projectile vanished at step %d", n)
		}
		want := start.Add(vel.Mul(float64(n)))
		if !got[0].Pos.ApproxEqual(want) {
			t.Fatalf("Step %d: got %v, want %v", n, got[0].Pos, want)
		}
	}
}

// TestProjectileLifetimeBounded verifies every projectile leaves the arena
// within maxDimension/speed steps
func TestProjectileLifetimeBounded(t *testing.T) {
	arena := config.DefaultArena()
	speed := 4.0
	bound := int(math.Ceil(math.Max(arena.Right-arena.Left, arena.Bottom-arena.Top)/speed)) + 1

	dirs := []Move{MoveFireUp, MoveFireDown, MoveFireLeft, MoveFireRight}
	for _, m := range dirs {
		t.Run(m.String(), func(t *testing.T) {
			s := NewProjectileSet(1, 1)
			pos, vel := spawnProjectile(m, 340, 240, 10, speed)
			s.Fire(0, pos, vel)

			steps := 0
			for s.Len() > 0 {
				s.Step(arena, nil)
				steps++
				if steps > bound {
					t.Fatalf("Projectile alive after %d steps (bound %d)", steps, bound)
				}
			}
		})
	}
}

// TestProjectileImpactRemoves verifies impact callbacks drop projectiles
func TestProjectileImpactRemoves(t *testing.T) {
	arena := config.DefaultArena()
	s := NewProjectileSet(2, 4)
	s.Fire(0, mgl64.Vec2{100, 100}, mgl64.Vec2{4, 0})
	s.Fire(1, mgl64.Vec2{300, 100}, mgl64.Vec2{4, 0})

	var seen []int
	s.Step(arena, func(p *Projectile) bool {
		seen = append(seen, p.Owner)
		return p.Owner == 0
	})

	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Errorf("Expected impact checks in owner order, got %v", seen)
	}
	if s.Count(0) != 0 || s.Count(1) != 1 {
		t.Errorf("Expected owner 0 cleared and owner 1 kept, got %d/%d", s.Count(0), s.Count(1))
	}
	if !s.CanFire(0) {
		t.Error("Slot should be free again after impact")
	}
}

// TestSpawnProjectile verifies spawn offsets for each direction
func TestSpawnProjectile(t *testing.T) {
	tests := []struct {
		move Move
		pos  mgl64.Vec2
		vel  mgl64.Vec2
	}{
		{MoveFireUp, mgl64.Vec2{110, 199}, mgl64.Vec2{0, -4}},
		{MoveFireDown, mgl64.Vec2{110, 221}, mgl64.Vec2{0, 4}},
		{MoveFireLeft, mgl64.Vec2{99, 210}, mgl64.Vec2{-4, 0}},
		{MoveFireRight, mgl64.Vec2{121, 210}, mgl64.Vec2{4, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.move.String(), func(t *testing.T) {
			pos, vel := spawnProjectile(tt.move, 100, 200, 10, 4)
			if pos != tt.pos {
				t.Errorf("pos = %v, want %v", pos, tt.pos)
			}
			if vel != tt.vel {
				t.Errorf("vel = %v, want %v", vel, tt.vel)
			}
		})
	}
}
