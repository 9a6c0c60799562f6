package bots

import (
	"image/color"

	"bot-arena/internal/game"

	"github.com/fogleman/gg"
)

var droneMessages = []string{
	"I am a drone",
	"Working makes me happy",
	"I am content",
	"I like to vacuum",
	"La la la la la...",
	"I like squares",
}

var droneColor = color.RGBA{70, 130, 180, 255}

// Drone travels in a straight line and turns counter-clockwise when it is
// blocked or its leg timer runs out. Every 25 ticks it fires ahead.
type Drone struct {
	base
	heading game.Move
	counter int
	lastX   float64
	lastY   float64
	chatter float64 // chance per tick of a message
}

// NewDrone creates a drone.
func NewDrone(name string, radius float64, seed int64) *Drone {
	return &Drone{base: newBase(name, radius, seed), heading: game.MoveUp, counter: 50, chatter: 0.02}
}

// NewRound picks a random starting heading.
func (d *Drone) NewRound() {
	d.heading = []game.Move{game.MoveUp, game.MoveDown, game.MoveLeft, game.MoveRight}[d.rng.Intn(4)]
	d.counter = 50
	d.lastX, d.lastY = -1, -1
}

func (d *Drone) Move(self game.AgentRecord, canFire bool, live, dead []game.AgentRecord, projectiles []game.Projectile) game.Move {
	d.counter--
	if d.rng.Float64() < d.chatter {
		d.next = d.pick(droneMessages)
		return game.MoveSendMessage
	}
	if d.counter%25 == 0 && canFire {
		return fireToward(d.heading)
	}

	if d.counter <= 0 || (self.X == d.lastX && self.Y == d.lastY) {
		d.heading = turnLeft(d.heading)
		d.counter = 50 + d.rng.Intn(100)
	}
	d.lastX, d.lastY = self.X, self.Y
	return d.heading
}

func turnLeft(m game.Move) game.Move {
	switch m {
	case game.MoveUp:
		return game.MoveLeft
	case game.MoveLeft:
		return game.MoveDown
	case game.MoveDown:
		return game.MoveRight
	default:
		return game.MoveUp
	}
}

// Draw paints a triangle pointing along the heading.
func (d *Drone) Draw(dc *gg.Context, x, y int) {
	s := d.size
	fx, fy := float64(x), float64(y)
	switch d.heading {
	case game.MoveUp:
		dc.MoveTo(fx+s/2, fy)
		dc.LineTo(fx+s, fy+s)
		dc.LineTo(fx, fy+s)
	case game.MoveDown:
		dc.MoveTo(fx, fy)
		dc.LineTo(fx+s, fy)
		dc.LineTo(fx+s/2, fy+s)
	case game.MoveLeft:
		dc.MoveTo(fx, fy+s/2)
		dc.LineTo(fx+s, fy)
		dc.LineTo(fx+s, fy+s)
	default:
		dc.MoveTo(fx, fy)
		dc.LineTo(fx+s, fy+s/2)
		dc.LineTo(fx, fy+s)
	}
	dc.ClosePath()
	dc.SetColor(droneColor)
	dc.Fill()
}
