// Package bots provides the stock arena strategies (Drone, RandBot,
// Sentry), Lua-scripted strategies and the roster that seats them.
package bots

import (
	"image"
	"image/color"
	"math/rand"

	"bot-arena/internal/game"

	"github.com/fogleman/gg"
)

// DefaultTeam is the team stock strategies play for.
const DefaultTeam = "Arena"

// base carries the bookkeeping every stock strategy shares.
type base struct {
	name    string
	team    string
	ordinal int
	size    float64 // bounding square side
	rng     *rand.Rand
	next    string // queued outgoing message
}

func newBase(name string, radius float64, seed int64) base {
	return base{
		name: name,
		team: DefaultTeam,
		size: radius * 2,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

func (b *base) Name() string { return b.name }
func (b *base) Team() string { return b.team }
func (b *base) AssignOrdinal(n int) { b.ordinal = n }
func (b *base) IncomingMessage(from int, msg string) {}
func (b *base) ImageNames() []string { return nil }
func (b *base) LoadedImages([]image.Image) {}

// OutgoingMessage hands over the queued message once.
func (b *base) OutgoingMessage() string {
	msg := b.next
	b.next = ""
	return msg
}

func (b *base) pick(options []string) string {
	return options[b.rng.Intn(len(options))]
}

// fireToward maps a travel direction to its fire move.
func fireToward(m game.Move) game.Move {
	switch m {
	case game.MoveUp:
		return game.MoveFireUp
	case game.MoveDown:
		return game.MoveFireDown
	case game.MoveLeft:
		return game.MoveFireLeft
	case game.MoveRight:
		return game.MoveFireRight
	}
	return m
}

// aligned returns the fire move toward the first live agent sharing a row
// or column with self, within tolerance.
func aligned(self game.AgentRecord, live []game.AgentRecord, tolerance float64) (game.Move, bool) {
	for _, other := range live {
		dx, dy := other.X-self.X, other.Y-self.Y
		switch {
		case abs(dx) < tolerance && dy < 0:
			return game.MoveFireUp, true
		case abs(dx) < tolerance && dy > 0:
			return game.MoveFireDown, true
		case abs(dy) < tolerance && dx < 0:
			return game.MoveFireLeft, true
		case abs(dy) < tolerance && dx > 0:
			return game.MoveFireRight, true
		}
	}
	return game.MoveNone, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func drawDisc(dc *gg.Context, x, y int, size float64, c color.Color) {
	r := size / 2
	dc.SetColor(c)
	dc.DrawCircle(float64(x)+r, float64(y)+r, r)
	dc.Fill()
}
