package bots

import (
	"image/color"

	"bot-arena/internal/game"

	"github.com/fogleman/gg"
)

const (
	sentryWarnDistance = 50 // manhattan
	sentryReload       = 15 // ticks between shots
)

var sentryWarnings = []string{
	"Stand back ",
	"You are too close, ",
	"Get back or face the consequences, ",
	"Hands up, ",
}

var (
	sentryColor  = color.RGBA{128, 128, 128, 255}
	sentryBarrel = color.RGBA{60, 60, 60, 255}
)

// Sentry never moves. It warns each agent that comes close once per round
// and fires every 15 ticks, at an aligned agent when there is one.
type Sentry struct {
	base
	countdown int
	warned    map[string]bool
}

// NewSentry creates a sentry.
func NewSentry(name string, radius float64, seed int64) *Sentry {
	return &Sentry{base: newBase(name, radius, seed), warned: make(map[string]bool)}
}

func (s *Sentry) NewRound() {
	s.countdown = 0
	clear(s.warned)
}

func (s *Sentry) Move(self game.AgentRecord, canFire bool, live, dead []game.AgentRecord, projectiles []game.Projectile) game.Move {
	for _, other := range live {
		if s.warned[other.Name] {
			continue
		}
		if abs(self.X-other.X)+abs(self.Y-other.Y) < sentryWarnDistance {
			s.warned[other.Name] = true
			s.next = s.pick(sentryWarnings) + other.Name + "."
			return game.MoveSendMessage
		}
	}

	s.countdown--
	if s.countdown > 0 || !canFire {
		return game.MoveStay
	}
	s.countdown = sentryReload
	if m, ok := aligned(self, live, s.size/2); ok {
		return m
	}
	return randMoves[4+s.rng.Intn(4)]
}

func (s *Sentry) Draw(dc *gg.Context, x, y int) {
	drawDisc(dc, x, y, s.size, sentryColor)
	r := s.size / 2
	dc.SetColor(sentryBarrel)
	dc.DrawRectangle(float64(x)+r-2, float64(y)+r-2, 4, 4)
	dc.Fill()
}
