package bots

import (
	"image/color"
	"strings"

	"bot-arena/internal/game"

	"github.com/fogleman/gg"
)

var killMessages = []string{
	"Woohoo!!!",
	"In your face!",
	"Pwned",
	"Take that.",
	"Gotcha!",
	"Too easy.",
	"Hahahahahahahahahaha :-)",
}

var randColor = color.RGBA{211, 211, 211, 255}

// randMoves are the choices a RandBot draws from.
var randMoves = []game.Move{
	game.MoveUp, game.MoveDown, game.MoveLeft, game.MoveRight,
	game.MoveFireUp, game.MoveFireDown, game.MoveFireLeft, game.MoveFireRight,
}

// RandBot repeats a random move for a while, firing at most once per
// choice, and gloats some time after the referee credits it with a kill.
type RandBot struct {
	base
	move       game.Move
	moveCount  int
	msgCounter int
}

// NewRandBot creates a RandBot.
func NewRandBot(name string, radius float64, seed int64) *RandBot {
	return &RandBot{base: newBase(name, radius, seed), move: game.MoveUp, moveCount: 99}
}

func (r *RandBot) NewRound() {
	r.moveCount = 99
	r.msgCounter = 0
	r.next = ""
}

func (r *RandBot) Move(self game.AgentRecord, canFire bool, live, dead []game.AgentRecord, projectiles []game.Projectile) game.Move {
	r.moveCount++
	if r.msgCounter > 0 {
		r.msgCounter--
		if r.msgCounter == 0 {
			r.moveCount = 99
			return game.MoveSendMessage
		}
	}
	if r.moveCount >= 30+r.rng.Intn(60) {
		r.moveCount = 0
		r.move = randMoves[r.rng.Intn(len(randMoves))]
		if r.move.IsFire() {
			// choose again next tick
			r.moveCount = 99
		}
	}
	return r.move
}

// IncomingMessage queues a gloat when the referee reports our kill.
func (r *RandBot) IncomingMessage(from int, msg string) {
	if from == game.SystemSender && strings.Contains(msg, "destroyed by "+r.name) {
		r.next = r.pick(killMessages)
		r.msgCounter = 30 + r.rng.Intn(30)
	}
}

func (r *RandBot) Draw(dc *gg.Context, x, y int) {
	drawDisc(dc, x, y, r.size, randColor)
}
