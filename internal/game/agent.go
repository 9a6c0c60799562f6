package game

import (
	"image"

	"github.com/fogleman/gg"
)

// Move is the action code an agent returns from its decision call.
type Move int

const (
	MoveNone Move = iota // returned in place of a faulted decision
	MoveUp
	MoveDown
	MoveLeft
	MoveRight
	MoveFireUp
	MoveFireDown
	MoveFireLeft
	MoveFireRight
	MoveStay
	MoveSendMessage
)

// SystemSender is the sender ordinal used for referee broadcasts.
const SystemSender = -1

// String returns the move name
func (m Move) String() string {
	switch m {
	case MoveUp:
		return "up"
	case MoveDown:
		return "down"
	case MoveLeft:
		return "left"
	case MoveRight:
		return "right"
	case MoveFireUp:
		return "fire_up"
	case MoveFireDown:
		return "fire_down"
	case MoveFireLeft:
		return "fire_left"
	case MoveFireRight:
		return "fire_right"
	case MoveStay:
		return "stay"
	case MoveSendMessage:
		return "send_message"
	default:
		return "none"
	}
}

// IsFire reports whether the move requests a projectile.
func (m Move) IsFire() bool {
	return m >= MoveFireUp && m <= MoveFireRight
}

// Strategy is the capability set every agent implements. Implementations
// are untrusted: the engine only ever calls them through the sandbox, and
// everything handed to them is a value copy.
type Strategy interface {
	// NewRound is called once per round before any decisions.
	NewRound()
	// Move returns the agent's action for this tick.
	Move(self AgentRecord, canFire bool, live, dead []AgentRecord, projectiles []Projectile) Move
	// Draw renders the agent with its top-left corner at (x, y).
	Draw(dc *gg.Context, x, y int)
	Name() string
	Team() string
	// OutgoingMessage returns the text to broadcast, or "" for nothing.
	OutgoingMessage() string
	// IncomingMessage receives a broadcast. from is SystemSender for the referee.
	IncomingMessage(from int, msg string)
	// ImageNames lists the assets the agent wants loaded, or nil.
	ImageNames() []string
	// LoadedImages delivers the assets in ImageNames order. Entries that
	// failed to load are nil.
	LoadedImages(images []image.Image)
	// AssignOrdinal sets the agent's identity for the round.
	AssignOrdinal(n int)
}

// AssetLoader resolves the image names agents declare.
type AssetLoader interface {
	Load(name string) (image.Image, error)
}
