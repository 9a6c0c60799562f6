package game

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"time"

	"github.com/zeebo/xxh3"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick              // Active tick boundary with state hash
	EventTypePhase
	EventTypeRoundStart
	EventTypeKill
	EventTypeFault
	EventTypeOverheat
	EventTypeMessage
	EventTypeElimination
	EventTypeRoundOver
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8     `json:"version"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"` // Unix nano
	Sequence  uint64    `json:"sequence"`
	TickNum   uint64    `json:"tickNum"`
	Agent     string    `json:"agent,omitempty"` // Source agent (for rate limiting)
	Payload   []byte    `json:"payload"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypePhase:
		return "phase"
	case EventTypeRoundStart:
		return "round_start"
	case EventTypeKill:
		return "kill"
	case EventTypeFault:
		return "fault"
	case EventTypeOverheat:
		return "overheat"
	case EventTypeMessage:
		return "message"
	case EventTypeElimination:
		return "elimination"
	case EventTypeRoundOver:
		return "round_over"
	default:
		return "unknown"
	}
}

// MarshalText writes the type by name so the JSONL file is readable.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// TickPayload marks the end of an active tick. StateHash lets two runs
// with the same seed be compared tick by tick.
type TickPayload struct {
	Round     int     `json:"round"`
	Elapsed   float64 `json:"elapsed"`
	Live      int     `json:"live"`
	StateHash uint64  `json:"stateHash"`
}

type PhasePayload struct {
	Round int    `json:"round"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type RoundStartPayload struct {
	Round int `json:"round"`
	Live  int `json:"live"`
}

type KillPayload struct {
	Round       int     `json:"round"`
	Killer      string  `json:"killer"`
	Victim      string  `json:"victim"`
	KillerKills int     `json:"killerKills"`
	Elapsed     float64 `json:"elapsed"`
}

type FaultPayload struct {
	Round      int    `json:"round"`
	Ordinal    int    `json:"ordinal"`
	Capability string `json:"capability"`
	Message    string `json:"message"`
}

type OverheatPayload struct {
	Round     int     `json:"round"`
	ThinkTime float64 `json:"thinkTime"`
}

type MessagePayload struct {
	Round int    `json:"round"`
	From  int    `json:"from"`
	Text  string `json:"text"`
}

type EliminationPayload struct {
	Round int     `json:"round"`
	Total float64 `json:"total"`
}

type RoundOverPayload struct {
	Round      int      `json:"round"`
	Leader     string   `json:"leader"`
	Final      bool     `json:"final"`
	Eliminated []string `json:"eliminated"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, agent string, payload any) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		Agent:     agent,
		Payload:   EncodePayload(payload),
	}
}

// stateHash digests positions, flags and projectiles.
func (e *Engine) stateHash() uint64 {
	h := xxh3.New()
	var buf [8]byte
	putFloat := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	for i := range e.records {
		r := &e.records[i]
		putFloat(r.X)
		putFloat(r.Y)
		var flags byte
		if r.Dead {
			flags |= 1
		}
		if r.Out {
			flags |= 2
		}
		if r.Overheated {
			flags |= 4
		}
		h.Write([]byte{flags, byte(r.LastMove)})
	}
	for _, p := range e.projectiles.AppendTo(nil) {
		putFloat(p.Pos.X())
		putFloat(p.Pos.Y())
	}
	return h.Sum64()
}
