package game

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Capability names used in fault reports.
const (
	CapMove            = "move"
	CapName            = "name"
	CapTeam            = "team"
	CapDraw            = "draw"
	CapNewRound        = "new_round"
	CapImageNames      = "image_names"
	CapLoadedImages    = "loaded_images"
	CapLoadAsset       = "load_asset"
	CapOutgoingMessage = "outgoing_message"
	CapIncomingMessage = "incoming_message"
	CapAssignOrdinal   = "assign_ordinal"
)

// AgentFault is a panic or load failure raised on behalf of an agent.
type AgentFault struct {
	Ordinal    int
	Agent      string
	Capability string
	Value      any
	Stack      []byte
}

func (f *AgentFault) Error() string {
	return fmt.Sprintf("agent %d (%s) %s: %v", f.Ordinal, f.Agent, f.Capability, f.Value)
}

// Unwrap exposes an underlying error value, if the fault carries one.
func (f *AgentFault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}

// Accountable receives the cost of sandboxed calls.
type Accountable interface {
	AddThinkTime(d time.Duration)
	AddFault()
}

// Sandbox is the protected-call primitive around every agent touchpoint.
// It knows nothing about the game: it times the call, scales the elapsed
// time by the calibrated clock factor, and converts panics into faults.
type Sandbox struct {
	now     func() time.Time
	factor  func() float64
	onFault func(*AgentFault)
}

// NewSandbox creates a sandbox. factor may be nil for an uncorrected clock.
func NewSandbox(now func() time.Time, factor func() float64, onFault func(*AgentFault)) *Sandbox {
	if now == nil {
		now = time.Now
	}
	if factor == nil {
		factor = func() float64 { return 1 }
	}
	return &Sandbox{now: now, factor: factor, onFault: onFault}
}

// Target identifies who a sandboxed call is charged to.
type Target struct {
	Ordinal int
	Name    string
	Acct    Accountable
}

// Invoke runs fn for target. On panic the zero value is returned with the
// fault; elapsed time is charged either way.
func Invoke[T any](sb *Sandbox, target Target, capability string, fn func() T) (result T, fault *AgentFault) {
	start := sb.now()
	defer func() {
		v := recover()
		target.Acct.AddThinkTime(sb.scale(sb.now().Sub(start)))
		if v != nil {
			var zero T
			result = zero
			fault = &AgentFault{
				Ordinal:    target.Ordinal,
				Agent:      target.Name,
				Capability: capability,
				Value:      v,
				Stack:      debug.Stack(),
			}
			sb.Fault(target, fault)
		}
	}()
	return fn(), nil
}

// Call is Invoke for capabilities without a result.
func (sb *Sandbox) Call(target Target, capability string, fn func()) *AgentFault {
	_, fault := Invoke(sb, target, capability, func() struct{} {
		fn()
		return struct{}{}
	})
	return fault
}

// Fault charges a fault that did not come from a panic, such as a
// missing asset.
func (sb *Sandbox) Fault(target Target, fault *AgentFault) {
	target.Acct.AddFault()
	if sb.onFault != nil {
		sb.onFault(fault)
	}
}

func (sb *Sandbox) scale(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return time.Duration(float64(d) * sb.factor())
}
