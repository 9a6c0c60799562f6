package game

import (
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// maxLogLines bounds the round message log.
const maxLogLines = 512

// broadcast delivers msg to every active agent. Agent-originated messages
// count against the sender's cap; reaching the cap triggers one referee
// notice.
func (e *Engine) broadcast(from int, msg string) {
	if msg == "" {
		return
	}
	msg = truncate(msg, e.rules.MaxMessageLength)

	for i := range e.records {
		if !e.records[i].Active() {
			continue
		}
		s := e.strategies[i]
		e.sandbox.Call(e.target(i), CapIncomingMessage, func() {
			s.IncomingMessage(from, msg)
		})
	}

	if from == SystemSender {
		e.logMessage(from, "Referee: "+msg)
		return
	}

	r := &e.records[from]
	r.Messages++
	e.logMessage(from, r.Name+": "+msg)
	if r.Messages == e.rules.MessageCap() {
		e.broadcast(SystemSender, "Messages capped for "+r.Name)
	}
}

// logMessage prepends a line to the round log.
func (e *Engine) logMessage(from int, line string) {
	e.messages = append(e.messages, "")
	copy(e.messages[1:], e.messages)
	e.messages[0] = line
	if len(e.messages) > maxLogLines {
		e.messages = e.messages[:maxLogLines]
	}

	e.log.Debug("broadcast", zap.Int("from", from), zap.String("text", line))
	e.eventLog.EmitSimple(EventTypeMessage, e.tickCount, "", MessagePayload{
		Round: e.round,
		From:  from,
		Text:  line,
	})
	if e.hooks.OnMessage != nil {
		ev := MessageEvent{Round: e.round, From: from, Text: line}
		go e.hooks.OnMessage(ev)
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	// Composed form, so an accent is never cut from its letter.
	s = norm.NFC.String(s)
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i]
		}
		runes++
	}
	return s
}
