package presence

import (
	"github.com/rs/zerolog"

	"go-livechat/internal/protocol"
)

// Outbox hands an event to a single connection. Implementations must not block:
// a slow or closed connection reports an error instead of stalling the caller.
type Outbox interface {
	Send(connID string, env protocol.Envelope) error
}

// Fanout delivers one event to many connections, one at a time, without letting a failing
// recipient affect the rest. Failures are logged and otherwise ignored; the next roster
// or message broadcast corrects whatever a dropped frame left stale.
type Fanout struct {
	out Outbox
	log zerolog.Logger
}

func NewFanout(out Outbox, logger zerolog.Logger) *Fanout {
	return &Fanout{out: out, log: logger}
}

// To sends to a single connection.
func (f *Fanout) To(connID string, env protocol.Envelope) bool {
	if err := f.out.Send(connID, env); err != nil {
		f.log.Debug().Err(err).Str("conn_id", connID).Str("event", env.Event).Msg("[fanout] delivery dropped")
		return false
	}
	return true
}

// ToAll sends to every connection in conns and returns how many accepted the event.
func (f *Fanout) ToAll(conns []Connection, env protocol.Envelope) int {
	return f.ToOthers(conns, "", env)
}

// ToOthers sends to every connection except the one with id except.
func (f *Fanout) ToOthers(conns []Connection, except string, env protocol.Envelope) int {
	delivered := 0
	for _, c := range conns {
		if c.ID == except {
			continue
		}
		if f.To(c.ID, env) {
			delivered++
		}
	}
	return delivered
}
