package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/notify"
)

// EventMessage is the wire form of a notify.Event.
type EventMessage struct {
	Book     string         `json:"book"`
	Kind     string         `json:"kind"`
	ID       *core.RecordID `json:"id,omitempty"`
	Fraction *float64       `json:"fraction,omitempty"`
	Success  *bool          `json:"success,omitempty"`
	Time     time.Time      `json:"time"`
}

// NewEventMessage converts e for publishing.
func NewEventMessage(book string, e notify.Event, at time.Time) EventMessage {
	m := EventMessage{Book: book, Kind: e.Kind().String(), Time: at.UTC()}
	switch ev := e.(type) {
	case notify.LoadProgress:
		m.Fraction = &ev.Fraction
	case notify.LoadEnd:
		m.Success = &ev.Success
	case notify.Inserted:
		m.ID = &ev.ID
	case notify.Removed:
		m.ID = &ev.ID
	}
	return m
}

// Command operations.
const (
	OpInsert  = "insert"
	OpDelete  = "delete"
	OpReindex = "reindex"
	OpReload  = "reload"
)

// Command asks the engine to apply a change made to the record store by
// another system. Seq, when set, identifies the command so redelivered
// copies can be dropped.
type Command struct {
	Op  string        `json:"op"`
	ID  core.RecordID `json:"id,omitempty"`
	Seq string        `json:"seq,omitempty"`
}

// ParseCommand decodes and validates a command.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decoding command: %w", err)
	}
	switch cmd.Op {
	case OpInsert, OpDelete, OpReindex:
		if cmd.ID.IsReserved() {
			return Command{}, fmt.Errorf("%s: reserved id %d", cmd.Op, cmd.ID)
		}
	case OpReload:
	default:
		return Command{}, fmt.Errorf("unknown command op %q", cmd.Op)
	}
	return cmd, nil
}
