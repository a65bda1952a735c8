// Package protocol implements the line protocol spoken between the bridge
// and the keypad. The device sends READY, HEARTBEAT, TOGGLE:<n> and
// DEBUG:<msg> lines; the bridge answers with STATE:<n>:on|off lines.
// The codec is stateless: one line in, one event out, never an error.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/automatedhome/keybow/pkg/types"
)

// Kind discriminates decoded events.
type Kind int

const (
	// Malformed is the zero Kind so an uninitialized Event is never
	// mistaken for a real verb.
	Malformed Kind = iota
	Ready
	Heartbeat
	Toggle
	Debug
)

// Event is one decoded protocol line. Key is set for Toggle, Message for
// Debug and Raw for Malformed; the other fields are zero.
type Event struct {
	Kind    Kind
	Key     int
	Message string
	Raw     string
}

// Decode parses a single line (without its terminator) into an Event.
// It always yields a variant: anything outside the grammar, including a
// TOGGLE with a bad key number, comes back as Malformed carrying the raw
// line for logging.
func Decode(line string) Event {
	switch {
	case line == "READY":
		return Event{Kind: Ready}
	case line == "HEARTBEAT":
		return Event{Kind: Heartbeat}
	case strings.HasPrefix(line, "TOGGLE:"):
		key, err := strconv.Atoi(line[len("TOGGLE:"):])
		if err != nil || key < 0 {
			return Event{Kind: Malformed, Raw: line}
		}
		return Event{Kind: Toggle, Key: key}
	case strings.HasPrefix(line, "DEBUG:"):
		return Event{Kind: Debug, Message: line[len("DEBUG:"):]}
	default:
		return Event{Kind: Malformed, Raw: line}
	}
}

// String re-serializes the event as a wire line. Malformed events render
// their raw content, which keeps logs readable.
func (e Event) String() string {
	switch e.Kind {
	case Ready:
		return "READY"
	case Heartbeat:
		return "HEARTBEAT"
	case Toggle:
		return fmt.Sprintf("TOGGLE:%d", e.Key)
	case Debug:
		return "DEBUG:" + e.Message
	default:
		return e.Raw
	}
}

// EncodeState renders the STATE line for a toggle outcome. The second
// return is false when no line must be sent: stateless entities and failed
// toggles leave the key LED untouched.
func EncodeState(o types.ToggleOutcome) (string, bool) {
	if o.State == nil {
		return "", false
	}
	return fmt.Sprintf("STATE:%d:%s", o.KeyIndex, *o.State), true
}
