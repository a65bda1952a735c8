package types

import (
	"strings"
	"time"
)

// EntityDomain classifies a Home Assistant entity by its id prefix. The
// domain decides which service call toggles the entity and whether an
// on/off state can be read back afterwards.
type EntityDomain int

const (
	DomainUnknown EntityDomain = iota
	DomainSwitch
	DomainLight
	DomainInputBoolean
	DomainScript
	DomainScene
)

// DomainOf maps an entity id like "switch.living_room_string_lights" to its
// EntityDomain. Anything without a recognized prefix is DomainUnknown.
func DomainOf(entityID string) EntityDomain {
	prefix, _, found := strings.Cut(entityID, ".")
	if !found {
		return DomainUnknown
	}
	switch prefix {
	case "switch":
		return DomainSwitch
	case "light":
		return DomainLight
	case "input_boolean":
		return DomainInputBoolean
	case "script":
		return DomainScript
	case "scene":
		return DomainScene
	default:
		return DomainUnknown
	}
}

// Stateful reports whether entities in this domain carry an on/off state
// worth reflecting on a key LED. Scripts and scenes are fire-and-forget.
func (d EntityDomain) Stateful() bool {
	switch d {
	case DomainSwitch, DomainLight, DomainInputBoolean:
		return true
	default:
		return false
	}
}

func (d EntityDomain) String() string {
	switch d {
	case DomainSwitch:
		return "switch"
	case DomainLight:
		return "light"
	case DomainInputBoolean:
		return "input_boolean"
	case DomainScript:
		return "script"
	case DomainScene:
		return "scene"
	default:
		return "unknown"
	}
}

// OnOff is the binary entity state as Home Assistant reports it.
type OnOff string

const (
	On  OnOff = "on"
	Off OnOff = "off"
)

// KeyBinding ties one physical key index to one entity. Bindings are built
// at config load and never mutated afterwards.
type KeyBinding struct {
	KeyIndex int
	EntityID string
}

// ToggleOutcome is the result of handling a single key press. State is nil
// for stateless domains, unmapped keys and failed toggles; in that case no
// STATE line goes back to the device and its LED keeps whatever it showed.
type ToggleOutcome struct {
	KeyIndex int
	Success  bool
	State    *OnOff
}

// RetryPolicy caps reconnect attempts. MaxAttempts of zero means unlimited.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}
