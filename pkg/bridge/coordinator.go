package bridge

import (
	"log"

	"github.com/automatedhome/keybow/pkg/types"
)

// HAService is the slice of the Home Assistant client the bridge needs.
type HAService interface {
	Toggle(entityID string) (*types.OnOff, error)
	IsOn(entityID string) (bool, error)
}

// Coordinator translates key presses into entity toggles. API failures are
// routine here: they come back as failed outcomes, never as errors that
// could take the bridge down.
type Coordinator struct {
	ha       HAService
	bindings map[int]types.KeyBinding
}

func NewCoordinator(ha HAService, bindings map[int]types.KeyBinding) *Coordinator {
	return &Coordinator{ha: ha, bindings: bindings}
}

// Handle toggles the entity bound to keyIndex. An unmapped key is a no-op
// outcome, since the keypad may have more physical keys than configured
// entities.
func (c *Coordinator) Handle(keyIndex int) types.ToggleOutcome {
	binding, ok := c.bindings[keyIndex]
	if !ok {
		log.Printf("Key %d is not mapped to any entity", keyIndex)
		return types.ToggleOutcome{KeyIndex: keyIndex}
	}

	log.Printf("Toggle: key %d -> %s", keyIndex, binding.EntityID)

	state, err := c.ha.Toggle(binding.EntityID)
	if err != nil {
		log.Printf("Failed to toggle %s for key %d: %v", binding.EntityID, keyIndex, err)
		return types.ToggleOutcome{KeyIndex: keyIndex}
	}
	return types.ToggleOutcome{KeyIndex: keyIndex, Success: true, State: state}
}

// Resync reads the current state of every stateful binding and emits one
// outcome per entity, in key order. Per-entity failures are logged and
// skipped so one unreachable entity does not stall the rest.
func (c *Coordinator) Resync(keys []types.KeyBinding, emit func(types.ToggleOutcome) error) error {
	for _, binding := range keys {
		if !types.DomainOf(binding.EntityID).Stateful() {
			continue
		}
		on, err := c.ha.IsOn(binding.EntityID)
		if err != nil {
			log.Printf("Could not refresh key %d (%s): %v", binding.KeyIndex, binding.EntityID, err)
			continue
		}
		state := types.Off
		if on {
			state = types.On
		}
		log.Printf("  key %d (%s): %s", binding.KeyIndex, binding.EntityID, state)
		if err := emit(types.ToggleOutcome{KeyIndex: binding.KeyIndex, Success: true, State: &state}); err != nil {
			return err
		}
	}
	return nil
}
