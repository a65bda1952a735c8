package types

import "testing"

func TestDomainOf(t *testing.T) {
	cases := []struct {
		entityID string
		want     EntityDomain
	}{
		{"switch.living_room_string_lights", DomainSwitch},
		{"light.kitchen", DomainLight},
		{"input_boolean.guest_mode", DomainInputBoolean},
		{"script.good_night", DomainScript},
		{"scene.movie_time", DomainScene},
		{"sensor.outside_temperature", DomainUnknown},
		{"noseparator", DomainUnknown},
		{"", DomainUnknown},
	}
	for _, c := range cases {
		if got := DomainOf(c.entityID); got != c.want {
			t.Errorf("DomainOf(%q) = %v, want %v", c.entityID, got, c.want)
		}
	}
}

func TestStateful(t *testing.T) {
	stateful := []EntityDomain{DomainSwitch, DomainLight, DomainInputBoolean}
	for _, d := range stateful {
		if !d.Stateful() {
			t.Errorf("%v.Stateful() = false, want true", d)
		}
	}
	stateless := []EntityDomain{DomainScript, DomainScene, DomainUnknown}
	for _, d := range stateless {
		if d.Stateful() {
			t.Errorf("%v.Stateful() = true, want false", d)
		}
	}
}
