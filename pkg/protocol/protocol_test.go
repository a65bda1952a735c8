package protocol

import (
	"testing"

	"github.com/automatedhome/keybow/pkg/types"
)

func TestDecodeWellFormed(t *testing.T) {
	cases := []struct {
		line string
		want Event
	}{
		{"READY", Event{Kind: Ready}},
		{"HEARTBEAT", Event{Kind: Heartbeat}},
		{"TOGGLE:0", Event{Kind: Toggle, Key: 0}},
		{"TOGGLE:3", Event{Kind: Toggle, Key: 3}},
		{"TOGGLE:15", Event{Kind: Toggle, Key: 15}},
		{"DEBUG:boot complete", Event{Kind: Debug, Message: "boot complete"}},
		{"DEBUG:", Event{Kind: Debug, Message: ""}},
		{"DEBUG:a:b:c", Event{Kind: Debug, Message: "a:b:c"}},
	}
	for _, c := range cases {
		if got := Decode(c.line); got != c.want {
			t.Errorf("Decode(%q) = %+v, want %+v", c.line, got, c.want)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	lines := []string{
		"",
		"TOGGLE:abc",
		"TOGGLE:",
		"TOGGLE:-1",
		"TOGGLE:3.5",
		"toggle:3",
		"ready",
		"UNKNOWN",
		"STATE:3:on", // outbound verb, not valid inbound
	}
	for _, line := range lines {
		got := Decode(line)
		if got.Kind != Malformed {
			t.Errorf("Decode(%q).Kind = %v, want Malformed", line, got.Kind)
		}
		if got.Raw != line {
			t.Errorf("Decode(%q).Raw = %q, want the raw line", line, got.Raw)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	lines := []string{"READY", "HEARTBEAT", "TOGGLE:0", "TOGGLE:7", "DEBUG:hello world"}
	for _, line := range lines {
		ev := Decode(line)
		if ev.Kind == Malformed {
			t.Fatalf("Decode(%q) unexpectedly malformed", line)
		}
		back := Decode(ev.String())
		if back != ev {
			t.Errorf("round trip of %q: got %+v, want %+v", line, back, ev)
		}
	}
}

func TestEncodeState(t *testing.T) {
	on := types.On
	off := types.Off

	line, ok := EncodeState(types.ToggleOutcome{KeyIndex: 3, Success: true, State: &on})
	if !ok || line != "STATE:3:on" {
		t.Errorf("got (%q, %v), want (STATE:3:on, true)", line, ok)
	}

	line, ok = EncodeState(types.ToggleOutcome{KeyIndex: 12, Success: true, State: &off})
	if !ok || line != "STATE:12:off" {
		t.Errorf("got (%q, %v), want (STATE:12:off, true)", line, ok)
	}
}

func TestEncodeStateAbsent(t *testing.T) {
	// Failed toggles and stateless entities produce no line; the device
	// keeps its prior LED state.
	outcomes := []types.ToggleOutcome{
		{KeyIndex: 3, Success: false},
		{KeyIndex: 5, Success: true}, // script or scene
	}
	for _, o := range outcomes {
		if line, ok := EncodeState(o); ok {
			t.Errorf("EncodeState(%+v) = %q, want no line", o, line)
		}
	}
}
