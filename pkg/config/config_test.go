package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validJSON = `{
  "home_assistant": {"url": "http://10.0.0.58:8123", "token": "secret"},
  "serial": {"port_linux": "/dev/ttyACM1", "baud_rate": 9600},
  "retry_delay": 2,
  "max_retries": 4,
  "quiet_mode": true,
  "keys": {
    "3": {"entity_id": "switch.living_room_string_lights"},
    "5": {"entity_id": "script.good_night"}
  }
}`

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "bridge_config.json", validJSON)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.HomeAssistantURL != "http://10.0.0.58:8123" || s.HomeAssistantToken != "secret" {
		t.Errorf("unexpected HA settings: %q %q", s.HomeAssistantURL, s.HomeAssistantToken)
	}
	if s.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", s.BaudRate)
	}
	if s.Retry.Delay != 2*time.Second || s.Retry.MaxAttempts != 4 {
		t.Errorf("Retry = %+v", s.Retry)
	}
	if !s.QuietMode {
		t.Error("QuietMode = false, want true")
	}
	if len(s.Bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(s.Bindings))
	}
	if b := s.Bindings[3]; b.EntityID != "switch.living_room_string_lights" {
		t.Errorf("binding 3 = %+v", b)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "bridge_config.yaml", `
home_assistant:
  url: http://ha.local:8123
  token: secret
keys:
  "0":
    entity_id: light.kitchen
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Bindings[0].EntityID != "light.kitchen" {
		t.Errorf("binding 0 = %+v", s.Bindings[0])
	}
}

func TestDefaults(t *testing.T) {
	path := writeFile(t, "bridge_config.json", `{
  "home_assistant": {"url": "http://ha.local:8123", "token": "secret"},
  "keys": {"3": {"entity_id": "switch.living_room_string_lights"}}
}`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want default", s.BaudRate)
	}
	if s.Retry.Delay != DefaultRetryDelay {
		t.Errorf("Retry.Delay = %v, want default", s.Retry.Delay)
	}
	if s.Retry.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %d, want 0 (unlimited)", s.Retry.MaxAttempts)
	}
	if s.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v, want default", s.HeartbeatInterval)
	}
	if s.MetricsListen != DefaultMetricsListen {
		t.Errorf("MetricsListen = %q, want default", s.MetricsListen)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name, content string
	}{
		{"missing token", `{"home_assistant":{"url":"http://x"},"keys":{"3":{"entity_id":"switch.a"}}}`},
		{"placeholder token", `{"home_assistant":{"url":"http://x","token":"YOUR_LONG_LIVED_ACCESS_TOKEN"},"keys":{"3":{"entity_id":"switch.a"}}}`},
		{"missing url", `{"home_assistant":{"token":"t"},"keys":{"3":{"entity_id":"switch.a"}}}`},
		{"no keys", `{"home_assistant":{"url":"http://x","token":"t"},"keys":{}}`},
		{"bad key index", `{"home_assistant":{"url":"http://x","token":"t"},"keys":{"three":{"entity_id":"switch.a"}}}`},
		{"negative key index", `{"home_assistant":{"url":"http://x","token":"t"},"keys":{"-1":{"entity_id":"switch.a"}}}`},
		{"missing entity_id", `{"home_assistant":{"url":"http://x","token":"t"},"keys":{"3":{}}}`},
		{"not json", `retry_delay: [`},
	}
	for _, c := range cases {
		path := writeFile(t, "bridge_config.json", c.content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load succeeded, want error", c.name)
		}
	}
}

func TestSelectPort(t *testing.T) {
	s := &serialSection{PortLinux: "/dev/ttyUSB0", PortMacOS: "/dev/cu.usbmodem42"}
	if got := selectPort(s, "linux"); got != "/dev/ttyUSB0" {
		t.Errorf("linux port = %q", got)
	}
	if got := selectPort(s, "darwin"); got != "/dev/cu.usbmodem42" {
		t.Errorf("darwin port = %q", got)
	}

	empty := &serialSection{}
	if got := selectPort(empty, "linux"); got != DefaultPortLinux {
		t.Errorf("default linux port = %q", got)
	}
	if got := selectPort(empty, "darwin"); got != DefaultPortMacOS {
		t.Errorf("default darwin port = %q", got)
	}
}

func TestKeysOrdered(t *testing.T) {
	path := writeFile(t, "bridge_config.json", `{
  "home_assistant": {"url": "http://x", "token": "t"},
  "keys": {
    "9": {"entity_id": "switch.c"},
    "1": {"entity_id": "switch.a"},
    "4": {"entity_id": "switch.b"}
  }
}`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	keys := s.Keys()
	want := []int{1, 4, 9}
	for i, b := range keys {
		if b.KeyIndex != want[i] {
			t.Fatalf("Keys() order = %v at %d, want %v", b.KeyIndex, i, want)
		}
	}
}
