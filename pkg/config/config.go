// Package config loads the bridge configuration file into an immutable
// Snapshot. The file is JSON by default; a .yaml/.yml extension switches
// to strict YAML with the same field names. A Snapshot is replaced
// wholesale on reload, never mutated in place.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/automatedhome/keybow/pkg/types"
)

// Defaults mirror the reference deployment: a Keybow on USB CDC at 115200
// baud, five second retry delay, five second device heartbeat.
const (
	DefaultPortLinux         = "/dev/ttyACM0"
	DefaultPortMacOS         = "/dev/cu.usbmodem1101"
	DefaultBaudRate          = 115200
	DefaultRetryDelay        = 5 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultMetricsListen     = ":7003"
)

type homeAssistantSection struct {
	URL   string `json:"url" yaml:"url"`
	Token string `json:"token" yaml:"token"`
}

type serialSection struct {
	PortLinux string `json:"port_linux,omitempty" yaml:"port_linux,omitempty"`
	PortMacOS string `json:"port_macos,omitempty" yaml:"port_macos,omitempty"`
	BaudRate  int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
}

type keySection struct {
	EntityID string `json:"entity_id" yaml:"entity_id"`
}

type mqttSection struct {
	BrokerURL   string `json:"broker_url,omitempty" yaml:"broker_url,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty" yaml:"topic_prefix,omitempty"`
}

type eventsSection struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

type fileConfig struct {
	HomeAssistant     homeAssistantSection  `json:"home_assistant" yaml:"home_assistant"`
	Serial            serialSection         `json:"serial,omitempty" yaml:"serial,omitempty"`
	RetryDelay        float64               `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	MaxRetries        int                   `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	QuietMode         bool                  `json:"quiet_mode,omitempty" yaml:"quiet_mode,omitempty"`
	HeartbeatInterval float64               `json:"heartbeat_interval,omitempty" yaml:"heartbeat_interval,omitempty"`
	Keys              map[string]keySection `json:"keys" yaml:"keys"`
	MQTT              mqttSection           `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Events            eventsSection         `json:"events,omitempty" yaml:"events,omitempty"`
	MetricsListen     string                `json:"metrics_listen,omitempty" yaml:"metrics_listen,omitempty"`
}

// Snapshot is one fully resolved configuration. All fields are set after
// Load and never change; reconnect cycles call Load again and swap the
// whole value.
type Snapshot struct {
	HomeAssistantURL   string
	HomeAssistantToken string

	SerialPort string
	BaudRate   int

	Retry             types.RetryPolicy
	QuietMode         bool
	HeartbeatInterval time.Duration

	Bindings map[int]types.KeyBinding

	MQTTBroker    string
	MQTTPrefix    string
	EventsEnabled bool
	MetricsListen string
}

// Keys returns the configured bindings ordered by key index, for stable
// resync and logging order.
func (s *Snapshot) Keys() []types.KeyBinding {
	out := make([]types.KeyBinding, 0, len(s.Bindings))
	for _, b := range s.Bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyIndex < out[j].KeyIndex })
	return out
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Snapshot, error) {
	log.Printf("Reading configuration from %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg fileConfig
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing json config: %w", err)
		}
	}

	return build(&cfg, runtime.GOOS)
}

func build(cfg *fileConfig, goos string) (*Snapshot, error) {
	if cfg.HomeAssistant.URL == "" {
		return nil, fmt.Errorf("home_assistant.url is not set")
	}
	if cfg.HomeAssistant.Token == "" || cfg.HomeAssistant.Token == "YOUR_LONG_LIVED_ACCESS_TOKEN" {
		return nil, fmt.Errorf("home_assistant.token is not set")
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("retry_delay must be positive, got %v", cfg.RetryDelay)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be positive, got %d", cfg.MaxRetries)
	}

	bindings := make(map[int]types.KeyBinding, len(cfg.Keys))
	for k, v := range cfg.Keys {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid key index %q", k)
		}
		if v.EntityID == "" {
			return nil, fmt.Errorf("key %d has no entity_id", idx)
		}
		if types.DomainOf(v.EntityID) == types.DomainUnknown {
			log.Printf("Key %d maps to entity %q of unrecognized domain", idx, v.EntityID)
		}
		bindings[idx] = types.KeyBinding{KeyIndex: idx, EntityID: v.EntityID}
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("no keys configured")
	}

	s := &Snapshot{
		HomeAssistantURL:   cfg.HomeAssistant.URL,
		HomeAssistantToken: cfg.HomeAssistant.Token,
		SerialPort:         selectPort(&cfg.Serial, goos),
		BaudRate:           cfg.Serial.BaudRate,
		Retry: types.RetryPolicy{
			Delay:       time.Duration(cfg.RetryDelay * float64(time.Second)),
			MaxAttempts: cfg.MaxRetries,
		},
		QuietMode:         cfg.QuietMode,
		HeartbeatInterval: time.Duration(cfg.HeartbeatInterval * float64(time.Second)),
		Bindings:          bindings,
		MQTTBroker:        cfg.MQTT.BrokerURL,
		MQTTPrefix:        cfg.MQTT.TopicPrefix,
		EventsEnabled:     cfg.Events.Enabled,
		MetricsListen:     cfg.MetricsListen,
	}
	if s.BaudRate == 0 {
		s.BaudRate = DefaultBaudRate
	}
	if s.Retry.Delay == 0 {
		s.Retry.Delay = DefaultRetryDelay
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if s.MQTTPrefix == "" {
		s.MQTTPrefix = "keybow"
	}
	if s.MetricsListen == "" {
		s.MetricsListen = DefaultMetricsListen
	}
	return s, nil
}

func selectPort(serial *serialSection, goos string) string {
	if goos == "darwin" {
		if serial.PortMacOS != "" {
			return serial.PortMacOS
		}
		return DefaultPortMacOS
	}
	if serial.PortLinux != "" {
		return serial.PortLinux
	}
	return DefaultPortLinux
}
