// Package mqtt publishes bridge telemetry to an MQTT broker: an
// availability topic, the serial link state and per-key toggle outcomes.
// It also listens on <prefix>/resync so other automation can force an LED
// refresh. The whole package is optional; the bridge runs fine without a
// broker configured.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"

	"github.com/automatedhome/common/pkg/mqttclient"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/automatedhome/keybow/pkg/types"
)

type Publisher struct {
	client paho.Client
	prefix string
}

// NewPublisher connects to the broker and subscribes to the resync topic.
// onResync runs on the MQTT client's goroutine and must not block.
func NewPublisher(brokerURL, prefix string, onResync func()) (*Publisher, error) {
	uri, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url: %w", err)
	}

	resyncTopic := prefix + "/resync"
	client := mqttclient.New("keybow-bridge", uri, []string{resyncTopic}, func(_ paho.Client, _ paho.Message) {
		log.Printf("Resync requested over MQTT")
		onResync()
	})

	return &Publisher{client: client, prefix: prefix}, nil
}

// Available publishes the retained availability flag.
func (p *Publisher) Available(online bool) {
	payload := "offline"
	if online {
		payload = "online"
	}
	// mqttclient.Publish passes its third argument through as the QoS
	// and the fourth as the retained flag.
	_ = mqttclient.Publish(p.client, p.prefix+"/availability", 0, true, payload)
}

// LinkState publishes the retained serial link state.
func (p *Publisher) LinkState(state string) {
	_ = mqttclient.Publish(p.client, p.prefix+"/link_state", 0, true, state)
}

// Outcome publishes the result of one key press.
func (p *Publisher) Outcome(o types.ToggleOutcome) {
	msg := struct {
		Success bool   `json:"success"`
		State   string `json:"state,omitempty"`
	}{Success: o.Success}
	if o.State != nil {
		msg.State = string(*o.State)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Could not encode outcome for key %d: %v", o.KeyIndex, err)
		return
	}
	topic := fmt.Sprintf("%s/key/%d/outcome", p.prefix, o.KeyIndex)
	_ = mqttclient.Publish(p.client, topic, 0, false, string(payload))
}

// Close announces unavailability and disconnects.
func (p *Publisher) Close() {
	p.Available(false)
	p.client.Disconnect(250)
}
