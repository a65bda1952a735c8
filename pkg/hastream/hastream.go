// Package hastream subscribes to Home Assistant's websocket event bus and
// reports state changes of entities the bridge cares about, so key LEDs
// can track changes made from outside the keypad.
package hastream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type Client struct {
	wsAddress string
	token     string
	wsConn    net.Conn

	// handler receives the entity id and its new raw state. It runs on
	// the stream goroutine and must not block.
	handler func(entityID, state string)
}

func NewClient(baseURL, token string, handler func(entityID, state string)) *Client {
	wsAddress := strings.Replace(strings.TrimRight(baseURL, "/"), "http", "ws", 1) + "/api/websocket"
	return &Client{
		wsAddress: wsAddress,
		token:     token,
		wsConn:    nil,
		handler:   handler,
	}
}

// HandleWebsocketConnection connects, authenticates and processes events
// until stop is closed, reconnecting after a delay on any failure. The
// stream is best effort: the bridge works without it.
func (c *Client) HandleWebsocketConnection(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		log.Printf("Connecting to Home Assistant event stream at %s", c.wsAddress)
		if err := c.runOnce(); err != nil {
			log.Printf("Event stream: %v", err)
		}

		select {
		case <-stop:
			return
		case <-time.After(30 * time.Second):
		}
	}
}

func (c *Client) runOnce() error {
	if err := c.establishWebsocketConnection(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer c.wsConn.Close()

	if err := c.authenticate(); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	if err := c.subscribeStateChanges(); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	return c.processWebsocketMessages()
}

func (c *Client) establishWebsocketConnection() error {
	conn, _, _, err := ws.DefaultDialer.Dial(context.TODO(), c.wsAddress)
	if err != nil {
		return err
	}
	c.wsConn = conn
	return nil
}

type serverMessage struct {
	ID      int    `json:"id,omitempty"`
	Type    string `json:"type"`
	Success *bool  `json:"success,omitempty"`
	Event   struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string `json:"entity_id"`
			NewState *struct {
				State string `json:"state"`
			} `json:"new_state"`
		} `json:"data"`
	} `json:"event"`
}

func (c *Client) authenticate() error {
	msg, err := c.readMessage()
	if err != nil {
		return err
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %q", msg.Type)
	}

	auth := fmt.Sprintf("{\"type\":\"auth\",\"access_token\":%q}", c.token)
	if err := wsutil.WriteClientMessage(c.wsConn, ws.OpText, []byte(auth)); err != nil {
		return err
	}

	msg, err = c.readMessage()
	if err != nil {
		return err
	}
	if msg.Type != "auth_ok" {
		return fmt.Errorf("authentication rejected: %q", msg.Type)
	}
	return nil
}

func (c *Client) subscribeStateChanges() error {
	sub := "{\"id\":1,\"type\":\"subscribe_events\",\"event_type\":\"state_changed\"}"
	if err := wsutil.WriteClientMessage(c.wsConn, ws.OpText, []byte(sub)); err != nil {
		return err
	}

	msg, err := c.readMessage()
	if err != nil {
		return err
	}
	if msg.Type != "result" || msg.Success == nil || !*msg.Success {
		return fmt.Errorf("subscription rejected")
	}
	return nil
}

func (c *Client) processWebsocketMessages() error {
	for {
		msg, err := c.readMessage()
		if err != nil {
			return err
		}
		if msg.Type != "event" || msg.Event.EventType != "state_changed" {
			continue
		}
		data := msg.Event.Data
		if data.NewState == nil {
			continue
		}
		c.handler(data.EntityID, data.NewState.State)
	}
}

func (c *Client) readMessage() (*serverMessage, error) {
	payload, err := wsutil.ReadServerText(c.wsConn)
	if err != nil {
		return nil, err
	}
	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("could not parse received data: %w", err)
	}
	return &msg, nil
}
