// Package homeassistant is a minimal client for the Home Assistant REST
// API: call a service, read an entity state. Every request carries a
// bounded timeout; retrying is the supervisor's job, never this client's.
package homeassistant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/automatedhome/keybow/pkg/types"
)

// Err is a stable error code for API failures.
type Err string

func (e Err) Error() string { return string(e) }

const (
	ErrUnreachable    Err = "homeassistant: unreachable"
	ErrUnauthorized   Err = "homeassistant: unauthorized"
	ErrEntityNotFound Err = "homeassistant: entity not found"
)

// Entity is the wire shape of GET /api/states/<entity_id>.
type Entity struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// settleDelay gives Home Assistant a moment to commit the new state
	// before Toggle reads it back. Zeroed in tests.
	settleDelay time.Duration
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		settleDelay: 200 * time.Millisecond,
	}
}

// Toggle flips or activates the entity and returns the resulting on/off
// state. Switches, lights and input booleans get the "toggle" service and
// a state readback; scripts and scenes get "turn_on" and a nil state.
func (c *Client) Toggle(entityID string) (*types.OnOff, error) {
	domain := types.DomainOf(entityID)

	// Scripts and scenes are activated, everything else is toggled in
	// its own domain, unrecognized prefixes included.
	service := "toggle"
	if domain == types.DomainScript || domain == types.DomainScene {
		service = "turn_on"
	}
	domainName := domain.String()
	if domain == types.DomainUnknown {
		if prefix, _, ok := strings.Cut(entityID, "."); ok {
			domainName = prefix
		}
	}
	if err := c.CallService(domainName, service, entityID); err != nil {
		return nil, err
	}
	if !domain.Stateful() {
		return nil, nil
	}

	time.Sleep(c.settleDelay)

	on, err := c.IsOn(entityID)
	if err != nil {
		return nil, err
	}
	state := types.Off
	if on {
		state = types.On
	}
	return &state, nil
}

// CallService POSTs /api/services/<domain>/<service> for the entity.
func (c *Client) CallService(domain, service, entityID string) error {
	address := fmt.Sprintf("%s/api/services/%s/%s", c.baseURL, domain, service)

	payload, err := json.Marshal(struct {
		EntityID string `json:"entity_id"`
	}{EntityID: entityID})
	if err != nil {
		return fmt.Errorf("could not encode request: %w", err)
	}

	req, err := http.NewRequest("POST", address, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: call %s.%s: %v", ErrUnreachable, domain, service, err)
	}
	defer resp.Body.Close()

	if err := statusErr(resp.StatusCode); err != nil {
		return fmt.Errorf("call %s.%s for %s: %w", domain, service, entityID, err)
	}
	return nil
}

// GetState returns the raw state string of an entity.
func (c *Client) GetState(entityID string) (string, error) {
	address := fmt.Sprintf("%s/api/states/%s", c.baseURL, entityID)

	req, err := http.NewRequest("GET", address, nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: get state of %s: %v", ErrUnreachable, entityID, err)
	}
	defer resp.Body.Close()

	if err := statusErr(resp.StatusCode); err != nil {
		return "", fmt.Errorf("get state of %s: %w", entityID, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read response body: %w", err)
	}

	var data Entity
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("could not parse received data: %w", err)
	}
	return data.State, nil
}

// IsOn reports whether the entity's state is exactly "on".
func (c *Client) IsOn(entityID string) (bool, error) {
	state, err := c.GetState(entityID)
	if err != nil {
		return false, err
	}
	return state == "on", nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
}

func statusErr(code int) error {
	switch {
	case code == http.StatusOK, code == http.StatusCreated:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrEntityNotFound
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}
