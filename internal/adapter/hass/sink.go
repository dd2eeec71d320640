// Package hass integrates with a Home Assistant instance: publishing
// entity state over its REST API and receiving playback webhooks that
// drive the auto-saver.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Sink implements domain.StateSink against the Home Assistant states API.
type Sink struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewSink creates a sink for the given Home Assistant base URL and
// long-lived access token.
func NewSink(baseURL, token string) *Sink {
	return &Sink{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type statePayload struct {
	State      string            `json:"state"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publish upserts an entity's state. Home Assistant creates the entity
// on first write, so no registration step is needed.
func (s *Sink) Publish(ctx context.Context, entityID string, value string, attributes map[string]string) error {
	body, err := json.Marshal(statePayload{State: value, Attributes: attributes})
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", entityID, err)
	}

	url := fmt.Sprintf("%s/api/states/%s", s.baseURL, entityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create state request for %s: %w", entityID, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish state for %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("state API rejected %s: status %d", entityID, resp.StatusCode)
	}
	return nil
}
