// Package calendar: REST client
//
// This file implements Client against a generic calendar provider REST API:
//   POST   {base}/events           -> 201 {"id": "..."}
//   PUT    {base}/events/{id}      -> 204
//   DELETE {base}/events/{id}      -> 204 (404/410 treated as success)
//
// The client applies a bounded per-call timeout on top of the caller's
// context so a hung provider cannot stall a booking request indefinitely.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultCallTimeout = 5 * time.Second

// RESTClient talks to a calendar provider over HTTP/JSON.
type RESTClient struct {
	// BaseURL is the provider endpoint, e.g. "https://calendar.internal/api".
	BaseURL string
	// APIKey, when set, is sent as the X-API-Key header.
	APIKey string
	// Timeout bounds each call; zero means defaultCallTimeout.
	Timeout time.Duration
	// HTTPClient may be overridden (tests); nil means http.DefaultClient.
	HTTPClient *http.Client
	// Logger records provider failures; zero value logs are discarded.
	Logger zerolog.Logger
}

// createEventResponse is the provider's create payload.
type createEventResponse struct {
	ID string `json:"id"`
}

// CreateEvent implements Client.
func (c *RESTClient) CreateEvent(ctx context.Context, ev Event) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, c.eventsURL(""), ev)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", fmt.Errorf("calendar create: unexpected status %d", status)
	}
	var resp createEventResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("calendar create: decode response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("calendar create: provider returned no event id")
	}
	return resp.ID, nil
}

// UpdateEvent implements Client.
func (c *RESTClient) UpdateEvent(ctx context.Context, eventRef string, ev Event) error {
	_, status, err := c.do(ctx, http.MethodPut, c.eventsURL(eventRef), ev)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("calendar update: unexpected status %d", status)
	}
	return nil
}

// DeleteEvent implements Client. Missing events (404/410) count as success so
// compensation and cancellation remain idempotent.
func (c *RESTClient) DeleteEvent(ctx context.Context, eventRef string) error {
	_, status, err := c.do(ctx, http.MethodDelete, c.eventsURL(eventRef), nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return fmt.Errorf("calendar delete: unexpected status %d", status)
	}
}

// do performs one bounded HTTP round-trip and returns the body and status.
func (c *RESTClient) do(ctx context.Context, method, target string, payload any) ([]byte, int, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("calendar: encode payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		c.Logger.Error().Err(err).Str("method", method).Str("url", target).Msg("calendar provider call failed")
		return nil, 0, fmt.Errorf("calendar: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("calendar: read response: %w", err)
	}
	return b, resp.StatusCode, nil
}

// eventsURL joins the base URL with the events path and optional event id.
func (c *RESTClient) eventsURL(eventRef string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if eventRef == "" {
		return base + "/events"
	}
	return base + "/events/" + url.PathEscape(eventRef)
}
