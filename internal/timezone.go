package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimezoneClient resolves a user's stored IANA timezone from the timezone
// service. The result is cached for the session; the widget is static
// per user.
type TimezoneClient struct {
	Logger zerolog.Logger

	client  *Client
	baseURL string

	mu     sync.Mutex
	cached map[string]*time.Location
}

type timezoneResponse struct {
	Timezone string `json:"timezone"`
}

// NewTimezoneClient creates the client. An empty baseURL disables lookups.
func NewTimezoneClient(logger zerolog.Logger, client *Client, baseURL string) *TimezoneClient {
	return &TimezoneClient{
		Logger: logger.With().Str("component", "timezone").Logger(),

		client:  client,
		baseURL: baseURL,

		cached: make(map[string]*time.Location),
	}
}

// Enabled reports whether the service is configured.
func (tz *TimezoneClient) Enabled() bool {
	return tz != nil && tz.baseURL != ""
}

// Lookup resolves the timezone for a user id.
func (tz *TimezoneClient) Lookup(ctx context.Context, userID string) (*time.Location, error) {
	if !tz.Enabled() {
		return nil, ErrTimezoneNotFound
	}

	tz.mu.Lock()
	location, ok := tz.cached[userID]
	tz.mu.Unlock()

	if ok {
		return location, nil
	}

	var response timezoneResponse

	err := tz.client.FetchJSON(ctx, "GET", tz.baseURL+"/get?id="+userID, nil, &response)
	if err != nil {
		return nil, fmt.Errorf("timezone lookup failed: %w", err)
	}

	if response.Timezone == "" {
		return nil, ErrTimezoneNotFound
	}

	location, err = time.LoadLocation(response.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", response.Timezone, err)
	}

	tz.mu.Lock()
	tz.cached[userID] = location
	tz.mu.Unlock()

	return location, nil
}
