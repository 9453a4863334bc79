package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const clientTimeout = 10 * time.Second

// Client wraps the outbound HTTP calls to collaborators: the presence REST
// endpoint, the review backend, the icon and timezone services.
type Client struct {
	HTTP *http.Client

	UserAgent string
}

// NewClient makes a new client.
func NewClient() *Client {
	return &Client{
		HTTP: &http.Client{
			Timeout: clientTimeout,
		},

		UserAgent: "profilePage/" + VERSION,
	}
}

// FetchJSON performs a request and decodes the response body into the
// passed structure.
func (c *Client) FetchJSON(ctx context.Context, method, url string, body io.Reader, structure interface{}) error {
	res, err := c.Do(ctx, method, url, body, nil)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	err = json.NewDecoder(res.Body).Decode(structure)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// Do performs a request with standard headers applied. Non-2xx statuses are
// returned as errors; the caller never has to inspect the status code.
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		res.Body.Close()

		return nil, fmt.Errorf("unexpected status %d from %s", res.StatusCode, url)
	}

	return res, nil
}

// FetchPresence does a one-shot REST load of a user's presence, the static
// fallback to the push channel.
func (c *Client) FetchPresence(ctx context.Context, instance, userID string) (*PresenceSnapshot, error) {
	url := instance + "/v1/users/" + userID

	var response PresenceResponse

	err := c.FetchJSON(ctx, "GET", url, nil, &response)
	if err != nil {
		return nil, err
	}

	if !response.Success || response.Data == nil {
		if response.Error != nil {
			return nil, fmt.Errorf("%w: %s", ErrUpstream, response.Error.Message)
		}

		return nil, ErrUpstream
	}

	return response.Data, nil
}
