// Package auth obtains session credentials from the account service.
//
// The account service is the only HTTP boundary of the client: it exchanges
// the configured API key for a short-lived bearer token and the participant
// identifier the voice backend expects. Nothing else is read from or written
// to that service.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrUnauthorized is returned when the account service rejects the API key.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Credential is a short-lived bearer credential for one participant.
type Credential struct {
	Token         string    `json:"token"`
	ParticipantID string    `json:"participant_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// expired reports whether the credential needs refreshing. A small margin
// avoids handing out tokens that expire mid-connect.
func (c Credential) expired(now time.Time) bool {
	if c.Token == "" {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(30 * time.Second).Before(c.ExpiresAt)
}

// Option is a functional option for [NewClient].
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Defaults to one with a 10s
// timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client fetches and caches credentials.
type Client struct {
	tokenURL string
	apiKey   string
	http     *http.Client

	mu     sync.Mutex
	cached Credential
}

// NewClient creates a credential client for the given token endpoint.
func NewClient(tokenURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		tokenURL: tokenURL,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Credential returns a valid credential, fetching a fresh one when the
// cached token is missing or about to expire.
func (c *Client) Credential(ctx context.Context) (Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cached.expired(time.Now()) {
		return c.cached, nil
	}

	cred, err := c.fetch(ctx)
	if err != nil {
		return Credential{}, err
	}
	c.cached = cred
	return cred, nil
}

// Invalidate drops the cached credential so the next call fetches anew.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = Credential{}
}

func (c *Client) fetch(ctx context.Context) (Credential, error) {
	body, err := json.Marshal(map[string]string{"api_key": c.apiKey})
	if err != nil {
		return Credential{}, fmt.Errorf("auth: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("auth: token request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Credential{}, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Credential{}, fmt.Errorf("auth: token endpoint returned status %d", resp.StatusCode)
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return Credential{}, fmt.Errorf("auth: decode response: %w", err)
	}
	if cred.Token == "" || cred.ParticipantID == "" {
		return Credential{}, fmt.Errorf("auth: token endpoint returned incomplete credential")
	}
	return cred, nil
}
