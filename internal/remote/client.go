// Package remote is the boundary to the backend REST API. The sync core
// treats it as opaque: submit a queued action, probe reachability, fetch
// current server state for reconciliation.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tarpai/connect-sync/internal/record"
)

// Client is the interface the sync manager drains against.
type Client interface {
	// Ping probes reachability; an error means offline.
	Ping(ctx context.Context) error
	// Submit transmits one queued action. The action's client key is sent
	// as an idempotency key so a retried transmit cannot double-apply.
	Submit(ctx context.Context, a *record.Action) error
	// FetchGroups returns the server's current view of the user's groups.
	FetchGroups(ctx context.Context) ([]record.Group, error)
}

// HTTPClient talks to the backend over HTTP.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// Options configure NewHTTPClient.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewHTTPClient creates a client with a per-request timeout. A timed-out
// request surfaces as an ordinary error and counts as one failed attempt.
func NewHTTPClient(opts Options) *HTTPClient {
	return &HTTPClient{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

// submitBody is the wire shape for a queued action.
type submitBody struct {
	ClientKey string          `json:"client_key"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

func (c *HTTPClient) Submit(ctx context.Context, a *record.Action) error {
	body, err := json.Marshal(submitBody{
		ClientKey: a.ClientKey,
		Kind:      string(a.Kind),
		Payload:   a.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode action %s: %w", a.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/actions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", a.ClientKey)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("submit action %s: status %d", a.ID, resp.StatusCode)
	}
	return nil
}

// wireGroup is the server's group representation.
type wireGroup struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	MemberCount        int    `json:"member_count"`
	UnreadCount        int    `json:"unread_count"`
	LastMessageAt      int64  `json:"last_message_at"`
	LastMessagePreview string `json:"last_message_preview"`
	LastMessageSender  string `json:"last_message_sender"`
	CreatedAt          int64  `json:"created_at"`
}

func (c *HTTPClient) FetchGroups(ctx context.Context) ([]record.Group, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/groups", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch groups: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch groups: %w", err)
	}
	var wire []wireGroup
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}

	groups := make([]record.Group, len(wire))
	for i, w := range wire {
		groups[i] = record.Group{
			ServerID:           w.ID,
			Name:               w.Name,
			MemberCount:        w.MemberCount,
			UnreadCount:        w.UnreadCount,
			LastMessageAt:      w.LastMessageAt,
			LastMessagePreview: w.LastMessagePreview,
			LastMessageSender:  w.LastMessageSender,
			IsSynced:           true,
			CreatedAt:          w.CreatedAt,
		}
	}
	return groups, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
