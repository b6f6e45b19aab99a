// Package todos is the client for the todo API. Requests go through
// the auth transport, so bearer attachment and 401 retries are
// transparent here.
package todos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrUnauthorized indicates the session could not be established even
// after the transport's refresh-and-retry
var ErrUnauthorized = errors.New("authentication required")

// Todo is one todo item
type Todo struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventType names a change observed on the todo list
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is one live change to the todo list
type Event struct {
	Type EventType `json:"type"`
	Todo Todo      `json:"todo"`
}

// ListFilter narrows List results
type ListFilter struct {
	// Done filters by completion state when non-nil
	Done *bool
	// Search matches a substring of the content
	Search string
}

// TokenFunc supplies the access token for the websocket handshake,
// which cannot go through the HTTP transport
type TokenFunc func(ctx context.Context) (string, bool)

// Client talks to the todo endpoints
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokenFn    TokenFunc
	log        zerolog.Logger
}

// NewClient creates a todo client on top of the given HTTP client
func NewClient(baseURL string, httpClient *http.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log.With().Str("component", "todos").Logger(),
	}
}

// SetTokenFunc wires the access-token source used for Observe
func (c *Client) SetTokenFunc(fn TokenFunc) {
	c.tokenFn = fn
}

// List returns the caller's todos, newest first
func (c *Client) List(ctx context.Context, filter ListFilter) ([]Todo, error) {
	endpoint := c.baseURL + "/api/todos"
	query := url.Values{}
	if filter.Done != nil {
		query.Set("done", fmt.Sprintf("%t", *filter.Done))
	}
	if filter.Search != "" {
		query.Set("q", filter.Search)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var items []Todo
	if err := c.do(req, http.StatusOK, &items); err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	return items, nil
}

// Create adds a todo with the given content
func (c *Client) Create(ctx context.Context, content string) (*Todo, error) {
	jsonData, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/todos", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var todo Todo
	if err := c.do(req, http.StatusCreated, &todo); err != nil {
		return nil, fmt.Errorf("failed to create todo: %w", err)
	}
	return &todo, nil
}

// Toggle flips the completion state of a todo
func (c *Client) Toggle(ctx context.Context, id string) (*Todo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/api/todos/"+url.PathEscape(id)+"/toggle", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var todo Todo
	if err := c.do(req, http.StatusOK, &todo); err != nil {
		return nil, fmt.Errorf("failed to toggle todo: %w", err)
	}
	return &todo, nil
}

// Delete removes a todo
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/todos/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if err := c.do(req, http.StatusOK, nil); err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	return nil
}

// Observe streams live changes to the todo list until ctx is canceled.
// The channel closes when the stream ends.
func (c *Client) Observe(ctx context.Context) (<-chan Event, error) {
	wsURL, err := websocketURL(c.baseURL, "/api/todos/observe")
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.tokenFn != nil {
		if token, ok := c.tokenFn(ctx); ok {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("failed to open stream: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	events := make(chan Event)
	done := make(chan struct{})

	// Cancellation unblocks the read loop by closing the connection
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(events)
		defer close(done)
		defer conn.Close()
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Debug().Err(err).Msg("observe stream ended")
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// do executes the request, asserts the expected status and decodes the
// body into out when non-nil
func (c *Client) do(req *http.Request, expected int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiMessage(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiMessage extracts the error field from a JSON payload, falling
// back to the raw body
func apiMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

// websocketURL converts the API base URL into its websocket form
func websocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
