package todos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client(), zerolog.Nop())
}

func TestList(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/todos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("done") != "false" || r.URL.Query().Get("q") != "milk" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Todo{
			{ID: "t1", Content: "buy milk", Done: false},
		})
	}))

	done := false
	items, err := client.List(context.Background(), ListFilter{Done: &done, Search: "milk"})
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if len(items) != 1 || items[0].Content != "buy milk" {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestCreate(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["content"] != "water the plants" {
			t.Errorf("unexpected content %q", req["content"])
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Todo{ID: "t2", Content: req["content"]})
	}))

	todo, err := client.Create(context.Background(), "water the plants")
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}
	if todo.ID != "t2" {
		t.Errorf("unexpected todo: %+v", todo)
	}
}

func TestToggle(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/todos/t3/toggle" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Todo{ID: "t3", Done: true})
	}))

	todo, err := client.Toggle(context.Background(), "t3")
	if err != nil {
		t.Fatalf("Toggle() returned error: %v", err)
	}
	if !todo.Done {
		t.Errorf("expected toggled todo, got %+v", todo)
	}
}

func TestDelete(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/todos/t4" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "deleted"})
	}))

	if err := client.Delete(context.Background(), "t4"); err != nil {
		t.Fatalf("Delete() returned error: %v", err)
	}
}

func TestUnauthorized(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.List(context.Background(), ListFilter{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "content is required"})
	}))

	_, err := client.Create(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "content is required") {
		t.Errorf("expected API message in error, got %v", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		base     string
		expected string
	}{
		{base: "http://localhost:8085", expected: "ws://localhost:8085/api/todos/observe"},
		{base: "https://api.example.com", expected: "wss://api.example.com/api/todos/observe"},
		{base: "https://api.example.com/v1/", expected: "wss://api.example.com/v1/api/todos/observe"},
	}

	for _, tt := range tests {
		got, err := websocketURL(tt.base, "/api/todos/observe")
		if err != nil {
			t.Fatalf("websocketURL(%q) returned error: %v", tt.base, err)
		}
		if got != tt.expected {
			t.Errorf("websocketURL(%q) = %q, expected %q", tt.base, got, tt.expected)
		}
	}
}

func TestObserve(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sawAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/todos/observe" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		sawAuth = r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(Event{Type: EventCreated, Todo: Todo{ID: "t1", Content: "new"}})
		_ = conn.WriteJSON(Event{Type: EventDeleted, Todo: Todo{ID: "t0"}})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.Client(), zerolog.Nop())
	client.SetTokenFunc(func(context.Context) (string, bool) { return "ws-token", true })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.Observe(ctx)
	if err != nil {
		t.Fatalf("Observe() returned error: %v", err)
	}

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	if sawAuth != "Bearer ws-token" {
		t.Errorf("expected bearer on handshake, got %q", sawAuth)
	}
	if len(got) != 2 || got[0].Type != EventCreated || got[1].Type != EventDeleted {
		t.Errorf("unexpected events: %+v", got)
	}
}

func TestObserve_CancelClosesStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the stream open; the client side cancels
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.Client(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	events, err := client.Observe(ctx)
	if err != nil {
		t.Fatalf("Observe() returned error: %v", err)
	}

	cancel()

	select {
	case _, open := <-events:
		if open {
			t.Error("expected channel to close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
