package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

func TestStream(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/streaming" {
			t.Errorf("path = %q, want /api/v1/streaming", r.URL.Path)
		}
		if got := r.URL.Query().Get("stream"); got != "public" {
			t.Errorf("stream = %q, want public", got)
		}
		if got := r.URL.Query().Get("access_token"); got != "tok" {
			t.Errorf("access_token = %q, want tok", got)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() {
			_ = conn.Close()
		}()

		payload := `{"event":"update","payload":"{\"id\":\"42\"}"}`
		if err = conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Errorf("write event: %v", err)
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}))
	defer server.Close()

	streamer := NewStreamer(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := streamer.Stream(ctx, StreamOptions{Stream: "public", AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	event, ok := <-events
	if !ok {
		t.Fatal("event channel closed before delivering the event")
	}
	if event.Err != nil {
		t.Fatalf("event.Err = %v", event.Err)
	}
	if event.Event != "update" {
		t.Errorf("Event = %q, want update", event.Event)
	}
	inner := gjson.Get(gjson.ParseBytes(event.Payload).String(), "id").String()
	if inner != "42" {
		t.Errorf("payload status id = %q, want 42", inner)
	}

	// Normal close ends the stream without a final error event.
	if extra, open := <-events; open {
		t.Errorf("unexpected extra event %+v after close", extra)
	}
}

func TestStreamCancelledContext(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			_ = conn.Close()
		}()
		// Hold the connection open until the client goes away.
		for {
			if _, _, err = conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	streamer := NewStreamer(server.URL)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := streamer.Stream(ctx, StreamOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			// Drain until close; a cancel may race a final event.
			for range events {
			}
		}
	case <-time.After(10 * time.Second):
		t.Fatal("event channel not closed after context cancellation")
	}
}

func TestStreamRejectedHandshake(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"The access token is invalid"}`))
	}))
	defer server.Close()

	streamer := NewStreamer(server.URL)
	_, err := streamer.Stream(context.Background(), StreamOptions{AccessToken: "bad"})

	apiErr, ok := AsError(err)
	if !ok || apiErr.Kind != ErrorKindAuthentication {
		t.Errorf("Stream() error = %v, want authentication error", err)
	}
}

func TestStreamURLScheme(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		instanceURL string
		want        string
	}{
		{"https becomes wss", "https://example.social", "wss://example.social/api/v1/streaming?stream=user"},
		{"http becomes ws", "http://example.social", "ws://example.social/api/v1/streaming?stream=user"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewStreamer(tt.instanceURL).streamURL(StreamOptions{Stream: "user"})
			if err != nil {
				t.Fatalf("streamURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("streamURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
