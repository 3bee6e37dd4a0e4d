package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// streamingPath is the websocket endpoint of the streaming API.
const streamingPath = "/api/v1/streaming"

// StreamEvent is one event delivered over the streaming API. Payload holds
// the raw event body; its shape depends on Event (a Status for "update", a
// bare ID for "delete", a Notification for "notification").
type StreamEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	// Err is set on the final event when the stream terminated abnormally.
	Err error `json:"-"`
}

// StreamOptions configures a streaming connection.
type StreamOptions struct {
	// Stream selects the event stream, e.g. "user", "public",
	// "public:local". Defaults to "user".
	Stream string
	// AccessToken authenticates the connection. Streaming does not go
	// through the executor, so the token is passed explicitly.
	AccessToken string
	// HandshakeTimeout bounds the websocket handshake. Defaults to 30s.
	HandshakeTimeout time.Duration
}

// Streamer maintains a websocket connection to the streaming API and
// delivers events over a channel.
type Streamer struct {
	instanceURL string
	dialer      *websocket.Dialer
}

// NewStreamer creates a streamer for the given instance.
func NewStreamer(instanceURL string) *Streamer {
	return &Streamer{
		instanceURL: strings.TrimRight(instanceURL, "/"),
		dialer:      websocket.DefaultDialer,
	}
}

// Stream connects to the selected event stream and returns a channel of
// events. The channel is closed when ctx is cancelled or the connection
// terminates; an abnormal termination delivers a final event with Err set.
func (s *Streamer) Stream(ctx context.Context, opts StreamOptions) (<-chan StreamEvent, error) {
	if opts.Stream == "" {
		opts.Stream = "user"
	}

	wsURL, err := s.streamURL(opts)
	if err != nil {
		return nil, err
	}

	dialer := *s.dialer
	if opts.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = opts.HandshakeTimeout
	} else {
		dialer.HandshakeTimeout = 30 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer func() {
				_ = resp.Body.Close()
			}()
			if checkErr := CheckResponse(resp); checkErr != nil {
				return nil, checkErr
			}
		}
		return nil, &Error{Kind: ErrorKindNetwork, Message: fmt.Sprintf("streaming dial failed: %v", err), Cause: err}
	}

	events := make(chan StreamEvent, 16)
	go s.readLoop(ctx, conn, opts.Stream, events)
	return events, nil
}

// streamURL builds the websocket URL, switching the scheme and attaching
// stream selection and token as query parameters.
func (s *Streamer) streamURL(opts StreamOptions) (string, error) {
	parsed, err := url.Parse(s.instanceURL + streamingPath)
	if err != nil {
		return "", fmt.Errorf("parse streaming URL failed: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported streaming scheme %q", parsed.Scheme)
	}

	query := parsed.Query()
	query.Set("stream", opts.Stream)
	if opts.AccessToken != "" {
		query.Set("access_token", opts.AccessToken)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// readLoop pumps decoded events until the context is cancelled or the
// connection drops. It owns closing both the connection and the channel.
func (s *Streamer) readLoop(ctx context.Context, conn *websocket.Conn, stream string, events chan<- StreamEvent) {
	defer close(events)
	defer func() {
		_ = conn.Close()
	}()

	logger := log.WithField("stream", stream)

	// A cancelled context unblocks ReadMessage by closing the connection.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("stream closed")
				return
			}
			logger.Warnf("stream read failed: %v", err)
			events <- StreamEvent{Err: &Error{Kind: ErrorKindNetwork, Message: err.Error(), Cause: err}}
			return
		}

		var event StreamEvent
		if err = json.Unmarshal(message, &event); err != nil {
			logger.Warnf("discarding malformed stream event: %v", err)
			continue
		}
		select {
		case events <- event:
		case <-ctx.Done():
			return
		}
	}
}

// HealthCheck probes the streaming endpoint's health resource over plain
// HTTP.
func (s *Streamer) HealthCheck(ctx context.Context, client *http.Client) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.instanceURL+streamingPath+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return &Error{Kind: ErrorKindNetwork, Message: err.Error(), Cause: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return CheckResponse(resp)
}
