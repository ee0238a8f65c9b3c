package connection

import (
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyOpen     = errors.New("already open")
	ErrUnknownHandle   = errors.New("unknown subscription handle")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial handshake deadline
	PingInterval     time.Duration // How often to ping the server
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for control frames
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       64,
	}
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	ReconnectDelay    time.Duration // Wait before the first redial
	ReconnectMaxDelay time.Duration // Cap for exponential growth
	Client            ClientConfig  // URL is set by Open
}

// DefaultFeedConfig returns the fixed two-second redial baseline.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    2 * time.Second,
		ReconnectMaxDelay: 2 * time.Second,
		Client:            DefaultClientConfig(),
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	BaseURL string // Prefix for endpoints given as paths, e.g. ws://localhost:8000
	Feed    FeedConfig
}

// State is a feed's connection state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// StateEvent reports a feed state transition.
type StateEvent struct {
	Endpoint string
	State    State
	Failures int           // Consecutive failed or dropped connections
	Err      error         // Cause of the transition, if any
	RetryIn  time.Duration // Set when State is StateReconnecting
	At       time.Time
}

// FeedStatus is a point-in-time summary of a feed.
type FeedStatus struct {
	Endpoint       string    `json:"endpoint"`
	State          State     `json:"state"`
	Failures       int       `json:"failures"`
	LastError      string    `json:"last_error,omitempty"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	Connects       int64     `json:"connects"`
	Messages       int64     `json:"messages"`
	Dropped        int64     `json:"dropped"`
}

// Subscriber receives messages and state events from a shared feed.
// Callbacks run on the feed's goroutine and must not call Release.
type Subscriber struct {
	OnMessage func(TimestampedMessage)
	OnState   func(StateEvent)
}

// Handle identifies one Acquire.
type Handle struct {
	id       string
	endpoint string
}

// ID returns the handle's unique id.
func (h *Handle) ID() string { return h.id }

// Endpoint returns the resolved endpoint URL the handle is subscribed to.
func (h *Handle) Endpoint() string { return h.endpoint }

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Feeds       int
	Connected   int
	Subscribers int
}
