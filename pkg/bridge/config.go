package bridge

import (
	"time"

	"github.com/gorilla/websocket"
)

// ClientConfig holds the configuration for the bridge client
type ClientConfig struct {
	URL         string
	Dialer      *websocket.Dialer
	Timeout     time.Duration
	EventBuffer int
}

// DefaultConfig returns the default configuration
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		URL:         "ws://127.0.0.1:7667/ipc",
		Timeout:     15 * time.Second,
		EventBuffer: 64,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithURL sets the bridge socket URL
func WithURL(url string) ClientOption {
	return func(c *ClientConfig) {
		c.URL = url
	}
}

// WithDialer sets a custom websocket dialer
func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *ClientConfig) {
		c.Dialer = dialer
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithEventBuffer sets the event channel buffer size
func WithEventBuffer(size int) ClientOption {
	return func(c *ClientConfig) {
		c.EventBuffer = size
	}
}
