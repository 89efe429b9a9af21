package connection

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"polofeed/models"
)

// Status is the lifecycle state of one channel.
type Status string

const (
	StatusDisconnected   Status = "Disconnected"
	StatusConnecting     Status = "Connecting"
	StatusAuthenticating Status = "Authenticating"
	StatusConnected      Status = "Connected"
	StatusClosing        Status = "Closing"
)

// ChannelState is the per-channel state machine. ReconnectAttempts resets to
// zero on reaching Connected and only grows while retrying.
type ChannelState struct {
	Status            Status
	ReconnectAttempts int
	LastError         error
}

// ChannelStatus is the user-visible snapshot of a channel.
type ChannelStatus struct {
	Channel             models.ChannelKind `json:"channel"`
	Status              Status             `json:"status"`
	ReconnectAttempts   int                `json:"reconnectAttempts"`
	LastError           string             `json:"lastError,omitempty"`
	ActiveSubscriptions int                `json:"activeSubscriptions"`
}

// reconnectDelay is linear: base, 2*base, 3*base, ...
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

// channel holds everything the manager tracks for one duplex channel.
type channel struct {
	kind models.ChannelKind
	url  string

	mu      sync.Mutex
	state   ChannelState
	conn    Conn
	running bool
	cancel  context.CancelFunc

	writeMu sync.Mutex
	limiter *rate.Limiter
}

func newChannel(kind models.ChannelKind, url string, limiter *rate.Limiter) *channel {
	return &channel{
		kind:    kind,
		url:     url,
		state:   ChannelState{Status: StatusDisconnected},
		limiter: limiter,
	}
}

func (c *channel) snapshot() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *channel) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

func (c *channel) setStatus(s Status) {
	c.mu.Lock()
	c.state.Status = s
	c.mu.Unlock()
}

func (c *channel) setConn(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *channel) currentConn() Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// markConnected is the only transition into Connected.
func (c *channel) markConnected() {
	c.mu.Lock()
	c.state.Status = StatusConnected
	c.state.ReconnectAttempts = 0
	c.state.LastError = nil
	c.mu.Unlock()
}

// markDown records a session failure. A nil err keeps the last error.
func (c *channel) markDown(err error) {
	c.mu.Lock()
	c.state.Status = StatusDisconnected
	if err != nil {
		c.state.LastError = err
	}
	c.mu.Unlock()
}

// reset returns the channel to its initial state after a disconnect.
func (c *channel) reset() {
	c.mu.Lock()
	c.state = ChannelState{Status: StatusDisconnected}
	c.conn = nil
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
}
