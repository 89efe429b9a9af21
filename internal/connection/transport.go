package connection

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open duplex channel. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const defaultHandshakeTimeout = 10 * time.Second

// WebsocketDialer dials the venue with gorilla/websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = handshakeTimeout
	d.EnableCompression = true
	return &WebsocketDialer{dialer: &d}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
