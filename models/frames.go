package models

import (
	"encoding/json"
	"strings"
)

// ChannelKind names one of the two duplex channels to the venue.
type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
)

// FrameType is the normalized envelope type of an inbound frame.
type FrameType string

const (
	FrameWelcome      FrameType = "welcome"
	FrameAck          FrameType = "ack"
	FrameError        FrameType = "error"
	FrameData         FrameType = "data"
	FrameHeartbeatAck FrameType = "heartbeat-ack"
	FrameUnknown      FrameType = ""
)

// InboundFrame is the decoded envelope of a venue message. It only lives for
// the duration of one dispatch.
type InboundFrame struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Subject string          `json:"subject,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    json.RawMessage `json:"code,omitempty"`
}

// FrameID returns the correlation id, which the venue may echo as a string
// or a number.
func (f InboundFrame) FrameID() string {
	return strings.Trim(string(f.ID), `"`)
}

// Kind maps the wire type onto a FrameType. The venue spells data frames
// "message" and keep-alive replies "pong"; both spellings are accepted.
func (f InboundFrame) Kind() FrameType {
	switch strings.ToLower(strings.TrimSpace(f.Type)) {
	case "welcome":
		return FrameWelcome
	case "ack":
		return FrameAck
	case "error":
		return FrameError
	case "message", "data":
		return FrameData
	case "pong", "heartbeat-ack":
		return FrameHeartbeatAck
	default:
		return FrameUnknown
	}
}

// Outbound frame types.
const (
	OutboundSubscribe   = "subscribe"
	OutboundUnsubscribe = "unsubscribe"
	OutboundPing        = "ping"
)

// OutboundFrame is a request sent to the venue. Authenticated frames carry
// APIKey, Sign and Timestamp minted at send time.
type OutboundFrame struct {
	ID             int64  `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel,omitempty"`
	Response       bool   `json:"response,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	Sign           string `json:"sign,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
}

// Authenticated reports whether the frame carries a signature.
func (f OutboundFrame) Authenticated() bool {
	return f.APIKey != "" && f.Sign != "" && f.Timestamp != ""
}
