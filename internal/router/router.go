// Package router classifies inbound venue frames, validates data payloads
// against their topic family and fans normalized events out to the sink and
// the event bus.
package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"polofeed/internal/events"
	"polofeed/internal/metrics"
	"polofeed/logger"
	"polofeed/models"
)

// ErrValidation marks a data payload that does not match its family's shape.
var ErrValidation = errors.New("router: payload failed validation")

// Sink accepts validated events for persistence. Enqueue must not block on
// the write itself.
type Sink interface {
	Enqueue(models.NormalizedEvent)
}

// Subscriptions is the read side of the subscription registry.
type Subscriptions interface {
	IsActive(channel models.ChannelKind, topic string) bool
}

// VenueError is the error carried by an error event. The verbatim payload
// travels alongside it as the event's Payload.
type VenueError struct {
	Code    string
	Message string
}

func (e *VenueError) Error() string {
	if e.Code == "" {
		return "venue error: " + e.Message
	}
	return fmt.Sprintf("venue error %s: %s", e.Code, e.Message)
}

// Router implements connection.FrameHandler. Handle is called from one
// goroutine per channel, so frames of a channel are dispatched in order.
type Router struct {
	sink Sink
	bus  *events.Bus
	subs Subscriptions
	log  *logger.Entry
	now  func() time.Time
}

// New builds a router. subs may be nil.
func New(sink Sink, bus *events.Bus, subs Subscriptions) *Router {
	return &Router{
		sink: sink,
		bus:  bus,
		subs: subs,
		log:  logger.GetLogger().WithComponent("router"),
		now:  time.Now,
	}
}

// Handle parses one raw frame and dispatches it. Failures are logged and
// counted, never returned.
func (r *Router) Handle(raw []byte, channel models.ChannelKind) {
	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.log.WithFields(logger.Fields{
			"channel": string(channel),
			"bytes":   len(raw),
		}).WithError(err).Warn("failed to parse inbound frame")
		metrics.EmitDropMetric(nil, metrics.DropReasonParse, string(channel), "")
		return
	}

	switch frame.Kind() {
	case models.FrameWelcome:
		r.log.WithField("channel", string(channel)).Info("channel welcomed")
		r.emit(events.Event{Name: events.Welcome, Channel: channel, Payload: json.RawMessage(raw)})
	case models.FrameAck:
		r.log.WithFields(logger.Fields{"channel": string(channel), "id": frame.FrameID()}).Debug("ack received")
		r.emit(events.Event{Name: events.Ack, Channel: channel, Topic: frame.Topic, Payload: json.RawMessage(raw)})
	case models.FrameError:
		verr := venueError(frame)
		r.log.WithFields(logger.Fields{"channel": string(channel), "code": verr.Code}).WithError(verr).Warn("venue reported an error")
		r.emit(events.Event{Name: events.Error, Channel: channel, Topic: frame.Topic, Payload: json.RawMessage(raw), Err: verr})
	case models.FrameHeartbeatAck:
	case models.FrameData:
		r.handleData(frame, channel)
	default:
		r.log.WithFields(logger.Fields{"channel": string(channel), "type": frame.Type}).Debug("ignoring frame of unknown type")
		metrics.EmitDropMetric(nil, metrics.DropReasonUnknownType, string(channel), "")
	}
}

func (r *Router) handleData(frame models.InboundFrame, channel models.ChannelKind) {
	entry := r.log.WithFields(logger.Fields{"channel": string(channel), "topic": frame.Topic})

	family, ok := models.LookupTopic(frame.Topic)
	if !ok {
		entry.Warn("dropping frame for unknown topic")
		metrics.EmitDropMetric(nil, metrics.DropReasonUnknownTopic, string(channel), "")
		return
	}
	if r.subs != nil && !r.subs.IsActive(channel, frame.Topic) {
		entry.Debug("data for a topic that is not subscribed")
	}

	items, err := payloadItems(frame.Data)
	if err != nil {
		entry.WithField("family", string(family)).WithError(err).Warn("dropping invalid payload")
		metrics.EmitDropMetric(nil, metrics.DropReasonValidation, string(channel), string(family))
		return
	}

	normalize := normalizers[family]
	now := r.now()
	for _, item := range items {
		ev, err := normalize(item, now)
		if err != nil {
			entry.WithField("family", string(family)).WithError(err).Warn("dropping invalid payload")
			metrics.EmitDropMetric(nil, metrics.DropReasonValidation, string(channel), string(family))
			continue
		}
		if r.sink != nil {
			r.sink.Enqueue(ev)
		}
		r.emit(events.Event{Name: events.ForFamily(family), Channel: channel, Topic: frame.Topic, Payload: ev})
		r.emit(events.Event{Name: events.Message, Channel: channel, Topic: frame.Topic, Payload: ev})
	}
}

func (r *Router) emit(ev events.Event) {
	if r.bus != nil {
		r.bus.Emit(ev)
	}
}

// payloadItems splits data into its objects. Data may be one object or an
// array of them.
func payloadItems(data json.RawMessage) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil, fmt.Errorf("%w: missing data", ErrValidation)
	}
	switch data[0] {
	case '{':
		return []json.RawMessage{data}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		for _, item := range items {
			if trimmed := bytes.TrimSpace(item); len(trimmed) == 0 || trimmed[0] != '{' {
				return nil, fmt.Errorf("%w: data array holds a non-object", ErrValidation)
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: data is not an object", ErrValidation)
	}
}

func venueError(frame models.InboundFrame) *VenueError {
	var code flexString
	if len(frame.Code) > 0 {
		_ = code.UnmarshalJSON(frame.Code)
	}
	msg := frame.Subject
	if len(frame.Data) > 0 {
		var s string
		if err := json.Unmarshal(frame.Data, &s); err == nil {
			msg = s
		} else if msg == "" {
			msg = string(frame.Data)
		}
	}
	return &VenueError{Code: string(code), Message: msg}
}
