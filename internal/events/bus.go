// Package events is the in-process emission surface that listeners outside
// the feed (publishers, archives, dashboards) subscribe to.
package events

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"polofeed/logger"
	"polofeed/models"
)

// Name identifies an event kind.
type Name string

const (
	Connected    Name = "connected"
	Disconnected Name = "disconnected"
	Welcome      Name = "welcome"
	Ack          Name = "ack"
	Error        Name = "error"
	Message      Name = "message"
)

// ForFamily returns the event name carrying events of family f.
func ForFamily(f models.Family) Name {
	return Name(f)
}

// Event is delivered to handlers. Payload holds a models.NormalizedEvent for
// family and message events and the venue's raw payload for welcome, ack and
// venue error events.
type Event struct {
	Name      Name
	Channel   models.ChannelKind
	Topic     string
	Payload   interface{}
	Err       error
	Timestamp time.Time
}

// Raw returns the payload as raw JSON when it is one.
func (e Event) Raw() (json.RawMessage, bool) {
	raw, ok := e.Payload.(json.RawMessage)
	return raw, ok
}

// Handler consumes events. Handlers run on the emitting goroutine and must
// not block.
type Handler func(Event)

// HandlerID identifies a registration.
type HandlerID uint64

type registration struct {
	name    Name
	all     bool
	handler Handler
}

// Bus fans events out to registered handlers in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[HandlerID]registration
	nextID   HandlerID
	log      *logger.Entry
	now      func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[HandlerID]registration),
		log:      logger.GetLogger().WithComponent("events"),
		now:      time.Now,
	}
}

// Subscribe registers handler for one event name. A zero id is returned for
// a nil handler.
func (b *Bus) Subscribe(name Name, handler Handler) HandlerID {
	return b.register(registration{name: name, handler: handler})
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) HandlerID {
	return b.register(registration{all: true, handler: handler})
}

func (b *Bus) register(r registration) HandlerID {
	if r.handler == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[b.nextID] = r
	return b.nextID
}

// Unsubscribe removes a registration. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id HandlerID) {
	if id == 0 {
		return
	}
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// Emit delivers ev to every matching handler. A panicking handler is logged
// and does not stop delivery to the others.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.RLock()
	matched := make([]HandlerID, 0, len(b.handlers))
	for id, r := range b.handlers {
		if r.all || r.name == ev.Name {
			matched = append(matched, id)
		}
	}
	handlers := make([]Handler, 0, len(matched))
	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })
	for _, id := range matched {
		handlers = append(handlers, b.handlers[id].handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logger.Fields{
				"event": string(ev.Name),
				"panic": r,
			}).Error("event handler panicked")
		}
	}()
	h(ev)
}

// On registers fn for the family of T, giving the handler a typed payload.
func On[T models.NormalizedEvent](b *Bus, fn func(T)) HandlerID {
	if fn == nil {
		return 0
	}
	var zero T
	return b.Subscribe(ForFamily(zero.Family()), func(ev Event) {
		if payload, ok := ev.Payload.(T); ok {
			fn(payload)
		}
	})
}
