package events

import (
	"encoding/json"
	"testing"

	"polofeed/models"
)

func TestSubscribeReceivesOnlyNamedEvents(t *testing.T) {
	bus := NewBus()
	var got []Name
	bus.Subscribe(Ack, func(ev Event) { got = append(got, ev.Name) })

	bus.Emit(Event{Name: Welcome})
	bus.Emit(Event{Name: Ack, Payload: json.RawMessage(`{"id":"1"}`)})

	if len(got) != 1 || got[0] != Ack {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestSubscribeAllAndOrder(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "first") })
	bus.Subscribe(Connected, func(Event) { order = append(order, "second") })
	bus.SubscribeAll(func(Event) { order = append(order, "third") })

	bus.Emit(Event{Name: Connected, Channel: models.ChannelPublic})

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	id := bus.Subscribe(Error, func(Event) { calls++ })
	bus.Emit(Event{Name: Error})
	bus.Unsubscribe(id)
	bus.Unsubscribe(id)
	bus.Emit(Event{Name: Error})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if bus.Subscribe(Error, nil) != 0 {
		t.Fatal("nil handler should return zero id")
	}
}

func TestEmitSetsTimestamp(t *testing.T) {
	bus := NewBus()
	var ev Event
	bus.Subscribe(Welcome, func(e Event) { ev = e })
	bus.Emit(Event{Name: Welcome})
	if ev.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(Message, func(Event) { panic("boom") })
	bus.Subscribe(Message, func(Event) { delivered = true })

	bus.Emit(Event{Name: Message})
	if !delivered {
		t.Fatal("second handler not invoked after panic")
	}
}

func TestOnIsTyped(t *testing.T) {
	bus := NewBus()
	var ticker models.TickerUpdate
	calls := 0
	On(bus, func(u models.TickerUpdate) {
		ticker = u
		calls++
	})

	bus.Emit(Event{Name: ForFamily(models.FamilyTicker), Payload: models.TickerUpdate{Symbol: "BTC_USDT"}})
	bus.Emit(Event{Name: ForFamily(models.FamilyOrder), Payload: models.OrderUpdate{OrderID: "1"}})

	if calls != 1 || ticker.Symbol != "BTC_USDT" {
		t.Fatalf("calls = %d ticker = %+v", calls, ticker)
	}
}
