package subscription

import (
	"reflect"
	"sync"
	"testing"

	"polofeed/models"
)

func TestAddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	if !r.Add(models.ChannelPublic, "ticker:BTC_USDT") {
		t.Fatal("first add reported existing")
	}
	if r.Add(models.ChannelPublic, "ticker:BTC_USDT") {
		t.Fatal("second add reported new")
	}
	if got := r.Count(models.ChannelPublic); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	r := NewRegistry()
	r.Add(models.ChannelPublic, "wallet")
	if r.IsActive(models.ChannelPrivate, "wallet") {
		t.Fatal("public topic leaked into private channel")
	}
	r.Add(models.ChannelPrivate, "wallet")
	r.Clear(models.ChannelPublic)
	if !r.IsActive(models.ChannelPrivate, "wallet") {
		t.Fatal("clearing public removed private topic")
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	if r.Remove(models.ChannelPrivate, "orders") {
		t.Fatal("removing absent topic reported true")
	}
	r.Add(models.ChannelPrivate, "orders")
	if !r.Remove(models.ChannelPrivate, "orders") {
		t.Fatal("removing present topic reported false")
	}
	if r.IsActive(models.ChannelPrivate, "orders") {
		t.Fatal("topic still active after remove")
	}
}

func TestAllForKeepsInsertionOrder(t *testing.T) {
	r := NewRegistry()
	topics := []string{"ticker:ETH_USDT", "execution:BTC_USDT", "ticker:BTC_USDT"}
	for _, topic := range topics {
		r.Add(models.ChannelPublic, topic)
	}
	if got := r.AllFor(models.ChannelPublic); !reflect.DeepEqual(got, topics) {
		t.Fatalf("AllFor = %v, want %v", got, topics)
	}
	subs := r.Subscriptions(models.ChannelPublic)
	if len(subs) != 3 || !subs[0].Active || subs[0].Channel != models.ChannelPublic {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}
	if len(r.AllFor(models.ChannelPrivate)) != 0 {
		t.Fatal("expected empty private set")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Add(models.ChannelPublic, "ticker:BTC_USDT")
				r.IsActive(models.ChannelPublic, "ticker:BTC_USDT")
				r.AllFor(models.ChannelPublic)
			}
		}()
	}
	wg.Wait()
	if r.Count(models.ChannelPublic) != 1 {
		t.Fatalf("count = %d, want 1", r.Count(models.ChannelPublic))
	}
}
