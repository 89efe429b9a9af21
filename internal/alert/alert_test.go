package alert

import (
	"context"
	"errors"
	"testing"
)

type recordingAlerter struct {
	got []Alert
	err error
}

func (r *recordingAlerter) Alert(_ context.Context, a Alert) error {
	r.got = append(r.got, a)
	return r.err
}

func TestNewFillsIdentity(t *testing.T) {
	a := New("polofeed", CodeReconnect, "socket closed")
	if a.ID == "" || a.Timestamp.IsZero() {
		t.Fatalf("missing id or timestamp: %+v", a)
	}
	if b := New("polofeed", CodeReconnect, "socket closed"); b.ID == a.ID {
		t.Fatal("ids should be unique")
	}
}

func TestMultiDeliversToAll(t *testing.T) {
	first := &recordingAlerter{err: errors.New("broker down")}
	second := &recordingAlerter{}
	m := Multi{first, nil, second, NewLogAlerter()}

	err := m.Alert(context.Background(), New("polofeed", CodeReconnect, "x"))
	if err == nil || err.Error() != "broker down" {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.got) != 1 || len(second.got) != 1 {
		t.Fatalf("deliveries: first=%d second=%d", len(first.got), len(second.got))
	}
}
