package status

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"polofeed/internal/events"
	"polofeed/internal/metrics"
)

// metricStore keeps the most recent metrics. It is safe for concurrent use.
type metricStore struct {
	mu    sync.RWMutex
	items []metrics.Metric
	limit int
}

func newMetricStore(limit int) *metricStore {
	if limit <= 0 {
		limit = 200
	}
	return &metricStore{limit: limit}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, metric)
	if len(s.items) > s.limit {
		s.items = append([]metrics.Metric(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *metricStore) snapshot() []metrics.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Metric, len(s.items))
	copy(out, s.items)
	return out
}

type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook keeping warnings and errors for /api/logs.
type logStore struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{limit: limit}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}
	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}
			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items = append(s.items, record)
	if len(s.items) > s.limit {
		s.items = append([]logRecord(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *logStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, len(s.items))
	copy(out, s.items)
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}

// eventStats counts bus events by name and remembers the last error event.
type eventStats struct {
	mu        sync.RWMutex
	counts    map[events.Name]int64
	lastError *errorRecord
}

type errorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Error     string    `json:"error"`
}

func newEventStats() *eventStats {
	return &eventStats{counts: make(map[events.Name]int64)}
}

func (s *eventStats) handle(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[ev.Name]++
	if ev.Name == events.Error && ev.Err != nil {
		s.lastError = &errorRecord{
			Timestamp: ev.Timestamp,
			Channel:   string(ev.Channel),
			Topic:     ev.Topic,
			Error:     ev.Err.Error(),
		}
	}
}

func (s *eventStats) snapshot() (map[events.Name]int64, *errorRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[events.Name]int64, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	var last *errorRecord
	if s.lastError != nil {
		copied := *s.lastError
		last = &copied
	}
	return counts, last
}
