package metrics

import (
	"sort"
	"sync"
	"time"

	"polofeed/logger"
)

// Metric is one measurement emitted by a feed component (connection, router,
// sink, archive, publish).
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler observes emitted metrics, e.g. the status server's recent
// metrics view and the prometheus mirror.
type MetricHandler func(Metric)

type MetricHandlerID uint64

// observerSet holds the handlers. Delivery follows registration order.
type observerSet struct {
	mu       sync.RWMutex
	nextID   MetricHandlerID
	handlers map[MetricHandlerID]MetricHandler
}

var (
	observers = newObserverSet()

	timeNow = time.Now
)

func newObserverSet() *observerSet {
	return &observerSet{handlers: make(map[MetricHandlerID]MetricHandler)}
}

func (o *observerSet) add(h MetricHandler) MetricHandlerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	o.handlers[o.nextID] = h
	return o.nextID
}

func (o *observerSet) remove(id MetricHandlerID) {
	o.mu.Lock()
	delete(o.handlers, id)
	o.mu.Unlock()
}

func (o *observerSet) snapshot() []MetricHandler {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.handlers) == 0 {
		return nil
	}
	ids := make([]MetricHandlerID, 0, len(o.handlers))
	for id := range o.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]MetricHandler, len(ids))
	for i, id := range ids {
		out[i] = o.handlers[id]
	}
	return out
}

func (o *observerSet) reset() {
	o.mu.Lock()
	o.handlers = make(map[MetricHandlerID]MetricHandler)
	o.nextID = 0
	o.mu.Unlock()
}

// RegisterMetricHandler subscribes handler to every emitted metric. A nil
// handler yields id 0 and is not registered.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	return observers.add(handler)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	observers.remove(id)
}

// recordMetric builds the metric, logs it at debug and hands it to observers.
// Metrics without a name are ignored; the type defaults to counter.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	m := Metric{
		Timestamp: timeNow(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    copyFields(fields),
	}

	entry := log.WithComponent(component).WithFields(m.Fields)
	entry.WithFields(logger.Fields{
		"metric":      name,
		"metric_type": metricType,
		"value":       value,
	}).Debug("metric")

	for _, h := range observers.snapshot() {
		h(m)
	}
	return m, true
}

func copyFields(fields logger.Fields) logger.Fields {
	out := make(logger.Fields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
