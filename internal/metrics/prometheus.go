package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "polofeed"

// promLabels is the fixed label set of every mirrored series. Fields outside
// it are ignored; missing ones are exported empty.
var promLabels = []string{"component", "channel", "family", "result", "reason"}

// Prometheus mirrors emitted metrics into a private registry. Counter metrics
// are added, anything else is set as a gauge.
type Prometheus struct {
	registry *prometheus.Registry

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec

	handlerID MetricHandlerID
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Prometheus{
		registry: registry,
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

// Start subscribes the collector to every emitted metric.
func (p *Prometheus) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlerID == 0 {
		p.handlerID = RegisterMetricHandler(p.Observe)
	}
}

func (p *Prometheus) Stop() {
	p.mu.Lock()
	id := p.handlerID
	p.handlerID = 0
	p.mu.Unlock()
	UnregisterMetricHandler(id)
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Observe records one metric.
func (p *Prometheus) Observe(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	labels := prometheus.Labels{}
	for _, name := range promLabels {
		labels[name] = ""
	}
	labels["component"] = m.Component
	for _, name := range promLabels[1:] {
		if s, ok := m.Fields[name].(string); ok {
			labels[name] = s
		}
	}

	name := sanitizeMetricName(m.Name)
	if m.Type == "counter" {
		if value < 0 {
			return
		}
		p.counter(name).With(labels).Add(value)
		return
	}
	p.gauge(name).With(labels).Set(value)
}

func (p *Prometheus) counter(name string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name + "_total",
		Help:      "Feed counter " + name,
	}, promLabels)
	p.registry.MustRegister(vec)
	p.counters[name] = vec
	return vec
}

func (p *Prometheus) gauge(name string) *prometheus.GaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.gauges[name]; ok {
		return vec
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      "Feed gauge " + name,
	}, promLabels)
	p.registry.MustRegister(vec)
	p.gauges[name] = vec
	return vec
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func sortedKeys(fields map[string]interface{}) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
