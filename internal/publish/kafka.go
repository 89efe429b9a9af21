// Package publish forwards normalized events and reconnect alerts to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"polofeed/config"
	"polofeed/internal/alert"
	"polofeed/internal/events"
	"polofeed/logger"
	"polofeed/models"
)

var publishedFamilies = []models.Family{
	models.FamilyTicker,
	models.FamilyOrderBook,
	models.FamilyTrade,
	models.FamilyAccount,
	models.FamilyPosition,
	models.FamilyOrder,
	models.FamilyTradeExecution,
	models.FamilyFunding,
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope is the JSON value of an event message.
type envelope struct {
	Family    models.Family          `json:"family"`
	Channel   models.ChannelKind     `json:"channel"`
	Topic     string                 `json:"topic"`
	Key       string                 `json:"key"`
	EventTime time.Time              `json:"event_time"`
	Data      models.NormalizedEvent `json:"data"`
}

// KafkaPublisher copies bus events onto the events topic and alerts onto the
// alerts topic. Bus handlers only queue; a single goroutine writes, which
// keeps per-key order.
type KafkaPublisher struct {
	events   messageWriter
	alerts   messageWriter
	queue    chan kafka.Message
	log      *logger.Entry
	handlers []events.HandlerID
	bus      *events.Bus

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
}

// NewKafkaPublisher builds writers for the configured brokers.
func NewKafkaPublisher(cfg *config.Config) (*KafkaPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		}
	}
	p := newKafkaPublisher(newWriter(cfg.Kafka.EventsTopic), newWriter(cfg.Kafka.AlertsTopic), cfg.Kafka.BatchSize*10)
	p.log.WithFields(logger.Fields{
		"brokers":      cfg.Kafka.Brokers,
		"events_topic": cfg.Kafka.EventsTopic,
		"alerts_topic": cfg.Kafka.AlertsTopic,
	}).Info("kafka publisher initialized")
	return p, nil
}

func newKafkaPublisher(eventsWriter, alertsWriter messageWriter, queueSize int) *KafkaPublisher {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &KafkaPublisher{
		events: eventsWriter,
		alerts: alertsWriter,
		queue:  make(chan kafka.Message, queueSize),
		log:    logger.GetLogger().WithComponent("kafka_publisher"),
	}
}

// Start subscribes to every family on bus and starts the writer loop.
func (p *KafkaPublisher) Start(ctx context.Context, bus *events.Bus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("kafka publisher already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.bus = bus
	for _, family := range publishedFamilies {
		p.handlers = append(p.handlers, bus.Subscribe(events.ForFamily(family), p.onEvent))
	}

	p.wg.Add(1)
	go p.run()
	p.log.Info("kafka publisher started")
	return nil
}

func (p *KafkaPublisher) onEvent(ev events.Event) {
	payload, ok := ev.Payload.(models.NormalizedEvent)
	if !ok {
		return
	}
	value, err := json.Marshal(envelope{
		Family:    payload.Family(),
		Channel:   ev.Channel,
		Topic:     ev.Topic,
		Key:       payload.Key(),
		EventTime: payload.EventTime(),
		Data:      payload,
	})
	if err != nil {
		p.log.WithError(err).Warn("failed to marshal event")
		return
	}

	select {
	case p.queue <- kafka.Message{Key: []byte(payload.Key()), Value: value, Time: ev.Timestamp}:
	default:
		p.dropped.Add(1)
		p.log.WithField("family", string(payload.Family())).Warn("publish queue full, dropping event")
	}
}

func (p *KafkaPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg := <-p.queue:
			if err := p.events.WriteMessages(p.ctx, msg); err != nil {
				p.log.WithError(err).Warn("failed to write event")
				continue
			}
			p.published.Add(1)
		}
	}
}

// Alert writes a reconnect alert to the alerts topic.
func (p *KafkaPublisher) Alert(ctx context.Context, a alert.Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := kafka.Message{Key: []byte(a.Service + "|" + string(a.Channel)), Value: value, Time: a.Timestamp}
	if err := p.alerts.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	return nil
}

// Published reports how many events reached Kafka.
func (p *KafkaPublisher) Published() int64 { return p.published.Load() }

// Stop unsubscribes from the bus and closes both writers.
func (p *KafkaPublisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	for _, id := range p.handlers {
		p.bus.Unsubscribe(id)
	}
	p.handlers = nil
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	if err := p.events.Close(); err != nil {
		p.log.WithError(err).Warn("failed to close events writer")
	}
	if err := p.alerts.Close(); err != nil {
		p.log.WithError(err).Warn("failed to close alerts writer")
	}
	p.log.WithFields(logger.Fields{
		"published": p.published.Load(),
		"dropped":   p.dropped.Load(),
	}).Info("kafka publisher stopped")
}
