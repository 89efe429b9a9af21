// Package sink persists normalized events through idempotent upserts.
package sink

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"polofeed/config"
	"polofeed/internal/metrics"
	"polofeed/logger"
	"polofeed/models"
)

const (
	defaultWorkers      = 4
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Options sizes the worker pool. QueueSize is per worker.
type Options struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:      cfg.Sink.Workers,
		QueueSize:    cfg.Sink.QueueSize,
		WriteTimeout: cfg.Sink.WriteTimeout,
	}
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
}

// Sink routes each event to a worker chosen by its ordering key, so writes
// sharing a key run in receipt order while different keys run in parallel.
type Sink struct {
	store Store
	opts  Options
	log   *logger.Entry

	mu      sync.RWMutex
	running bool
	shards  []chan models.NormalizedEvent
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	enqueued          atomic.Int64
	writesOK          atomic.Int64
	writesFailed      atomic.Int64
	executionsDropped atomic.Int64
	overflows         atomic.Int64
}

func New(store Store, opts Options) *Sink {
	opts.applyDefaults()
	return &Sink{
		store: store,
		opts:  opts,
		log:   logger.GetLogger().WithComponent("sink"),
	}
}

// Start launches the workers. Writes use contexts derived from ctx.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sink already running")
	}
	if s.store == nil {
		return errors.New("sink: nil store")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.shards = make([]chan models.NormalizedEvent, s.opts.Workers)
	for i := range s.shards {
		s.shards[i] = make(chan models.NormalizedEvent, s.opts.QueueSize)
		s.wg.Add(1)
		go s.worker(i, s.shards[i])
	}

	s.log.WithFields(logger.Fields{
		"workers":       s.opts.Workers,
		"queue_size":    s.opts.QueueSize,
		"write_timeout": s.opts.WriteTimeout.String(),
	}).Info("sink started")
	return nil
}

// Stop closes the queues and waits for queued writes to drain.
func (s *Sink) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, ch := range s.shards {
		close(ch)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	s.log.Info("sink stopped")
}

// Enqueue hands ev to its worker without waiting for the write. A full
// queue drops the event and counts an overflow.
func (s *Sink) Enqueue(ev models.NormalizedEvent) {
	if ev == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		s.log.WithField("family", string(ev.Family())).Warn("sink not running, dropping event")
		return
	}

	select {
	case s.shards[shardFor(ev.Key(), len(s.shards))] <- ev:
		s.enqueued.Add(1)
	default:
		s.overflows.Add(1)
		s.log.WithFields(logger.Fields{
			"family": string(ev.Family()),
			"key":    ev.Key(),
		}).Error("sink queue full, dropping event")
	}
}

// Stats reports counters and current queue depth.
func (s *Sink) Stats() metrics.SinkStats {
	s.mu.RLock()
	depth := 0
	for _, ch := range s.shards {
		depth += len(ch)
	}
	s.mu.RUnlock()

	return metrics.SinkStats{
		Enqueued:          s.enqueued.Load(),
		WritesOK:          s.writesOK.Load(),
		WritesFailed:      s.writesFailed.Load(),
		ExecutionsDropped: s.executionsDropped.Load(),
		QueueOverflows:    s.overflows.Load(),
		QueueDepth:        depth,
		QueueCapacity:     s.opts.Workers * s.opts.QueueSize,
		Workers:           s.opts.Workers,
	}
}

func shardFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (s *Sink) worker(id int, queue <-chan models.NormalizedEvent) {
	defer s.wg.Done()
	for ev := range queue {
		s.write(id, ev)
	}
}

// write applies one event. Storage errors are logged and counted; they
// never stop the worker.
func (s *Sink) write(worker int, ev models.NormalizedEvent) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
	defer cancel()

	entry := s.log.WithFields(logger.Fields{
		"worker": worker,
		"family": string(ev.Family()),
		"key":    ev.Key(),
	})

	start := time.Now()
	written, err := s.apply(ctx, ev)
	logger.LogDuration(entry, "sink_write", time.Since(start), nil)

	switch {
	case err != nil:
		s.writesFailed.Add(1)
		entry.WithError(err).Warn("sink write failed")
	case written:
		s.writesOK.Add(1)
	}
}

// apply reports whether a row was written.
func (s *Sink) apply(ctx context.Context, ev models.NormalizedEvent) (bool, error) {
	switch e := ev.(type) {
	case models.TickerUpdate:
		return true, s.store.Exec(ctx, upsertTickerSQL,
			e.Symbol, e.MarketTime, e.Sequence, e.Price, e.Size,
			e.BestBid, e.BestBidSize, e.BestAsk, e.BestAskSize)
	case models.AccountUpdate:
		return true, s.store.Exec(ctx, upsertAccountSQL,
			e.AccountID, e.Currency, e.AvailableBalance, e.HoldBalance, e.OrderMargin, e.Timestamp)
	case models.PositionUpdate:
		return true, s.store.Exec(ctx, upsertPositionSQL,
			e.Symbol, e.Side, e.CurrentQty, e.AvgEntryPrice, e.MarkPrice,
			e.UnrealisedPnl, e.RealisedPnl, e.Leverage, e.LiquidationPx, e.Timestamp)
	case models.OrderUpdate:
		return true, s.store.Exec(ctx, upsertOrderSQL,
			e.OrderID, e.ClientOID, e.Symbol, e.Side, e.OrderType, orderStatus(e.Status),
			e.Price, e.Size, e.FilledSize, e.Timestamp)
	case models.TradeExecution:
		return s.applyExecution(ctx, e)
	default:
		// Order book diffs, public trades and funding are listener-only.
		return false, nil
	}
}

func (s *Sink) applyExecution(ctx context.Context, e models.TradeExecution) (bool, error) {
	var orderRef int64
	if err := s.store.QueryRow(ctx, lookupOrderSQL, e.OrderID).Scan(&orderRef); err != nil {
		if errors.Is(err, ErrNoRows) {
			s.executionsDropped.Add(1)
			s.log.WithFields(logger.Fields{
				"trade_id": e.TradeID,
				"order_id": e.OrderID,
			}).Info("execution for unknown order dropped")
			return false, nil
		}
		return false, fmt.Errorf("lookup order %s: %w", e.OrderID, err)
	}
	return true, s.store.Exec(ctx, insertExecutionSQL,
		e.TradeID, orderRef, e.OrderID, e.Symbol, e.Side,
		e.Price, e.Size, e.Fee, e.Liquidity, e.Timestamp)
}

func orderStatus(status string) string {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" {
		return models.OrderStatusUnknown
	}
	return status
}
