// Package archive buffers market ticks and public trades per symbol and
// uploads them to S3 as parquet files.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"polofeed/config"
	"polofeed/internal/events"
	"polofeed/logger"
	"polofeed/models"
)

const (
	keySeparator         = "|"
	defaultFlushInterval = time.Minute
	defaultMaxBuffered   = 10000
)

type uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

type tickRecord struct {
	Symbol       string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence     int64   `parquet:"name=sequence, type=INT64"`
	Price        float64 `parquet:"name=price, type=DOUBLE"`
	Size         float64 `parquet:"name=size, type=DOUBLE"`
	BestBid      float64 `parquet:"name=best_bid, type=DOUBLE"`
	BestBidSize  float64 `parquet:"name=best_bid_size, type=DOUBLE"`
	BestAsk      float64 `parquet:"name=best_ask, type=DOUBLE"`
	BestAskSize  float64 `parquet:"name=best_ask_size, type=DOUBLE"`
	MarketTime   int64   `parquet:"name=market_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ReceivedTime int64   `parquet:"name=received_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type tradeRecord struct {
	Symbol       string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeID      string  `parquet:"name=trade_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence     int64   `parquet:"name=sequence, type=INT64"`
	Side         string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price        float64 `parquet:"name=price, type=DOUBLE"`
	Size         float64 `parquet:"name=size, type=DOUBLE"`
	MakerOrderID string  `parquet:"name=maker_order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TakerOrderID string  `parquet:"name=taker_order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeTime    int64   `parquet:"name=trade_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ReceivedTime int64   `parquet:"name=received_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type buffered struct {
	event    models.NormalizedEvent
	received time.Time
}

type batch struct {
	Family    models.Family
	Symbol    string
	Entries   []buffered
	Timestamp time.Time
}

// Writer subscribes to ticker and trade events and periodically writes one
// snappy-compressed parquet file per family and symbol.
type Writer struct {
	s3Client    uploader
	bucket      string
	prefix      string
	compression parquet.CompressionCodec
	interval    time.Duration
	maxBuffered int
	log         *logger.Entry
	now         func() time.Time

	mu        sync.Mutex
	running   bool
	buffer    map[string][]buffered
	lastFlush map[string]time.Time
	flushCh   chan string
	handlers  []events.HandlerID
	bus       *events.Bus
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWriter builds an S3 client from the storage configuration.
func NewWriter(ctx context.Context, cfg *config.Config) (*Writer, error) {
	if !cfg.Storage.S3.Enabled {
		return nil, fmt.Errorf("s3 storage is disabled")
	}
	bucket, err := normalizeBucketName(cfg.Storage.S3.Bucket)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	w, err := newWriter(client, bucket, cfg.Archive)
	if err != nil {
		return nil, err
	}
	w.log.WithFields(logger.Fields{
		"bucket":     bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("archive writer initialized")
	return w, nil
}

func newWriter(client uploader, bucket string, cfg config.ArchiveConfig) (*Writer, error) {
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		s3Client:    client,
		bucket:      bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		compression: codec,
		interval:    cfg.FlushInterval,
		maxBuffered: cfg.MaxBuffered,
		log:         logger.GetLogger().WithComponent("archive"),
		now:         time.Now,
		buffer:      make(map[string][]buffered),
		lastFlush:   make(map[string]time.Time),
	}
	if w.interval <= 0 {
		w.interval = defaultFlushInterval
	}
	if w.maxBuffered <= 0 {
		w.maxBuffered = defaultMaxBuffered
	}
	return w, nil
}

func normalizeBucketName(raw string) (string, error) {
	bucket := strings.TrimSpace(raw)
	if bucket == "" {
		return "", fmt.Errorf("s3 bucket not configured")
	}
	return bucket, nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "zstd":
		return parquet.CompressionCodec_ZSTD, nil
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported archive compression %q", name)
	}
}

// Start subscribes to bus and launches the flush worker.
func (w *Writer) Start(ctx context.Context, bus *events.Bus) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushCh = make(chan string, 64)
	w.bus = bus
	w.handlers = []events.HandlerID{
		events.On(bus, func(t models.TickerUpdate) { w.add(t) }),
		events.On(bus, func(t models.TradeTick) { w.add(t) }),
	}
	w.mu.Unlock()

	w.log.WithFields(logger.Fields{
		"flush_interval": w.interval.String(),
		"max_buffered":   w.maxBuffered,
	}).Info("starting archive writer")

	w.wg.Add(1)
	go w.flushWorker()
	return nil
}

// Stop unsubscribes, stops the flush worker and uploads what is buffered.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	for _, id := range w.handlers {
		w.bus.Unsubscribe(id)
	}
	w.handlers = nil
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.flushAll("stop")
	w.log.Info("archive writer stopped")
}

// add runs on the router goroutine and only buffers.
func (w *Writer) add(ev models.NormalizedEvent) {
	symbol := strings.ToUpper(strings.TrimSpace(ev.Key()))
	if symbol == "" {
		return
	}
	key := string(ev.Family()) + keySeparator + symbol

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.buffer[key] = append(w.buffer[key], buffered{event: ev, received: w.now()})
	if _, ok := w.lastFlush[key]; !ok {
		w.lastFlush[key] = w.now()
	}
	full := len(w.buffer[key]) >= w.maxBuffered
	flushCh := w.flushCh
	w.mu.Unlock()

	if full {
		select {
		case flushCh <- key:
		default:
		}
	}
}

func (w *Writer) flushWorker() {
	defer w.wg.Done()
	ticker := time.NewTicker(tickerInterval(w.interval))
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case key := <-w.flushCh:
			w.flushKey(key)
		case <-ticker.C:
			w.flushTimedOut()
		}
	}
}

func tickerInterval(flush time.Duration) time.Duration {
	interval := flush / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (w *Writer) flushTimedOut() {
	now := w.now()
	w.mu.Lock()
	keys := make([]string, 0, len(w.buffer))
	for key, entries := range w.buffer {
		if len(entries) > 0 && now.Sub(w.lastFlush[key]) >= w.interval {
			keys = append(keys, key)
		}
	}
	w.mu.Unlock()

	for _, key := range keys {
		w.flushKey(key)
	}
}

func (w *Writer) flushAll(reason string) {
	w.mu.Lock()
	keys := make([]string, 0, len(w.buffer))
	for key, entries := range w.buffer {
		if len(entries) > 0 {
			keys = append(keys, key)
		}
	}
	w.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	w.log.WithFields(logger.Fields{
		"flushed_buffers": len(keys),
		"reason":          reason,
	}).Info("flushing archive buffers")
	for _, key := range keys {
		w.flushKey(key)
	}
}

func (w *Writer) flushKey(key string) {
	w.mu.Lock()
	entries := w.buffer[key]
	if len(entries) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.buffer, key)
	delete(w.lastFlush, key)
	w.mu.Unlock()

	parts := strings.SplitN(key, keySeparator, 2)
	b := batch{Family: models.Family(parts[0]), Entries: entries}
	if len(parts) > 1 {
		b.Symbol = parts[1]
	}
	for _, entry := range entries {
		if ts := entry.event.EventTime(); ts.After(b.Timestamp) {
			b.Timestamp = ts
		}
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = w.now().UTC()
	}
	w.writeBatch(b)
}

func (w *Writer) writeBatch(b batch) {
	data, err := w.createParquet(b)
	if err != nil {
		w.log.WithError(err).WithField("family", string(b.Family)).Error("failed to create parquet for archive batch")
		return
	}

	key := w.objectKey(b)
	start := time.Now()
	if err := w.upload(key, data); err != nil {
		w.log.WithError(err).WithField("s3_key", key).Error("failed to upload archive batch")
		return
	}
	logger.LogDuration(w.log, "archive_upload", time.Since(start), logger.Fields{"s3_key": key})

	w.log.WithFields(logger.Fields{
		"s3_key":  key,
		"records": len(b.Entries),
		"bytes":   len(data),
	}).Info("archive batch uploaded")
}

func (w *Writer) createParquet(b batch) ([]byte, error) {
	var schema interface{}
	switch b.Family {
	case models.FamilyTicker:
		schema = new(tickRecord)
	case models.FamilyTrade:
		schema = new(tradeRecord)
	default:
		return nil, fmt.Errorf("family %s is not archived", b.Family)
	}

	mf := newMemFile()
	pw, err := writer.NewParquetWriter(mf, schema, 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = w.compression

	for _, entry := range b.Entries {
		var rec interface{}
		switch e := entry.event.(type) {
		case models.TickerUpdate:
			rec = tickRecord{
				Symbol:       e.Symbol,
				Sequence:     e.Sequence,
				Price:        e.Price.InexactFloat64(),
				Size:         e.Size.InexactFloat64(),
				BestBid:      e.BestBid.InexactFloat64(),
				BestBidSize:  e.BestBidSize.InexactFloat64(),
				BestAsk:      e.BestAsk.InexactFloat64(),
				BestAskSize:  e.BestAskSize.InexactFloat64(),
				MarketTime:   e.MarketTime.UTC().UnixMilli(),
				ReceivedTime: entry.received.UTC().UnixMilli(),
			}
		case models.TradeTick:
			rec = tradeRecord{
				Symbol:       e.Symbol,
				TradeID:      e.TradeID,
				Sequence:     e.Sequence,
				Side:         e.Side,
				Price:        e.Price.InexactFloat64(),
				Size:         e.Size.InexactFloat64(),
				MakerOrderID: e.MakerOrderID,
				TakerOrderID: e.TakerOrderID,
				TradeTime:    e.Timestamp.UTC().UnixMilli(),
				ReceivedTime: entry.received.UTC().UnixMilli(),
			}
		default:
			continue
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}

// objectKey lays files out as
// <prefix>/date=YYYY-MM-DD/symbol=<S>/<family>_<S>_<ts>_<uuid>.parquet.
func (w *Writer) objectKey(b batch) string {
	ts := b.Timestamp.UTC()
	name := fmt.Sprintf("%s_%s_%s_%s.parquet", b.Family, b.Symbol, ts.Format("20060102T150405Z"), uuid.NewString())
	return path.Join(w.prefix, "date="+ts.Format("2006-01-02"), "symbol="+b.Symbol, name)
}

func (w *Writer) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/vnd.apache.parquet"),
	}
	ctx := context.Background()
	if w.ctx != nil {
		ctx = context.WithoutCancel(w.ctx)
	}
	_, err := w.s3Client.PutObject(ctx, input)
	return err
}
