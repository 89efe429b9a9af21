package metrics

import (
	"context"
	"time"

	"polofeed/logger"
)

// DropReason names why the router discarded a frame.
type DropReason string

const (
	DropReasonParse        DropReason = "parse_error"
	DropReasonUnknownTopic DropReason = "unknown_topic"
	DropReasonValidation   DropReason = "validation"
	DropReasonUnknownType  DropReason = "unknown_type"
)

// EmitDropMetric counts one dropped inbound frame.
func EmitDropMetric(log *logger.Log, reason DropReason, channel, family string) {
	fields := logger.Fields{"reason": string(reason)}
	if channel != "" {
		fields["channel"] = channel
	}
	if family != "" {
		fields["family"] = family
	}
	EmitMetric(log, "router", "frames_dropped", 1, "counter", fields)
}

// SinkStats is a point-in-time view of the record sink.
type SinkStats struct {
	Enqueued          int64
	WritesOK          int64
	WritesFailed      int64
	ExecutionsDropped int64
	QueueOverflows    int64
	QueueDepth        int
	QueueCapacity     int
	Workers           int
}

// ReportSink emits the sink gauges and logs a summary. Failed writes or
// queue overflows raise the summary to warning level.
func ReportSink(log *logger.Log, stats SinkStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	component := "sink"

	errorRate := float64(0)
	if total := stats.WritesOK + stats.WritesFailed; total > 0 {
		errorRate = float64(stats.WritesFailed) / float64(total)
	}

	EmitMetric(log, component, "writes_ok", stats.WritesOK, "gauge", nil)
	EmitMetric(log, component, "writes_failed", stats.WritesFailed, "gauge", nil)
	EmitMetric(log, component, "executions_dropped", stats.ExecutionsDropped, "gauge", nil)
	EmitMetric(log, component, "queue_overflows", stats.QueueOverflows, "gauge", nil)
	EmitMetric(log, component, "queue_depth", stats.QueueDepth, "gauge", logger.Fields{"unit": "count"})
	EmitMetric(log, component, "error_rate", errorRate, "gauge", logger.Fields{"unit": "percent"})

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"enqueued":           stats.Enqueued,
		"writes_ok":          stats.WritesOK,
		"writes_failed":      stats.WritesFailed,
		"executions_dropped": stats.ExecutionsDropped,
		"queue_overflows":    stats.QueueOverflows,
		"queue_depth":        stats.QueueDepth,
		"queue_capacity":     stats.QueueCapacity,
		"workers":            stats.Workers,
		"error_rate":         errorRate,
	})
	if stats.WritesFailed > 0 || stats.QueueOverflows > 0 {
		entry.Warn("sink metrics")
		return
	}
	entry.Info("sink metrics")
}

// StartSinkReporting calls ReportSink with stats() every interval until ctx
// is cancelled. An interval <= 0 uses one minute.
func StartSinkReporting(ctx context.Context, interval time.Duration, stats func() SinkStats) {
	if stats == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ReportSink(log, stats())
			}
		}
	}()
}
