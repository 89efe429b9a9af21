// Package alert carries operational alerts raised by the feed to whatever
// paging or broker integration is configured.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"polofeed/logger"
)

// CodeReconnect is raised when a channel keeps failing to reconnect.
const CodeReconnect = "WS_RECONNECT"

// Alert is the payload handed to an Alerter.
type Alert struct {
	ID                string    `json:"id"`
	Service           string    `json:"service"`
	Code              string    `json:"code"`
	Reason            string    `json:"reason"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	Channel           string    `json:"channel,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// New fills in the id and timestamp.
func New(service, code, reason string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Service:   service,
		Code:      code,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// Alerter delivers alerts. Delivery is best-effort; callers log a returned
// error and carry on.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the structured log.
type LogAlerter struct {
	log *logger.Entry
}

func NewLogAlerter() *LogAlerter {
	return &LogAlerter{log: logger.GetLogger().WithComponent("alert")}
}

func (l *LogAlerter) Alert(_ context.Context, a Alert) error {
	l.log.WithFields(logger.Fields{
		"alert_id":           a.ID,
		"service":            a.Service,
		"code":               a.Code,
		"reason":             a.Reason,
		"reconnect_attempts": a.ReconnectAttempts,
		"channel":            a.Channel,
	}).Warn("alert raised")
	return nil
}

// Multi fans an alert out to every Alerter and joins their errors.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, alerter := range m {
		if alerter == nil {
			continue
		}
		if err := alerter.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
