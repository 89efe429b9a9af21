package connection

import (
	"context"
	"fmt"
	"time"

	"polofeed/internal/alert"
	"polofeed/internal/events"
	"polofeed/internal/metrics"
	"polofeed/logger"
	"polofeed/models"
)

// run drives one channel until its context is cancelled or reconnects are
// exhausted. Each failed session triggers exactly one scheduleReconnect.
func (m *Manager) run(ctx context.Context, ch *channel, ready chan<- error) {
	defer m.wg.Done()
	defer func() {
		ch.mu.Lock()
		ch.running = false
		ch.mu.Unlock()
	}()

	notify := func(err error) {
		if ready != nil {
			ready <- err
			ready = nil
		}
	}

	for {
		err := m.session(ctx, ch, notify)
		notify(err)
		if ctx.Err() != nil {
			ch.markDown(nil)
			return
		}

		delay, ok := m.scheduleReconnect(ch, err)
		if !ok {
			return
		}
		if m.wait(ctx, delay) {
			ch.markDown(nil)
			return
		}
	}
}

// session dials once, opens the channel and reads until the transport fails.
func (m *Manager) session(ctx context.Context, ch *channel, notify func(error)) error {
	ch.setStatus(StatusConnecting)
	fields := logger.Fields{"channel": string(ch.kind), "url": ch.url}

	conn, err := m.dialer.Dial(ctx, ch.url)
	if err != nil {
		err = fmt.Errorf("dial %s channel: %w", ch.kind, err)
		if ctx.Err() == nil {
			m.emitError(ch.kind, "", err)
			ch.markDown(err)
		}
		return err
	}
	if ctx.Err() != nil {
		_ = conn.Close()
		return ctx.Err()
	}

	ch.setConn(conn)
	// Closing the transport is what unblocks ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		ch.setConn(nil)
		_ = conn.Close()
	}()

	if err := m.open(ctx, ch); err != nil {
		if ctx.Err() == nil {
			m.emitError(ch.kind, "", err)
			ch.markDown(err)
		}
		return err
	}

	notify(nil)
	m.log.WithFields(fields).Info("channel connected")
	m.bus.Emit(events.Event{Name: events.Connected, Channel: ch.kind})

	pingCancel := m.startPingLoop(ctx, ch)
	err = m.readMessages(ctx, ch, conn)
	pingCancel()

	if ctx.Err() != nil {
		err = ctx.Err()
		ch.markDown(nil)
	} else {
		err = fmt.Errorf("%s channel closed: %w", ch.kind, err)
		m.emitError(ch.kind, "", err)
		ch.markDown(err)
	}
	m.log.WithFields(fields).WithError(err).Warn("channel disconnected")
	m.bus.Emit(events.Event{Name: events.Disconnected, Channel: ch.kind, Err: err})
	return err
}

// open authenticates the private channel and replays every active topic
// before the channel is reported Connected.
func (m *Manager) open(ctx context.Context, ch *channel) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if ch.kind == models.ChannelPrivate {
		ch.setStatus(StatusAuthenticating)
		frame, err := m.frame(ch.kind, models.OutboundSubscribe, m.opts.AuthTopic)
		if err != nil {
			return err
		}
		if err := m.send(ctx, ch, frame); err != nil {
			return fmt.Errorf("authenticate private channel: %w", err)
		}
		m.registry.Add(ch.kind, m.opts.AuthTopic)
	}

	topics := m.registry.AllFor(ch.kind)
	replayed := 0
	for _, topic := range topics {
		if ch.kind == models.ChannelPrivate && topic == m.opts.AuthTopic {
			continue
		}
		frame, err := m.frame(ch.kind, models.OutboundSubscribe, topic)
		if err != nil {
			return err
		}
		if err := m.send(ctx, ch, frame); err != nil {
			return fmt.Errorf("replay %s: %w", topic, err)
		}
		replayed++
	}

	ch.markConnected()
	if replayed > 0 {
		m.log.WithFields(logger.Fields{
			"channel": string(ch.kind),
			"topics":  replayed,
		}).Info("replayed subscriptions")
	}
	return nil
}

// scheduleReconnect bumps the attempt counter and returns the delay before the
// next attempt, or false once the limit is reached.
func (m *Manager) scheduleReconnect(ch *channel, cause error) (time.Duration, bool) {
	ch.mu.Lock()
	if ch.state.ReconnectAttempts >= m.opts.MaxReconnectAttempts {
		attempts := ch.state.ReconnectAttempts
		fatal := fmt.Errorf("%s channel: %w after %d attempts: %v", ch.kind, ErrReconnectExhausted, attempts, cause)
		ch.state.Status = StatusDisconnected
		ch.state.LastError = fatal
		ch.mu.Unlock()

		m.log.WithFields(logger.Fields{
			"channel": string(ch.kind),
			"attempt": attempts,
		}).WithError(cause).Error("giving up on reconnect")
		m.bus.Emit(events.Event{Name: events.Error, Channel: ch.kind, Err: fatal})
		return 0, false
	}
	ch.state.ReconnectAttempts++
	attempts := ch.state.ReconnectAttempts
	ch.state.Status = StatusDisconnected
	ch.mu.Unlock()

	delay := reconnectDelay(m.opts.BaseReconnectDelay, attempts)
	fields := logger.Fields{
		"channel":  string(ch.kind),
		"attempt":  attempts,
		"delay_ms": delay.Milliseconds(),
	}
	m.log.WithFields(fields).Warn("scheduling reconnect")
	metrics.EmitMetric(nil, "connection", "reconnect_attempts", attempts, "gauge", logger.Fields{
		"channel": string(ch.kind),
	})

	if attempts > m.opts.AlertAfterAttempts {
		m.raiseAlert(ch.kind, attempts, cause)
	}
	return delay, true
}

func (m *Manager) raiseAlert(kind models.ChannelKind, attempts int, cause error) {
	if m.alerter == nil {
		return
	}
	reason := "reconnect attempts exceeded threshold"
	if cause != nil {
		reason = cause.Error()
	}
	a := alert.New(m.opts.Service, alert.CodeReconnect, reason)
	a.ReconnectAttempts = attempts
	a.Channel = string(kind)

	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	if err := m.alerter.Alert(ctx, a); err != nil {
		m.log.WithField("channel", string(kind)).WithError(err).Warn("failed to deliver reconnect alert")
	}
}

// readMessages hands each frame to the handler before reading the next one.
func (m *Manager) readMessages(ctx context.Context, ch *channel, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.handler.Handle(msg, ch.kind)
	}
}

// waitForReconnect sleeps for delay and reports true when ctx was cancelled
// first.
func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
