package connection

import (
	"context"
	"time"

	"polofeed/models"
)

// startPingLoop sends a ping frame every keep-alive interval while the
// channel is Connected. A missing pong is not acted on; the read loop
// detects closed transports.
func (m *Manager) startPingLoop(ctx context.Context, ch *channel) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(m.opts.KeepAliveInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if ch.status() != StatusConnected {
					continue
				}
				frame := models.OutboundFrame{ID: m.nextID(), Type: models.OutboundPing}
				if err := m.send(pingCtx, ch, frame); err != nil && pingCtx.Err() == nil {
					m.log.WithField("channel", string(ch.kind)).WithError(err).Warn("failed to send keep-alive ping")
				}
			}
		}
	}()
	return cancel
}
