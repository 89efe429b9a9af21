// Package connection owns the public and private duplex channels to the
// venue: dialing, authentication, keep-alive, reconnect with linear backoff
// and replay of active subscriptions.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"polofeed/config"
	"polofeed/internal/alert"
	"polofeed/internal/events"
	"polofeed/internal/signer"
	"polofeed/internal/subscription"
	"polofeed/logger"
	"polofeed/models"
)

var (
	ErrNotConnected       = errors.New("connection: channel is not connected")
	ErrMissingCredential  = errors.New("connection: private channel credential is missing")
	ErrReconnectExhausted = errors.New("connection: reconnect attempts exhausted")
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = 5 * time.Second
	defaultKeepAlive            = 30 * time.Second
	defaultAlertAfterAttempts   = 3
	defaultAuthTopic            = models.TopicWallet
	alertTimeout                = 5 * time.Second
)

// Options tunes a Manager. Zero values fall back to the defaults above.
type Options struct {
	Service              string
	PublicURL            string
	PrivateURL           string
	AuthTopic            string
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	KeepAliveInterval    time.Duration
	AlertAfterAttempts   int
	SendRatePerSecond    float64
	SendBurst            int
}

// OptionsFromConfig maps the service configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Service:              cfg.Service.Name,
		PublicURL:            cfg.Venue.PublicURL,
		PrivateURL:           cfg.Venue.PrivateURL,
		AuthTopic:            cfg.Venue.AuthTopic,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		BaseReconnectDelay:   cfg.Connection.BaseReconnectDelay,
		KeepAliveInterval:    cfg.Connection.KeepAliveInterval,
		AlertAfterAttempts:   cfg.Connection.AlertAfterAttempts,
		SendRatePerSecond:    cfg.Connection.SendRatePerSecond,
		SendBurst:            cfg.Connection.SendBurst,
	}
}

func (o *Options) applyDefaults() {
	if o.AuthTopic == "" {
		o.AuthTopic = defaultAuthTopic
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if o.BaseReconnectDelay <= 0 {
		o.BaseReconnectDelay = defaultReconnectDelay
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = defaultKeepAlive
	}
	if o.AlertAfterAttempts <= 0 {
		o.AlertAfterAttempts = defaultAlertAfterAttempts
	}
}

// FrameHandler receives every inbound frame of a channel, in arrival order.
type FrameHandler interface {
	Handle(raw []byte, channel models.ChannelKind)
}

// HandlerFunc adapts a function to FrameHandler.
type HandlerFunc func(raw []byte, channel models.ChannelKind)

func (f HandlerFunc) Handle(raw []byte, channel models.ChannelKind) { f(raw, channel) }

// Manager is the only component that sends on a channel or writes the
// subscription registry.
type Manager struct {
	opts     Options
	dialer   Dialer
	handler  FrameHandler
	bus      *events.Bus
	alerter  alert.Alerter
	registry *subscription.Registry
	log      *logger.Entry

	public  *channel
	private *channel

	// subMu serializes subscribe, unsubscribe and replay so a caller can
	// never race ahead of a reconnect replay.
	subMu sync.Mutex

	credMu     sync.RWMutex
	credential *models.Credential

	nextFrameID atomic.Int64
	wg          sync.WaitGroup

	wait func(ctx context.Context, delay time.Duration) bool
	now  func() time.Time
}

func NewManager(opts Options, dialer Dialer, handler FrameHandler, bus *events.Bus, alerter alert.Alerter, registry *subscription.Registry) *Manager {
	opts.applyDefaults()
	if registry == nil {
		registry = subscription.NewRegistry()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if handler == nil {
		handler = HandlerFunc(func([]byte, models.ChannelKind) {})
	}

	m := &Manager{
		opts:     opts,
		dialer:   dialer,
		handler:  handler,
		bus:      bus,
		alerter:  alerter,
		registry: registry,
		log:      logger.GetLogger().WithComponent("connection"),
		public:   newChannel(models.ChannelPublic, opts.PublicURL, newLimiter(opts)),
		private:  newChannel(models.ChannelPrivate, opts.PrivateURL, newLimiter(opts)),
		wait:     waitForReconnect,
		now:      time.Now,
	}
	m.nextFrameID.Store(time.Now().UnixMilli())
	return m
}

func newLimiter(opts Options) *rate.Limiter {
	if opts.SendRatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := opts.SendBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.SendRatePerSecond), burst)
}

// Registry exposes the subscription registry for read-only consumers.
func (m *Manager) Registry() *subscription.Registry {
	return m.registry
}

func (m *Manager) channel(kind models.ChannelKind) *channel {
	if kind == models.ChannelPrivate {
		return m.private
	}
	return m.public
}

// ConnectPublic opens the public channel and blocks until the first attempt
// either reaches Connected or fails. On failure the error is returned and
// reconnect continues in the background. It is a no-op while the channel is
// connected or already retrying.
func (m *Manager) ConnectPublic(ctx context.Context) error {
	return m.connect(ctx, m.public)
}

// ConnectPrivate stores cred in memory and opens the private channel. The
// first frame on every open is an authenticated subscribe to the auth topic.
func (m *Manager) ConnectPrivate(ctx context.Context, cred *models.Credential) error {
	if !cred.Complete() {
		m.emitError(models.ChannelPrivate, "", ErrMissingCredential)
		return ErrMissingCredential
	}
	stored := *cred
	m.credMu.Lock()
	m.credential = &stored
	m.credMu.Unlock()

	return m.connect(ctx, m.private)
}

func (m *Manager) connect(ctx context.Context, ch *channel) error {
	ch.mu.Lock()
	if ch.running {
		status := ch.state.Status
		ch.mu.Unlock()
		m.log.WithFields(logger.Fields{
			"channel": string(ch.kind),
			"status":  string(status),
		}).Debug("connect ignored, channel lifecycle already running")
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	ch.running = true
	ch.cancel = cancel
	ch.state = ChannelState{Status: StatusConnecting}
	ch.mu.Unlock()

	ready := make(chan error, 1)
	m.wg.Add(1)
	go m.run(runCtx, ch, ready)

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops keep-alive, closes both channels, cancels any pending
// reconnect, clears the registry and the credential and resets attempts.
func (m *Manager) Disconnect() {
	for _, ch := range []*channel{m.public, m.private} {
		ch.mu.Lock()
		cancel := ch.cancel
		if ch.running {
			ch.state.Status = StatusClosing
		}
		ch.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	}
	m.wg.Wait()

	m.subMu.Lock()
	m.registry.Clear(models.ChannelPublic)
	m.registry.Clear(models.ChannelPrivate)
	m.subMu.Unlock()

	m.credMu.Lock()
	m.credential = nil
	m.credMu.Unlock()

	m.public.reset()
	m.private.reset()
	m.log.Info("disconnected from venue")
}

// Status returns a snapshot of both channels.
func (m *Manager) Status() map[models.ChannelKind]ChannelStatus {
	out := make(map[models.ChannelKind]ChannelStatus, 2)
	for _, ch := range []*channel{m.public, m.private} {
		state := ch.snapshot()
		status := ChannelStatus{
			Channel:             ch.kind,
			Status:              state.Status,
			ReconnectAttempts:   state.ReconnectAttempts,
			ActiveSubscriptions: m.registry.Count(ch.kind),
		}
		if state.LastError != nil {
			status.LastError = state.LastError.Error()
		}
		out[ch.kind] = status
	}
	return out
}

// SubscribeToMarketData subscribes "{sub}:{symbol}" for each sub-channel,
// defaulting to ticker, orderbook-diff and execution. Active topics are
// skipped. When the public channel is not Connected nothing is sent and
// ErrNotConnected is returned.
func (m *Manager) SubscribeToMarketData(ctx context.Context, symbol string, subChannels ...string) error {
	if len(subChannels) == 0 {
		subChannels = models.DefaultMarketChannels
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.public.status() != StatusConnected {
		m.log.WithFields(logger.Fields{
			"channel": string(models.ChannelPublic),
			"symbol":  symbol,
		}).Warn("public channel not connected, market subscription dropped")
		return ErrNotConnected
	}

	var errs []error
	for _, sub := range subChannels {
		topic := models.MarketTopic(sub, symbol)
		if err := m.subscribeLocked(ctx, m.public, topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SubscribeToPrivateChannels subscribes each private topic with a freshly
// signed frame, defaulting to wallet, position, orders and trades.
func (m *Manager) SubscribeToPrivateChannels(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		topics = models.DefaultPrivateTopics
	}
	if m.currentCredential() == nil {
		m.emitError(models.ChannelPrivate, "", ErrMissingCredential)
		return ErrMissingCredential
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.private.status() != StatusConnected {
		m.log.WithField("channel", string(models.ChannelPrivate)).Warn("private channel not connected, subscription dropped")
		return ErrNotConnected
	}

	var errs []error
	for _, topic := range topics {
		if err := m.subscribeLocked(ctx, m.private, topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) subscribeLocked(ctx context.Context, ch *channel, topic string) error {
	fields := logger.Fields{"channel": string(ch.kind), "topic": topic}
	if m.registry.IsActive(ch.kind, topic) {
		m.log.WithFields(fields).Debug("topic already subscribed")
		return nil
	}

	frame, err := m.frame(ch.kind, models.OutboundSubscribe, topic)
	if err != nil {
		m.emitError(ch.kind, topic, err)
		return err
	}
	if err := m.send(ctx, ch, frame); err != nil {
		err = fmt.Errorf("subscribe %s: %w", topic, err)
		m.emitError(ch.kind, topic, err)
		return err
	}
	m.registry.Add(ch.kind, topic)
	m.log.WithFields(fields).Info("subscribed")
	return nil
}

// Unsubscribe routes topic to its channel by name. The topic leaves the
// registry whether or not the frame could be sent.
func (m *Manager) Unsubscribe(ctx context.Context, topic string) error {
	kind := models.ChannelPublic
	if models.IsPrivateTopic(topic) {
		kind = models.ChannelPrivate
	}
	ch := m.channel(kind)

	m.subMu.Lock()
	defer m.subMu.Unlock()

	if !m.registry.Remove(kind, topic) {
		return nil
	}

	fields := logger.Fields{"channel": string(kind), "topic": topic}
	if ch.status() != StatusConnected {
		m.log.WithFields(fields).Info("unsubscribed locally, channel not connected")
		return nil
	}

	frame, err := m.frame(kind, models.OutboundUnsubscribe, topic)
	if err == nil {
		err = m.send(ctx, ch, frame)
	}
	if err != nil {
		err = fmt.Errorf("unsubscribe %s: %w", topic, err)
		m.emitError(kind, topic, err)
		return err
	}
	m.log.WithFields(fields).Info("unsubscribed")
	return nil
}

// frame builds an outbound request. Private frames are signed with a fresh
// timestamp on every call.
func (m *Manager) frame(kind models.ChannelKind, frameType, topic string) (models.OutboundFrame, error) {
	frame := models.OutboundFrame{
		ID:       m.nextID(),
		Type:     frameType,
		Topic:    topic,
		Response: true,
	}
	if kind != models.ChannelPrivate {
		return frame, nil
	}

	cred := m.currentCredential()
	if cred == nil {
		return frame, ErrMissingCredential
	}
	ts := signer.Timestamp(m.now())
	frame.PrivateChannel = true
	frame.APIKey = cred.APIKey
	frame.Timestamp = ts
	frame.Sign = signer.MustSign(cred.APISecret, ts)
	frame.Passphrase = cred.Passphrase
	return frame, nil
}

func (m *Manager) nextID() int64 {
	return m.nextFrameID.Add(1)
}

func (m *Manager) currentCredential() *models.Credential {
	m.credMu.RLock()
	defer m.credMu.RUnlock()
	if !m.credential.Complete() {
		return nil
	}
	c := *m.credential
	return &c
}

// send is the single write path: rate limited, then serialized per channel.
func (m *Manager) send(ctx context.Context, ch *channel, frame models.OutboundFrame) error {
	conn := ch.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	if err := ch.limiter.Wait(ctx); err != nil {
		return err
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func (m *Manager) emitError(kind models.ChannelKind, topic string, err error) {
	m.log.WithFields(logger.Fields{
		"channel": string(kind),
		"topic":   topic,
	}).WithError(err).Warn("connection error")
	m.bus.Emit(events.Event{Name: events.Error, Channel: kind, Topic: topic, Err: err})
}
