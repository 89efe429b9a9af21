// Package status serves health, connection status and metrics over HTTP.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"polofeed/config"
	"polofeed/internal/connection"
	"polofeed/internal/events"
	"polofeed/internal/metrics"
	"polofeed/logger"
	"polofeed/models"
)

// StatusProvider reports per-channel connection state.
type StatusProvider interface {
	Status() map[models.ChannelKind]connection.ChannelStatus
}

// Options wires the optional data sources. Nil fields are skipped.
type Options struct {
	Service    string
	Connection StatusProvider
	Sink       func() metrics.SinkStats
	Bus        *events.Bus
	Prometheus *metrics.Prometheus
}

// Server hosts the gin status API.
type Server struct {
	cfg           config.StatusConfig
	opts          Options
	log           *logger.Log
	metricStore   *metricStore
	logStore      *logStore
	eventStats    *eventStats
	metricHandler metrics.MetricHandlerID
	eventHandler  events.HandlerID
	httpServer    *http.Server
	started       time.Time
}

// NewServer returns nil when the status endpoint is disabled.
func NewServer(cfg config.StatusConfig, log *logger.Log, opts Options) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if opts.Connection == nil {
		return nil, errors.New("status: connection status provider required")
	}
	cfg.Address = normalizeAddress(cfg.Address)

	s := &Server{
		cfg:         cfg,
		opts:        opts,
		log:         log,
		metricStore: newMetricStore(200),
		logStore:    newLogStore(200),
		eventStats:  newEventStats(),
		started:     time.Now(),
	}
	s.metricHandler = metrics.RegisterMetricHandler(s.metricStore.handle)
	log.AddHook(s.logStore)
	if opts.Bus != nil {
		s.eventHandler = opts.Bus.SubscribeAll(s.eventStats.handle)
	}
	return s, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.WithComponent("status").WithField("address", s.cfg.Address).Info("status server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.opts.Bus != nil {
		s.opts.Bus.Unsubscribe(s.eventHandler)
	}
	s.logStore.close()
}

// Address reports the listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)

	router.GET("/api/metrics", func(c *gin.Context) {
		snapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(snapshot))
		for _, m := range snapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
	})

	if s.opts.Prometheus != nil {
		router.GET("/metrics", gin.WrapH(s.opts.Prometheus.Handler()))
	}
	return router, nil
}

// handleHealth is healthy while the public channel is Connected.
func (s *Server) handleHealth(c *gin.Context) {
	channels := s.opts.Connection.Status()
	public := channels[models.ChannelPublic]
	if public.Status != connection.StatusConnected {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"public": public.Status,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	counts, lastError := s.eventStats.snapshot()
	body := gin.H{
		"service":  s.opts.Service,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"channels": s.opts.Connection.Status(),
		"events":   counts,
	}
	if lastError != nil {
		body["last_error"] = lastError
	}
	if s.opts.Sink != nil {
		body["sink"] = s.opts.Sink()
	}
	c.JSON(http.StatusOK, body)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
