package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"polofeed/config"
	"polofeed/internal/alert"
	"polofeed/internal/archive"
	"polofeed/internal/connection"
	"polofeed/internal/events"
	"polofeed/internal/metrics"
	"polofeed/internal/publish"
	"polofeed/internal/router"
	"polofeed/internal/sink"
	"polofeed/internal/status"
	"polofeed/internal/subscription"
	"polofeed/logger"
	"polofeed/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv(config.AppEnvironment()).WithFields(logger.Fields{
		"service": cfg.Service.Name,
		"version": cfg.Service.Version,
		"symbols": cfg.Subscriptions.Symbols,
	}).Info("starting polofeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		if err := metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace); err != nil {
			log.WithError(err).Warn("cloudwatch metrics disabled")
		}
	}
	var prom *metrics.Prometheus
	if cfg.Metrics.Prometheus {
		prom = metrics.NewPrometheus()
		prom.Start()
		defer prom.Stop()
	}

	bus := events.NewBus()
	registry := subscription.NewRegistry()

	var (
		store      *sink.PostgresStore
		recordSink *sink.Sink
		routerSink router.Sink
	)
	if cfg.Storage.Postgres.DSN != "" {
		store, err = sink.NewPostgresStore(ctx, cfg.Storage.Postgres.DSN, cfg.Storage.Postgres.MaxConns)
		if err != nil {
			log.WithError(err).Error("failed to connect to postgres")
			os.Exit(1)
		}
		defer store.Close()

		if cfg.Storage.Postgres.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				log.WithError(err).Error("failed to ensure schema")
				os.Exit(1)
			}
		}

		recordSink = sink.New(store, sink.OptionsFromConfig(cfg))
		if err := recordSink.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start record sink")
			os.Exit(1)
		}
		routerSink = recordSink
		metrics.StartSinkReporting(ctx, time.Minute, recordSink.Stats)
	} else {
		log.WithComponent("main").Warn("storage.postgres.dsn not set; events will not be persisted")
	}

	alerters := alert.Multi{alert.NewLogAlerter()}

	var publisher *publish.KafkaPublisher
	if cfg.Kafka.Enabled {
		publisher, err = publish.NewKafkaPublisher(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create kafka publisher")
			os.Exit(1)
		}
		if err := publisher.Start(ctx, bus); err != nil {
			log.WithError(err).Error("failed to start kafka publisher")
			os.Exit(1)
		}
		alerters = append(alerters, publisher)
	}

	var archiver *archive.Writer
	if cfg.Storage.S3.Enabled {
		archiver, err = archive.NewWriter(ctx, cfg)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
		if err := archiver.Start(ctx, bus); err != nil {
			log.WithError(err).Error("failed to start archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archive")
	}

	frameRouter := router.New(routerSink, bus, registry)
	manager := connection.NewManager(
		connection.OptionsFromConfig(cfg),
		connection.NewWebsocketDialer(cfg.Connection.HandshakeTimeout),
		frameRouter,
		bus,
		alerters,
		registry,
	)

	bus.Subscribe(events.Error, func(ev events.Event) {
		if errors.Is(ev.Err, connection.ErrReconnectExhausted) {
			log.WithComponent("main").WithField("channel", string(ev.Channel)).Error("channel gave up reconnecting")
		}
	})

	var wg sync.WaitGroup
	var sinkStats func() metrics.SinkStats
	if recordSink != nil {
		sinkStats = recordSink.Stats
	}
	statusServer, err := status.NewServer(cfg.Status, log, status.Options{
		Service:    cfg.Service.Name,
		Connection: manager,
		Sink:       sinkStats,
		Bus:        bus,
		Prometheus: prom,
	})
	if err != nil {
		log.WithError(err).Error("failed to create status server")
		os.Exit(1)
	}
	if statusServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := statusServer.Run(ctx); err != nil {
				log.WithError(err).Error("status server stopped")
			}
		}()
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Connection.HandshakeTimeout+5*time.Second)
	if err := manager.ConnectPublic(connectCtx); err != nil {
		log.WithError(err).Warn("public channel not connected yet; retrying in background")
	}
	connectCancel()

	subChannels := append([]string(nil), cfg.Subscriptions.MarketChannels...)
	if len(subChannels) == 0 {
		subChannels = append(subChannels, models.DefaultMarketChannels...)
	}
	if cfg.Subscriptions.Funding {
		subChannels = append(subChannels, models.SubChannelFunding)
	}
	for _, symbol := range cfg.Subscriptions.Symbols {
		if err := manager.SubscribeToMarketData(ctx, symbol, subChannels...); err != nil {
			log.WithError(err).WithField("symbol", symbol).Warn("market subscription not sent")
		}
	}

	if cred := config.LoadCredentials(); cred != nil {
		connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Connection.HandshakeTimeout+5*time.Second)
		if err := manager.ConnectPrivate(connectCtx, cred); err != nil {
			log.WithError(err).Warn("private channel not connected yet; retrying in background")
		}
		connectCancel()
		if err := manager.SubscribeToPrivateChannels(ctx, cfg.Subscriptions.PrivateTopics...); err != nil {
			log.WithError(err).Warn("private subscriptions not sent")
		}
	} else {
		log.WithComponent("main").Info("no API credentials in environment; private channel disabled")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	manager.Disconnect()

	if archiver != nil {
		log.Info("stopping archive writer")
		archiver.Stop()
	}
	if publisher != nil {
		log.Info("stopping kafka publisher")
		publisher.Stop()
	}
	if recordSink != nil {
		log.Info("stopping record sink")
		recordSink.Stop()
		metrics.ReportSink(log, recordSink.Stats())
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("polofeed stopped")
}
