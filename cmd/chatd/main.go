package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vendio/internal/app/admin"
	"vendio/internal/app/channel"
	"vendio/internal/app/media"
	"vendio/internal/app/policies"
	"vendio/internal/app/readstate"
	"vendio/internal/infra/broker/kafka"
	"vendio/internal/infra/config"
	"vendio/internal/infra/db/mongo"
	ginserver "vendio/internal/infra/http/gin"
	"vendio/internal/infra/obs"
	"vendio/internal/infra/storage/memory"
	"vendio/internal/infra/storage/s3"
	"vendio/internal/infra/storage/scylla"
	"vendio/internal/infra/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	store, readyChecks, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("store init failed", "store", cfg.StoreMode, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	broker := channel.NewBroker()
	opts := []channel.Option{}

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			logger.Error("kafka producer init failed", "brokers", cfg.KafkaBrokers, "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		opts = append(opts, channel.WithNotifier(kafka.NewNotifier(producer, cfg.KafkaTopicPrefix)))
	}

	var audit policies.AuditLog
	var auditReader ginserver.AuditReader
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		mongoClient, err = mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Error("mongo init failed", "error", err)
			os.Exit(1)
		}
		defer mongoClient.Close(context.Background())
		auditLog := mongo.NewAuditLog(mongoClient)
		audit = auditLog
		auditReader = auditLog
		readyChecks = append(readyChecks, func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return mongoClient.Ping(pingCtx)
		})
	} else {
		logger.Warn("MONGO_URI not set, moderation audit log disabled")
	}

	var svc *channel.Service
	if producer != nil {
		// the bridge needs the service and the service needs the publisher,
		// so wire the service first and the bridge onto it
		svc = channel.NewService(store, broker, logger, opts...)
		bridge := kafka.NewBridge(producer, cfg.KafkaTopicPrefix, svc, logger)
		svc.SetPublisher(bridge)

		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil, bridge)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := consumer.Run(ctx, []string{bridge.Topic()}); err != nil && ctx.Err() == nil {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
		defer consumer.Close()
	} else {
		svc = channel.NewService(store, broker, logger, opts...)
		logger.Info("KAFKA_BROKERS not set, running single-instance")
	}

	uploader := buildUploader(cfg, logger)
	mediaSvc := media.NewService(uploader, logger)
	reads := readstate.NewTracker(store, logger)

	monitor := admin.NewMonitor(svc, audit, logger)
	monitor.Start()
	defer monitor.Stop()

	liveHandler := ginserver.LiveHandler{
		Channel: svc,
		WS: &ws.Handler{
			Channel:      svc,
			Reads:        reads,
			Logger:       logger,
			TypingWindow: cfg.TypingWindow,
			AckTimeout:   cfg.AckTimeout,
			HistorySize:  cfg.HistorySize,
		},
		Logger: logger,
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: func() error {
			for _, check := range readyChecks {
				if err := check(); err != nil {
					return err
				}
			}
			return nil
		},
	}, ginserver.Handlers{
		Chat: ginserver.ChatHandler{
			Channel: svc,
			Reads:   reads,
			Media:   mediaSvc,
			Logger:  logger,
		},
		Admin: ginserver.AdminHandler{
			Monitor: monitor,
			Audit:   auditReader,
			Logger:  logger,
		},
		Live: liveHandler,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("chatd starting", "addr", cfg.HTTPAddr, "store", cfg.StoreMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chatd stopped")
}

func buildStore(cfg config.Config, logger *slog.Logger) (policies.ConversationStore, []func() error, func(), error) {
	switch cfg.StoreMode {
	case "scylla":
		session, err := scylla.NewSession(cfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		ready := func() error {
			if session.Closed() {
				return errors.New("scylla session closed")
			}
			return nil
		}
		return scylla.NewStore(session, logger), []func() error{ready}, session.Close, nil
	default:
		logger.Warn("using in-memory store, conversations will not survive restarts")
		return memory.NewStore(), nil, func() {}, nil
	}
}

func buildUploader(cfg config.Config, logger *slog.Logger) policies.Uploader {
	if cfg.S3Endpoint == "" {
		logger.Warn("S3_ENDPOINT not set, media uploads disabled")
		return s3.NoopUploader{}
	}
	client, err := s3.NewClient(s3.Options{
		Endpoint:       cfg.S3Endpoint,
		PublicEndpoint: cfg.S3PublicEndpoint,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		Bucket:         cfg.S3Bucket,
		UseSSL:         cfg.S3UseSSL,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("s3 client init failed, media uploads disabled", "error", err)
		return s3.NoopUploader{}
	}
	return client
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
