package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatline/internal/api"
	"chatline/internal/auth"
	"chatline/internal/broker"
	"chatline/internal/config"
	"chatline/internal/friends"
	"chatline/internal/lifecycle"
	"chatline/internal/metrics"
	"chatline/internal/outbox"
	"chatline/internal/presence"
	"chatline/internal/repository"
	"chatline/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server with the outbox relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (broker.Publisher, error) {
	switch {
	case cfg.Broker.StreamURL != "":
		logger.Info("publishing events to rabbitmq stream", zap.String("stream", cfg.Broker.StreamName))
		return broker.NewStreamPublisher(cfg.Broker.StreamURL, cfg.Broker.StreamName)
	case cfg.Broker.AMQPURL != "":
		logger.Info("publishing events to rabbitmq exchange", zap.String("exchange", broker.ExchangeEvents))
		return broker.NewAMQPPublisher(cfg.Broker.AMQPURL)
	default:
		logger.Info("no broker configured, events are only logged")
		return broker.NewLogPublisher(logger), nil
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Database
	db, err := repository.Open(cfg.DB.Driver, cfg.DB.ConnStr)
	if err != nil {
		return err
	}
	defer db.Close()

	// Repositories
	dialect := repository.Dialect(cfg.DB.Driver)
	outboxRepo := repository.NewSQLOutboxRepository(db, dialect)
	store := repository.NewStore(db, dialect, outboxRepo)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if n, err := store.ResetPresence(ctx, time.Now().UTC()); err != nil {
		return err
	} else if n > 0 {
		logger.Info("cleared stale presence", zap.Int64("users", n))
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Broker + outbox relay
	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	worker := outbox.NewWorker(outboxRepo, publisher, m, logger.Named("outbox"), outbox.Options{
		BatchSize: cfg.Outbox.BatchSize,
		Retention: cfg.Outbox.Retention,
	})
	go worker.Start(ctx, cfg.Outbox.Interval)

	// Real-time core
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, store)
	registry := ws.NewRegistry(m)
	dispatcher := ws.NewDispatcher(registry, m, logger.Named("dispatch"))
	tracker := presence.NewTracker(store, dispatcher, logger.Named("presence"))
	engine := lifecycle.NewEngine(store, dispatcher, registry, m, logger.Named("lifecycle"))
	sessions := ws.NewHandler(tokens, registry, tracker, engine, m, logger.Named("ws"), ws.HandlerOptions{
		Client: ws.ClientOptions{
			WriteTimeout: cfg.WS.WriteTimeout,
			PongTimeout:  cfg.WS.PongTimeout,
			SendBuffer:   cfg.WS.SendBuffer,
		},
		RateLimit: cfg.WS.RateLimit,
		RateBurst: cfg.WS.RateBurst,
	})

	// HTTP
	server := api.NewServer(api.Deps{
		Authn:     tokens,
		Accounts:  auth.NewService(store, tokens, logger.Named("auth")),
		Users:     store,
		Engine:    engine,
		Friends:   friends.NewService(store, dispatcher, registry, logger.Named("friends")),
		Sessions:  sessions,
		Metrics:   m,
		UploadDir: cfg.UploadDir,
		Log:       logger.Named("api"),
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	registry.CloseAll()
	return err
}
