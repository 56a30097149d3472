package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"resellerpay/internal/config"
	"resellerpay/internal/handler"
	"resellerpay/internal/infrastructure/cache"
	"resellerpay/internal/infrastructure/database"
	"resellerpay/internal/infrastructure/gateway"
	"resellerpay/internal/infrastructure/mq"
	"resellerpay/internal/job"
	"resellerpay/internal/logging"
	"resellerpay/internal/service"
	"resellerpay/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	idgen.Init(1)

	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		return fmt.Errorf("init mysql: %w", err)
	}

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer redisClient.Close()

	publisher, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		return fmt.Errorf("init kafka: %w", err)
	}
	defer publisher.Close()

	gw := gateway.NewStripe(cfg.Gateway.StripeSecretKey, cfg.Gateway.WebhookSecret)
	svc := service.NewServices(db, redisClient, cfg, gw, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, publisher, cfg, logger)
	go outboxSender.Start(ctx)

	expiryJob := job.NewIntentExpiryJob(svc.Payments, cfg, logger)
	go expiryJob.Start(ctx)

	reconcileJob := job.NewReconcileJob(svc.Payments, cfg, logger)
	go reconcileJob.Start(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.SetupRouter(svc, db, redisClient, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Stop the jobs before the HTTP server so no sweep starts mid-shutdown.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
