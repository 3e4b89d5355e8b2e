package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/newsletter-backend/internal/app"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("❌ Worker stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(slog.Default())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.QueueBackend != "amqp" {
		return errors.New("the worker consumes from RabbitMQ; set QUEUE_BACKEND=amqp")
	}
	log, _ := app.NewLogger(cfg.LogLevel)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := service.NewWorker(a.Delivery, log).Start(a.Queue); err != nil {
		return err
	}

	log.Info("Worker running, waiting for messages...")
	<-ctx.Done()
	return nil
}
