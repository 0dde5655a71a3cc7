package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ticketing/cmd/consumers/handlers"
	"ticketing/cmd/consumers/jobs"
	"ticketing/internal/api"
	"ticketing/internal/config"
	"ticketing/internal/consumers"
	"ticketing/internal/logger"
	"ticketing/internal/models"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	log.Info("Starting consumers service...")

	// Отдельный client ID, чтобы не конфликтовать с API
	cfg.NATS.ClientID = cfg.NATS.ClientID + "-consumers"
	// Consumers deliver mail themselves
	cfg.QueueNotifications = false

	backends, err := api.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect backends", "error", err)
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Error("Error during cleanup", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	expiration := jobs.NewReservationExpirationJob(backends.Services.Checkouts, backends.DB, cfg.SweepInterval)
	g.Go(func() error {
		return expiration.Run(ctx)
	})

	if backends.NATS != nil {
		consumerService := consumers.NewConsumerService(backends.NATS,
			consumers.NewHandlers(backends.Mail, consumers.DefaultRetryPolicy))
		if backends.Search != nil {
			sync := handlers.NewSearchSyncHandler(backends.Repos.Events, backends.Search)
			consumerService.Handle(models.EventEventApproved, sync.HandleEventModerated)
			consumerService.Handle(models.EventEventRejected, sync.HandleEventModerated)
		}

		if err := consumerService.Start(); err != nil {
			logger.Fatal("Failed to start consumers", "error", err)
		}

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return consumerService.Shutdown(shutdownCtx)
		})
	} else {
		log.Warn("NATS is not connected, only the expiration job runs")
	}

	log.Info("Consumers service started successfully")

	if err := g.Wait(); err != nil {
		log.Error("Consumers stopped with error", "error", err)
	}
	log.Info("Consumers service stopped")
}
