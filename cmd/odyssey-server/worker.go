package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartfuturesg/modobio-web-sub003/internal/domain/telehealth"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/cache"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/db"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/events"
	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/notification"
)

const (
	notificationQueue   = "odyssey.notifications"
	deliveryClaimPrefix = "notify:delivery:"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume booking events and send notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefetch, _ := cmd.Flags().GetInt("prefetch")
			return runWorker(prefetch)
		},
	}
	cmd.Flags().Int("prefetch", 8, "Unacknowledged deliveries held at once")
	return cmd
}

func runWorker(prefetch int) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer, err := events.NewConsumer(ctx, workerConsumerConfig(cfg.RabbitMQURL, cfg.EventsExchange, prefetch), logger)
	if err != nil {
		return fmt.Errorf("connect consumer: %w", err)
	}
	defer consumer.Close()

	sender := notification.NewLogSender(logger)
	dispatcher := notification.NewDispatcher(sender, sender, notification.NewTemplateEngine(), notification.UserIDContacts{}, logger)
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		dispatcher.WithClaims(cache.NewIdempotencyStore(rdb, deliveryClaimPrefix, 7*24*time.Hour))
	} else {
		logger.Warn().Msg("REDIS_URL not set; redelivered events may repeat notifications")
	}

	logger.Info().Str("queue", notificationQueue).Msg("notification worker started")
	return consumer.Run(ctx, dispatcher.Handle)
}

func workerConsumerConfig(url, exchange string, prefetch int) events.ConsumerConfig {
	return events.ConsumerConfig{
		URL:      url,
		Exchange: exchange,
		Queue:    notificationQueue,
		Bindings: []string{"telehealth.booking.#"},
		Prefetch: prefetch,
	}
}

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Telehealth maintenance tasks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one maintenance sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			var locker *cache.Locker
			if cfg.RedisURL != "" {
				rdb, err := cache.NewClient(ctx, cfg.RedisURL)
				if err != nil {
					return err
				}
				defer rdb.Close()
				locker = cache.NewLocker(rdb, "odyssey:lock:")
			}

			pub, _, err := newPublisher(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pub.Close()

			sweeper := telehealth.NewSweeper(newService(cfg, pool, pub, logger), locker, cfg.MaintenanceInterval, logger)
			res, ran, err := sweeper.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("maintenance sweep: %w", err)
			}
			if !ran {
				fmt.Println("Another replica holds the maintenance lock; nothing done.")
				return nil
			}
			fmt.Printf("Expired queue requests: %d\n", res.ExpiredQueue)
			fmt.Printf("Canceled pending bookings: %d\n", res.CanceledPending)
			fmt.Printf("Reminders sent: %d\n", res.Reminded)
			return nil
		},
	})

	return cmd
}
