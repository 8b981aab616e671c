package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/bulkmail-engine/internal/config"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	"github.com/kursadbilgin/bulkmail-engine/internal/queue"
	"go.uber.org/zap"
)

const watchPrefetch = 10

// WatchEvents follows the delivery event queue and logs every event until ctx
// is canceled.
func WatchEvents(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	url := strings.TrimSpace(cfg.RabbitMQURL)
	if url == "" {
		return fmt.Errorf("%w: RABBITMQ_URL is required", domain.ErrValidation)
	}

	client, err := queue.NewRabbitMQ(ctx, url)
	if err != nil {
		return err
	}
	consumer := queue.NewRabbitMQConsumer(client, watchPrefetch, logger)
	defer consumer.Close() //nolint:errcheck

	logger.Info("watching delivery events", zap.String("queue", cfg.EventsQueue))
	return consumer.Consume(ctx, cfg.EventsQueue, EventLogger(logger))
}

// EventLogger returns a handler that writes each event to logger.
func EventLogger(logger *zap.Logger) queue.EventHandler {
	return func(_ context.Context, event queue.DeliveryEvent) error {
		fields := []zap.Field{
			zap.String("eventId", event.EventID),
			zap.String("runId", event.RunID),
			zap.Time("occurredAt", event.OccurredAt),
		}

		if event.Type == queue.EventTypeSummary && event.Stats != nil {
			logger.Info("run summary",
				append(fields,
					zap.Int("attempted", event.Stats.Attempted),
					zap.Int("succeeded", event.Stats.Succeeded),
					zap.Int("failed", event.Stats.Failed),
					zap.Int("skipped", event.Stats.Skipped),
					zap.String("aborted", event.Stats.Aborted),
				)...,
			)
			return nil
		}

		logger.Info("delivery",
			append(fields,
				zap.String("identifier", event.Identifier),
				zap.String("address", event.Address),
				zap.String("outcome", string(event.Outcome)),
				zap.String("message", event.Message),
			)...,
		)
		return nil
	}
}
