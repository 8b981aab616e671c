// Package app assembles the record store, relay, audit sinks and ops server
// for the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/bulkmail-engine/internal/audit"
	"github.com/kursadbilgin/bulkmail-engine/internal/config"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	"github.com/kursadbilgin/bulkmail-engine/internal/handler"
	"github.com/kursadbilgin/bulkmail-engine/internal/observability"
	"github.com/kursadbilgin/bulkmail-engine/internal/provider"
	"github.com/kursadbilgin/bulkmail-engine/internal/queue"
	"github.com/kursadbilgin/bulkmail-engine/internal/render"
	"github.com/kursadbilgin/bulkmail-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const opsShutdownTimeout = 5 * time.Second

// Run performs one resumable pass over the configured range.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.RunSummary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.ValidateSending(); err != nil {
		return domain.RunSummary{}, err
	}

	ctx = observability.WithRunID(ctx, uuid.NewString())
	logger = observability.WithContextLogger(logger, ctx)

	renderer, err := render.NewTemplateRenderer(cfg.TemplatePath)
	if err != nil {
		return domain.RunSummary{}, err
	}

	relay, err := provider.NewSMTPProvider(smtpConfig(cfg), logger)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	store, backend, err := OpenRecordStore(ctx, cfg, logger)
	if err != nil {
		return domain.RunSummary{}, err
	}

	sink, err := OpenSinks(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return domain.RunSummary{}, err
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			logger.Warn("failed to close audit sinks", zap.Error(closeErr))
		}
	}()

	metrics := observability.NewMetrics()

	sender, err := service.NewSender(store, renderer, relay, sink, service.SenderConfig{
		From:          cfg.SenderEmail,
		Subject:       cfg.MailSubject,
		AddressDomain: cfg.AddressDomain,
	}, logger)
	if err != nil {
		_ = store.Close()
		return domain.RunSummary{}, err
	}
	sender.SetMetrics(metrics)

	runner, err := service.NewRunner(store, sender, sink, cfg.ProgressEvery, logger)
	if err != nil {
		_ = store.Close()
		return domain.RunSummary{}, err
	}
	runner.SetMetrics(metrics)

	logger.Info("bulk send starting",
		zap.String("backend", backend),
		zap.Uint64("start", cfg.StartID),
		zap.Uint64("end", cfg.EndID),
		zap.Int("intervalSec", cfg.SendIntervalSec),
	)

	if strings.TrimSpace(cfg.MetricsAddr) == "" {
		return runner.Run(ctx, cfg.Range())
	}

	ln, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		logger.Warn("ops server disabled, listen failed",
			zap.String("addr", cfg.MetricsAddr),
			zap.Error(err),
		)
		return runner.Run(ctx, cfg.Range())
	}

	ops := handler.NewOpsApp(logger, metrics, store, runner)

	var summary domain.RunSummary
	var runErr error

	var g errgroup.Group
	g.Go(func() error {
		logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))
		if err := ops.Listener(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("ops server stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opsShutdownTimeout)
			defer cancel()
			if err := ops.ShutdownWithContext(shutdownCtx); err != nil {
				logger.Warn("ops server shutdown failed", zap.Error(err))
			}
			_ = ln.Close()
		}()

		summary, runErr = runner.Run(ctx, cfg.Range())
		return nil
	})
	_ = g.Wait()

	return summary, runErr
}

// OpenSinks builds the audit fan-out: the log file, the summary webhook and
// the event queue, each only when configured. A broker that cannot be reached
// is logged and left out.
func OpenSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) (audit.Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var sinks audit.Multi

	if path := strings.TrimSpace(cfg.AuditLogPath); path != "" {
		fileSink, err := audit.NewFileSink(path)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}

	if endpoint := strings.TrimSpace(cfg.SummaryWebhookURL); endpoint != "" {
		webhook, err := audit.NewWebhookSink(endpoint)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		sinks = append(sinks, webhook)
	}

	if url := strings.TrimSpace(cfg.RabbitMQURL); url != "" {
		events, err := openEventPublisher(ctx, url, cfg.EventsQueue)
		if err != nil {
			logger.Warn("delivery events disabled", zap.Error(err))
		} else {
			sinks = append(sinks, events)
		}
	}

	if len(sinks) == 0 {
		return audit.Nop{}, nil
	}
	return sinks, nil
}

func openEventPublisher(ctx context.Context, url string, queueName string) (*queue.EventPublisher, error) {
	client, err := queue.NewRabbitMQ(ctx, url)
	if err != nil {
		return nil, err
	}

	events, err := queue.NewEventPublisher(queue.NewRabbitMQPublisher(client), queueName)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return events, nil
}

// CheckSMTP opens one authenticated relay session and closes it.
func CheckSMTP(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.ValidateSending(); err != nil {
		return err
	}

	relay, err := provider.NewSMTPProvider(smtpConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	result := relay.Probe(ctx)
	switch result.Kind {
	case provider.ResultDelivered:
		return nil
	case provider.ResultAuthFailed:
		return fmt.Errorf("%w: %v", domain.ErrAuthentication, result.Cause)
	default:
		return fmt.Errorf("smtp check failed: %w", result)
	}
}

func smtpConfig(cfg *config.Config) provider.SMTPConfig {
	return provider.SMTPConfig{
		Host:               cfg.SMTPHost,
		Port:               cfg.SMTPPort,
		Username:           cfg.SenderEmail,
		Password:           cfg.SenderPassword,
		InsecureSkipVerify: cfg.SMTPInsecureSkipVerify,
	}
}
