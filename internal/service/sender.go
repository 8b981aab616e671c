package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/audit"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	"github.com/kursadbilgin/bulkmail-engine/internal/observability"
	"github.com/kursadbilgin/bulkmail-engine/internal/provider"
	"github.com/kursadbilgin/bulkmail-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	tagSuccess = "[成功]"
	tagFailure = "[失败]"
	tagSkipped = "[跳过]"
)

// Renderer produces the HTML body for one recipient.
type Renderer interface {
	Render(id domain.Identifier, address string) (string, error)
}

// SenderConfig carries the message envelope settings shared by every send.
type SenderConfig struct {
	From          string
	Subject       string
	AddressDomain string
}

// Sender runs the validate, check, render, deliver, record sequence for one
// identifier.
type Sender struct {
	store    repository.RecordStore
	renderer Renderer
	provider provider.Provider
	sink     audit.Sink
	logger   *zap.Logger
	metrics  *observability.Metrics
	cfg      SenderConfig
	now      func() time.Time
}

func NewSender(
	store repository.RecordStore,
	renderer Renderer,
	provider provider.Provider,
	sink audit.Sink,
	cfg SenderConfig,
	logger *zap.Logger,
) (*Sender, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if strings.TrimSpace(strings.TrimPrefix(cfg.AddressDomain, "@")) == "" {
		return nil, fmt.Errorf("address domain is required")
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sender{
		store:    store,
		renderer: renderer,
		provider: provider,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

func (s *Sender) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SendOne processes a single identifier. Per-recipient failures are reported
// in the Outcome; the returned error is non-nil only for conditions that must
// stop the run: store read failures, render failures and rejected credentials.
func (s *Sender) SendOne(ctx context.Context, id domain.Identifier) (domain.Outcome, error) {
	address := id.Address(s.cfg.AddressDomain)
	outcome := domain.Outcome{Identifier: id, Address: address}

	if err := domain.ValidateIdentifier(id); err != nil {
		outcome.Kind = domain.OutcomeSkippedInvalidFormat
		outcome.Message = "邮箱格式无效，跳过"
		s.finish(ctx, outcome)
		return outcome, nil
	}

	recorded, err := s.store.HasRecord(ctx, id)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: check record for %s: %w", domain.ErrStore, id, err)
	}
	if recorded {
		outcome.Kind = domain.OutcomeSkippedAlreadyRecorded
		outcome.Message = "已发送过，跳过"
		s.finish(ctx, outcome)
		return outcome, nil
	}

	body, err := s.renderer.Render(id, address)
	if err != nil {
		if !errors.Is(err, domain.ErrRender) {
			err = fmt.Errorf("%w: %w", domain.ErrRender, err)
		}
		return domain.Outcome{}, fmt.Errorf("render message for %s: %w", id, err)
	}

	start := s.now()
	result := s.provider.Deliver(ctx, provider.Envelope{
		From:     s.cfg.From,
		To:       address,
		Subject:  s.cfg.Subject,
		HTMLBody: body,
	})
	s.metrics.ObserveSendDuration(result.Kind.String(), s.now().Sub(start))

	outcome.Kind, outcome.Message = classifyResult(result)

	if status, ok := outcome.Kind.RecordStatus(); ok {
		s.record(ctx, outcome, status)
	}
	s.finish(ctx, outcome)

	if outcome.Kind == domain.OutcomeFailedAuth {
		return outcome, fmt.Errorf("%w: %v", domain.ErrAuthentication, result.Cause)
	}
	return outcome, nil
}

func classifyResult(result provider.Result) (domain.OutcomeKind, string) {
	switch result.Kind {
	case provider.ResultDelivered:
		return domain.OutcomeSent, "发送成功"
	case provider.ResultRefused:
		return domain.OutcomeFailedRefused, "收件人被拒绝: " + causeText(result)
	case provider.ResultAuthFailed:
		return domain.OutcomeFailedAuth, "SMTP认证失败: " + causeText(result)
	case provider.ResultTransient:
		return domain.OutcomeFailedTransient, "网络错误，稍后重试: " + causeText(result)
	default:
		return domain.OutcomeFailedOther, "发送失败: " + causeText(result)
	}
}

func causeText(result provider.Result) string {
	if result.Cause == nil {
		return string(result.Kind)
	}
	return result.Cause.Error()
}

// record writes the outcome to the store. A failed write is logged and
// counted but does not stop the run. The write outlives cancellation of ctx:
// once the relay has answered, the record must land or the address is resent
// on the next run.
func (s *Sender) record(ctx context.Context, outcome domain.Outcome, status domain.RecordStatus) {
	err := s.store.Upsert(context.WithoutCancel(ctx), domain.DeliveryRecord{
		Identifier: outcome.Identifier,
		Address:    outcome.Address,
		Status:     status,
		SentAt:     s.now(),
	})
	if err == nil {
		return
	}

	s.metrics.IncRecordWriteFailure()
	observability.WithContextLogger(s.logger, ctx).Error("failed to write delivery record",
		zap.String("identifier", outcome.Identifier.String()),
		zap.String("status", status.String()),
		zap.Error(err),
	)
}

func (s *Sender) finish(ctx context.Context, outcome domain.Outcome) {
	s.metrics.IncOutcome(outcome.Kind.String())

	logger := observability.WithContextLogger(s.logger, ctx)
	fields := []zap.Field{
		zap.String("tag", outcomeTag(outcome.Kind)),
		zap.String("identifier", outcome.Identifier.String()),
		zap.String("address", outcome.Address),
		zap.String("outcome", outcome.Kind.String()),
		zap.String("message", outcome.Message),
	}
	switch {
	case outcome.Kind == domain.OutcomeSent:
		logger.Info("email sent", fields...)
	case outcome.Kind.IsSkipped():
		logger.Info("email skipped", fields...)
	default:
		logger.Warn("email failed", fields...)
	}

	runID, _ := observability.RunIDFromContext(ctx)
	entry := audit.Entry{RunID: runID, At: s.now(), Outcome: outcome}
	if err := s.sink.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.metrics.IncAuditFailure()
		logger.Warn("failed to write audit entry",
			zap.String("identifier", outcome.Identifier.String()),
			zap.Error(err),
		)
	}
}

func outcomeTag(kind domain.OutcomeKind) string {
	switch {
	case kind == domain.OutcomeSent:
		return tagSuccess
	case kind.IsSkipped():
		return tagSkipped
	default:
		return tagFailure
	}
}
