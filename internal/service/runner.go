package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/audit"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	"github.com/kursadbilgin/bulkmail-engine/internal/observability"
	"github.com/kursadbilgin/bulkmail-engine/internal/ratelimit"
	"github.com/kursadbilgin/bulkmail-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultProgressEvery = 100

// OneSender processes a single identifier.
type OneSender interface {
	SendOne(ctx context.Context, id domain.Identifier) (domain.Outcome, error)
}

// Progress is a point-in-time view of a running bulk send.
type Progress struct {
	RunID          string            `json:"runId"`
	Running        bool              `json:"running"`
	EffectiveStart domain.Identifier `json:"effectiveStart"`
	End            domain.Identifier `json:"end"`
	Current        domain.Identifier `json:"current"`
	Planned        uint64            `json:"planned"`
	Stats          domain.RunStats   `json:"stats"`
}

// Runner iterates a range through a OneSender, one identifier at a time.
type Runner struct {
	store         repository.RecordStore
	sender        OneSender
	sink          audit.Sink
	logger        *zap.Logger
	metrics       *observability.Metrics
	progressEvery int
	newPacer      func(interval time.Duration) ratelimit.Pacer
	now           func() time.Time

	mu       sync.RWMutex
	progress Progress
}

func NewRunner(
	store repository.RecordStore,
	sender OneSender,
	sink audit.Sink,
	progressEvery int,
	logger *zap.Logger,
) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if progressEvery <= 0 {
		progressEvery = defaultProgressEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		store:         store,
		sender:        sender,
		sink:          sink,
		logger:        logger,
		progressEvery: progressEvery,
		newPacer: func(interval time.Duration) ratelimit.Pacer {
			return ratelimit.NewFixedDelay(interval)
		},
		now: time.Now,
	}, nil
}

func (r *Runner) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Progress returns a copy of the current run state.
func (r *Runner) Progress() Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress
}

// Run resumes the range after the last recorded identifier and sends to each
// identifier up to rng.End. The summary is always written and the store is
// always closed, also when the run stops early; the returned error says why.
func (r *Runner) Run(ctx context.Context, rng domain.Range) (summary domain.RunSummary, err error) {
	runID, _ := observability.RunIDFromContext(ctx)
	logger := observability.WithContextLogger(r.logger, ctx)

	summary = domain.RunSummary{
		RunID:     runID,
		End:       rng.End,
		StartedAt: r.now(),
	}

	defer func() {
		if closeErr := r.store.Close(); closeErr != nil {
			logger.Warn("failed to close record store", zap.Error(closeErr))
		}
	}()
	defer func() {
		if err != nil {
			summary.Aborted = err.Error()
		}
		summary.FinishedAt = r.now()
		r.finish(ctx, logger, summary)
	}()

	last, hasLast, err := r.store.LastIdentifier(ctx)
	if err != nil {
		return summary, fmt.Errorf("%w: read last identifier: %w", domain.ErrStore, err)
	}

	effective := rng.EffectiveStart(last, hasLast)
	summary.EffectiveStart = effective
	if err := rng.Validate(effective); err != nil {
		return summary, err
	}
	summary.Planned = rng.Size(effective)

	r.setProgress(Progress{
		RunID:          runID,
		Running:        true,
		EffectiveStart: effective,
		End:            rng.End,
		Current:        effective,
		Planned:        summary.Planned,
	})

	logger.Info("bulk run started",
		zap.String("configuredStart", rng.Start.String()),
		zap.String("effectiveStart", effective.String()),
		zap.String("end", rng.End.String()),
		zap.Bool("resumed", effective != rng.Start),
		zap.Uint64("planned", summary.Planned),
		zap.Duration("interval", rng.Interval),
	)

	if summary.Planned == 0 {
		return summary, nil
	}

	pacer := r.newPacer(rng.Interval)
	var processed uint64
	for id := effective; ; id++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, fmt.Errorf("run interrupted before %s: %w", id, ctxErr)
		}

		r.metrics.SetProgress(uint64(id), summary.Planned-processed)
		outcome, sendErr := r.sender.SendOne(ctx, id)
		if outcome.Kind != "" {
			summary.Stats.Add(outcome)
			processed++
		}
		r.updateProgress(id, summary.Stats)

		if sendErr != nil {
			return summary, sendErr
		}

		if processed%uint64(r.progressEvery) == 0 {
			logger.Info("bulk run progress",
				zap.Uint64("processed", processed),
				zap.Uint64("planned", summary.Planned),
				zap.String("current", id.String()),
				zap.Int("succeeded", summary.Stats.Succeeded),
				zap.Int("failed", summary.Stats.Failed),
				zap.Int("skipped", summary.Stats.Skipped),
			)
		}

		if id >= rng.End {
			return summary, nil
		}

		if waitErr := pacer.Wait(ctx); waitErr != nil {
			return summary, fmt.Errorf("run interrupted after %s: %w", id, waitErr)
		}
	}
}

func (r *Runner) finish(ctx context.Context, logger *zap.Logger, summary domain.RunSummary) {
	r.mu.Lock()
	r.progress.Running = false
	r.progress.Stats = summary.Stats
	r.mu.Unlock()

	fields := []zap.Field{
		zap.Int("attempted", summary.Stats.Attempted),
		zap.Int("succeeded", summary.Stats.Succeeded),
		zap.Int("failed", summary.Stats.Failed),
		zap.Int("skipped", summary.Stats.Skipped),
		zap.Uint64("planned", summary.Planned),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	}
	if summary.Aborted != "" {
		logger.Warn("bulk run aborted", append(fields, zap.String("reason", summary.Aborted))...)
	} else {
		logger.Info("bulk run finished", fields...)
	}

	if err := r.sink.Summary(context.WithoutCancel(ctx), summary); err != nil {
		r.metrics.IncAuditFailure()
		logger.Warn("failed to write run summary", zap.Error(err))
	}
}

func (r *Runner) setProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = p
}

func (r *Runner) updateProgress(current domain.Identifier, stats domain.RunStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Current = current
	r.progress.Stats = stats
}

// IsInterrupted reports whether a Run error came from cancellation rather
// than a fatal condition.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
