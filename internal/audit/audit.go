// Package audit records the human-readable trail of a bulk run: one entry per
// terminal outcome and one summary per run.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// Entry is one terminal outcome as seen by audit sinks.
type Entry struct {
	RunID   string
	At      time.Time
	Outcome domain.Outcome
}

// Sink receives entries as they happen and the summary when the run ends.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, summary domain.RunSummary) error
	Close() error
}

// Multi fans every call out to all sinks and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, entry Entry) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Summary(ctx context.Context, summary domain.RunSummary) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Summary(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error              { return nil }
func (Nop) Summary(context.Context, domain.RunSummary) error { return nil }
func (Nop) Close() error                                     { return nil }
