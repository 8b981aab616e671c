package domain

import (
	"fmt"
	"time"
)

const (
	MinRangeDigits = 6
	MaxRangeDigits = 13
)

// Range is the configured identifier range and the pause between sends.
type Range struct {
	Start    Identifier
	End      Identifier
	Interval time.Duration
}

// EffectiveStart resumes after the last recorded identifier, never going
// below the configured start.
func (r Range) EffectiveStart(last Identifier, hasLast bool) Identifier {
	if hasLast && last+1 > r.Start {
		return last + 1
	}
	return r.Start
}

// Validate checks that both ends of the iteration fall inside the numbering
// scheme.
func (r Range) Validate(effectiveStart Identifier) error {
	if d := effectiveStart.Digits(); d < MinRangeDigits || d > MaxRangeDigits {
		return fmt.Errorf("%w: start %s has %d digits, want %d-%d", ErrInvalidRange, effectiveStart, d, MinRangeDigits, MaxRangeDigits)
	}
	if d := r.End.Digits(); d < MinRangeDigits || d > MaxRangeDigits {
		return fmt.Errorf("%w: end %s has %d digits, want %d-%d", ErrInvalidRange, r.End, d, MinRangeDigits, MaxRangeDigits)
	}
	if r.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrInvalidRange)
	}
	return nil
}

// Size is the number of identifiers from effectiveStart to End inclusive.
func (r Range) Size(effectiveStart Identifier) uint64 {
	if effectiveStart > r.End {
		return 0
	}
	return uint64(r.End-effectiveStart) + 1
}

// RunStats holds the per-run counters. Attempted always equals the sum of
// the other three.
type RunStats struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

func (s *RunStats) Add(o Outcome) {
	s.Attempted++
	switch {
	case o.Kind == OutcomeSent:
		s.Succeeded++
	case o.Kind.IsSkipped():
		s.Skipped++
	default:
		s.Failed++
	}
}

// RunSummary is reported at the end of every run, including aborted ones.
type RunSummary struct {
	RunID          string
	EffectiveStart Identifier
	End            Identifier
	Planned        uint64
	Stats          RunStats
	StartedAt      time.Time
	FinishedAt     time.Time
	Aborted        string
}
