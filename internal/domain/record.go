package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecordStatus is the persisted result of the most recent send attempt.
type RecordStatus string

const (
	RecordStatusSuccess RecordStatus = "success"
	RecordStatusFailed  RecordStatus = "failed"
)

func (s RecordStatus) String() string { return string(s) }

func (s RecordStatus) IsValid() bool {
	switch s {
	case RecordStatusSuccess, RecordStatusFailed:
		return true
	}
	return false
}

func ParseRecordStatus(s string) (RecordStatus, error) {
	st := RecordStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid record status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryRecord is the single stored row for an identifier. Repeat attempts
// replace it rather than adding another.
type DeliveryRecord struct {
	Identifier Identifier
	Address    string
	Status     RecordStatus
	SentAt     time.Time
}

func (r *DeliveryRecord) Validate() error {
	if r.Identifier == 0 {
		return fmt.Errorf("%w: identifier is required", ErrValidation)
	}
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrValidation)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid record status %q", ErrValidation, r.Status)
	}
	if r.SentAt.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	return nil
}
