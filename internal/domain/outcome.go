package domain

// OutcomeKind is the classified terminal result of processing one identifier.
type OutcomeKind string

const (
	OutcomeSent                   OutcomeKind = "SENT"
	OutcomeSkippedInvalidFormat   OutcomeKind = "SKIPPED_INVALID_FORMAT"
	OutcomeSkippedAlreadyRecorded OutcomeKind = "SKIPPED_ALREADY_RECORDED"
	OutcomeFailedRefused          OutcomeKind = "FAILED_REFUSED"
	OutcomeFailedAuth             OutcomeKind = "FAILED_AUTH"
	OutcomeFailedTransient        OutcomeKind = "FAILED_TRANSIENT"
	OutcomeFailedOther            OutcomeKind = "FAILED_OTHER"
)

func (k OutcomeKind) String() string { return string(k) }

func (k OutcomeKind) IsValid() bool {
	switch k {
	case OutcomeSent,
		OutcomeSkippedInvalidFormat,
		OutcomeSkippedAlreadyRecorded,
		OutcomeFailedRefused,
		OutcomeFailedAuth,
		OutcomeFailedTransient,
		OutcomeFailedOther:
		return true
	}
	return false
}

func (k OutcomeKind) IsSkipped() bool {
	return k == OutcomeSkippedInvalidFormat || k == OutcomeSkippedAlreadyRecorded
}

func (k OutcomeKind) IsFailed() bool {
	switch k {
	case OutcomeFailedRefused, OutcomeFailedAuth, OutcomeFailedTransient, OutcomeFailedOther:
		return true
	}
	return false
}

// RecordStatus reports which status, if any, must be written to the record
// store for this outcome. Skips, transient failures and authentication
// failures are never persisted.
func (k OutcomeKind) RecordStatus() (RecordStatus, bool) {
	switch k {
	case OutcomeSent:
		return RecordStatusSuccess, true
	case OutcomeFailedRefused, OutcomeFailedOther:
		return RecordStatusFailed, true
	}
	return "", false
}

// Outcome is what the send orchestrator reports for one identifier.
type Outcome struct {
	Identifier Identifier
	Address    string
	Kind       OutcomeKind
	Message    string
}

func (o Outcome) Succeeded() bool { return o.Kind == OutcomeSent }
