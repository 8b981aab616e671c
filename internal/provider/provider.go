package provider

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the outbound mail delivery port. One call is one complete
// session: connect, secure, authenticate, submit, close.
type Provider interface {
	Deliver(ctx context.Context, envelope Envelope) Result
}

// Envelope is a single rendered message addressed to one recipient.
type Envelope struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.From) == "" {
		return fmt.Errorf("sender address is required")
	}
	if strings.TrimSpace(e.To) == "" {
		return fmt.Errorf("recipient address is required")
	}
	return nil
}

// ResultKind enumerates delivery outcomes as seen by the relay session.
type ResultKind string

const (
	ResultDelivered  ResultKind = "DELIVERED"
	ResultRefused    ResultKind = "REFUSED"
	ResultAuthFailed ResultKind = "AUTH_FAILED"
	ResultTransient  ResultKind = "TRANSIENT"
	ResultOther      ResultKind = "OTHER"
)

func (k ResultKind) String() string { return string(k) }

// Result is the typed outcome of one Deliver call. Cause is nil only for
// ResultDelivered.
type Result struct {
	Kind  ResultKind
	Cause error
}

func Delivered() Result {
	return Result{Kind: ResultDelivered}
}

func (r Result) Error() string {
	if r.Cause == nil {
		return r.Kind.String()
	}
	return fmt.Sprintf("%s: %v", r.Kind, r.Cause)
}
