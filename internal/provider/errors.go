package provider

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"syscall"
)

// Phase is the part of the SMTP session an error was observed in.
type Phase int

const (
	// PhaseDial covers connect, greeting, STARTTLS and AUTH.
	PhaseDial Phase = iota
	// PhaseSubmit covers MAIL FROM, RCPT TO and DATA.
	PhaseSubmit
)

// Classify maps a session error to a ResultKind.
func Classify(phase Phase, err error) ResultKind {
	if err == nil {
		return ResultDelivered
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return classifyReply(phase, protoErr.Code)
	}

	if IsTransient(err) {
		return ResultTransient
	}

	return ResultOther
}

func classifyReply(phase Phase, code int) ResultKind {
	switch code {
	case 530, 534, 535, 538:
		return ResultAuthFailed
	case 421:
		return ResultTransient
	}

	if phase == PhaseDial {
		// Greeting, EHLO or STARTTLS rejected: the relay refused the connection.
		return ResultTransient
	}

	switch code {
	case 450, 550, 551, 553:
		return ResultRefused
	}
	return ResultOther
}

// IsTransient reports whether err is independent of the recipient: timeouts,
// DNS resolution, refused or reset connections, a dropped session, or a
// canceled caller. Such failures are retried by a later run.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
