package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Dialer opens an authenticated relay session. *gomail.Dialer satisfies it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPConfig describes the relay and the sender credential.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool
}

// SMTPProvider delivers each message over its own relay session.
type SMTPProvider struct {
	dialer Dialer
	host   string
	logger *zap.Logger
	now    func() time.Time
}

func NewSMTPProvider(cfg SMTPConfig, logger *zap.Logger) (*SMTPProvider, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be positive")
	}

	d := gomail.NewDialer(host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}

	return NewSMTPProviderWithDialer(d, host, logger)
}

func NewSMTPProviderWithDialer(dialer Dialer, host string, logger *zap.Logger) (*SMTPProvider, error) {
	if dialer == nil {
		return nil, fmt.Errorf("smtp dialer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPProvider{
		dialer: dialer,
		host:   host,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (p *SMTPProvider) Deliver(ctx context.Context, envelope Envelope) Result {
	if p == nil || p.dialer == nil {
		return Result{Kind: ResultOther, Cause: fmt.Errorf("provider is not initialized")}
	}
	if err := envelope.Validate(); err != nil {
		return Result{Kind: ResultOther, Cause: fmt.Errorf("invalid envelope: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return Result{Kind: ResultTransient, Cause: err}
	}

	session, err := p.dialer.Dial()
	if err != nil {
		return Result{Kind: Classify(PhaseDial, err), Cause: fmt.Errorf("smtp dial %s: %w", p.host, err)}
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", envelope.From)
	msg.SetHeader("To", envelope.To)
	msg.SetHeader("Subject", envelope.Subject)
	msg.SetDateHeader("Date", p.now())
	msg.SetBody("text/html", envelope.HTMLBody)

	sendErr := session.Send(envelope.From, []string{envelope.To}, msg)
	closeErr := session.Close()

	if sendErr != nil {
		return Result{Kind: Classify(PhaseSubmit, sendErr), Cause: fmt.Errorf("smtp submit to %s: %w", envelope.To, sendErr)}
	}
	if closeErr != nil {
		// DATA was already accepted; a failed QUIT does not undo the delivery.
		p.logger.Warn("smtp session close failed after delivery",
			zap.String("to", envelope.To),
			zap.Error(closeErr),
		)
	}

	return Delivered()
}

// Probe opens and closes one authenticated session without sending.
func (p *SMTPProvider) Probe(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Result{Kind: ResultTransient, Cause: err}
	}

	session, err := p.dialer.Dial()
	if err != nil {
		return Result{Kind: Classify(PhaseDial, err), Cause: fmt.Errorf("smtp dial %s: %w", p.host, err)}
	}
	if err := session.Close(); err != nil {
		return Result{Kind: Classify(PhaseSubmit, err), Cause: fmt.Errorf("smtp close %s: %w", p.host, err)}
	}
	return Delivered()
}
