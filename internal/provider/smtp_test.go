package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type testSMTPServer struct {
	authReply string
	rcptReply string
	dataReply string

	mu       sync.Mutex
	messages []string
	rcpts    []string
}

// start runs a minimal SMTP relay on 127.0.0.1 that serves sessions until the
// test ends. Only the commands gomail issues are implemented.
func (s *testSMTPServer) start(t *testing.T) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.serve(conn)
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (s *testSMTPServer) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)
	fmt.Fprintf(conn, "220 localhost Test SMTP Service Ready\r\n")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
			fmt.Fprintf(conn, "250-localhost Hello\r\n250-AUTH PLAIN\r\n250 OK\r\n")
		case strings.HasPrefix(line, "AUTH"):
			fmt.Fprintf(conn, "%s\r\n", replyOr(s.authReply, "235 2.7.0 Authentication successful"))
		case strings.HasPrefix(line, "MAIL FROM:"):
			fmt.Fprintf(conn, "250 OK\r\n")
		case strings.HasPrefix(line, "RCPT TO:"):
			s.mu.Lock()
			s.rcpts = append(s.rcpts, strings.TrimPrefix(line, "RCPT TO:"))
			s.mu.Unlock()
			fmt.Fprintf(conn, "%s\r\n", replyOr(s.rcptReply, "250 OK"))
		case strings.HasPrefix(line, "DATA"):
			fmt.Fprintf(conn, "354 End data with <CR><LF>.<CR><LF>\r\n")
			var body strings.Builder
			for {
				dline, derr := r.ReadString('\n')
				if derr != nil {
					return
				}
				if strings.TrimSpace(dline) == "." {
					break
				}
				body.WriteString(dline)
			}
			s.mu.Lock()
			s.messages = append(s.messages, body.String())
			s.mu.Unlock()
			fmt.Fprintf(conn, "%s\r\n", replyOr(s.dataReply, "250 OK: queued as 12345"))
		case strings.HasPrefix(line, "QUIT"):
			fmt.Fprintf(conn, "221 Bye\r\n")
			return
		default:
			fmt.Fprintf(conn, "250 OK\r\n")
		}
	}
}

func (s *testSMTPServer) received() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...), append([]string(nil), s.rcpts...)
}

func replyOr(reply, fallback string) string {
	if reply == "" {
		return fallback
	}
	return reply
}

func newTestSMTPProvider(t *testing.T, host string, port int) *SMTPProvider {
	t.Helper()

	p, err := NewSMTPProvider(SMTPConfig{
		Host:     host,
		Port:     port,
		Username: "sender@example.com",
		Password: "secret",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}
	return p
}

func testEnvelope() Envelope {
	return Envelope{
		From:     "sender@example.com",
		To:       "100000@qq.com",
		Subject:  "Welcome",
		HTMLBody: "<p>hello 100000</p>",
	}
}

func TestSMTPProviderDeliverSuccess(t *testing.T) {
	t.Parallel()

	server := &testSMTPServer{}
	host, port := server.start(t)
	p := newTestSMTPProvider(t, host, port)

	result := p.Deliver(context.Background(), testEnvelope())
	if result.Kind != ResultDelivered {
		t.Fatalf("Deliver() kind = %s, want %s (cause=%v)", result.Kind, ResultDelivered, result.Cause)
	}

	messages, rcpts := server.received()
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if len(rcpts) != 1 || !strings.Contains(rcpts[0], "100000@qq.com") {
		t.Fatalf("rcpts = %v, want 100000@qq.com", rcpts)
	}
	if !strings.Contains(messages[0], "Subject: Welcome") {
		t.Fatalf("message missing subject header:\n%s", messages[0])
	}
}

func TestSMTPProviderDeliverClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		server *testSMTPServer
		want   ResultKind
	}{
		{
			name:   "recipient refused",
			server: &testSMTPServer{rcptReply: "550 5.1.1 Mailbox unavailable"},
			want:   ResultRefused,
		},
		{
			name:   "credential rejected",
			server: &testSMTPServer{authReply: "535 5.7.8 Authentication credentials invalid"},
			want:   ResultAuthFailed,
		},
		{
			name:   "data rejected",
			server: &testSMTPServer{dataReply: "554 5.6.0 Message content rejected"},
			want:   ResultOther,
		},
		{
			name:   "service closing",
			server: &testSMTPServer{rcptReply: "421 4.4.2 Service shutting down"},
			want:   ResultTransient,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			host, port := tc.server.start(t)
			p := newTestSMTPProvider(t, host, port)

			result := p.Deliver(context.Background(), testEnvelope())
			if result.Kind != tc.want {
				t.Fatalf("Deliver() kind = %s, want %s (cause=%v)", result.Kind, tc.want, result.Cause)
			}
			if result.Cause == nil {
				t.Fatal("Deliver() cause = nil, want error")
			}
		})
	}
}

func TestSMTPProviderDeliverConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	p := newTestSMTPProvider(t, "127.0.0.1", port)
	result := p.Deliver(context.Background(), testEnvelope())
	if result.Kind != ResultTransient {
		t.Fatalf("Deliver() kind = %s, want %s (cause=%v)", result.Kind, ResultTransient, result.Cause)
	}
}

func TestSMTPProviderDeliverCanceledContext(t *testing.T) {
	t.Parallel()

	dialed := false
	p, err := NewSMTPProviderWithDialer(dialerFunc(func() (gomail.SendCloser, error) {
		dialed = true
		return nil, errors.New("unexpected dial")
	}), "relay.test", nil)
	if err != nil {
		t.Fatalf("NewSMTPProviderWithDialer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Deliver(ctx, testEnvelope())
	if result.Kind != ResultTransient {
		t.Fatalf("Deliver() kind = %s, want %s", result.Kind, ResultTransient)
	}
	if dialed {
		t.Fatal("dialer should not be used after cancellation")
	}
}

func TestSMTPProviderDeliverInvalidEnvelope(t *testing.T) {
	t.Parallel()

	p, err := NewSMTPProviderWithDialer(dialerFunc(func() (gomail.SendCloser, error) {
		t.Fatal("dialer should not be called for an invalid envelope")
		return nil, nil
	}), "relay.test", nil)
	if err != nil {
		t.Fatalf("NewSMTPProviderWithDialer() error = %v", err)
	}

	result := p.Deliver(context.Background(), Envelope{From: "sender@example.com"})
	if result.Kind != ResultOther {
		t.Fatalf("Deliver() kind = %s, want %s", result.Kind, ResultOther)
	}
}

func TestSMTPProviderProbe(t *testing.T) {
	t.Parallel()

	server := &testSMTPServer{}
	host, port := server.start(t)
	p := newTestSMTPProvider(t, host, port)

	if result := p.Probe(context.Background()); result.Kind != ResultDelivered {
		t.Fatalf("Probe() kind = %s, want %s (cause=%v)", result.Kind, ResultDelivered, result.Cause)
	}

	rejecting := &testSMTPServer{authReply: "535 5.7.8 Authentication credentials invalid"}
	host, port = rejecting.start(t)
	p = newTestSMTPProvider(t, host, port)
	if result := p.Probe(context.Background()); result.Kind != ResultAuthFailed {
		t.Fatalf("Probe() kind = %s, want %s", result.Kind, ResultAuthFailed)
	}
}

func TestNewSMTPProviderValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTPProvider(SMTPConfig{Port: 587}, nil); err == nil {
		t.Fatal("expected error for empty host")
	}
	if _, err := NewSMTPProvider(SMTPConfig{Host: "smtp.qq.com"}, nil); err == nil {
		t.Fatal("expected error for missing port")
	}
	if _, err := NewSMTPProviderWithDialer(nil, "smtp.qq.com", nil); err == nil {
		t.Fatal("expected error for nil dialer")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	dnsErr := &net.DNSError{Err: "no such host", Name: "smtp.invalid", IsNotFound: true}
	testCases := []struct {
		name  string
		phase Phase
		err   error
		want  ResultKind
	}{
		{name: "nil is delivered", phase: PhaseSubmit, err: nil, want: ResultDelivered},
		{name: "dns failure", phase: PhaseDial, err: dnsErr, want: ResultTransient},
		{name: "wrapped timeout", phase: PhaseSubmit, err: fmt.Errorf("wrap: %w", context.DeadlineExceeded), want: ResultTransient},
		{name: "disconnect", phase: PhaseSubmit, err: fmt.Errorf("read: %w", io.EOF), want: ResultTransient},
		{name: "auth rejected while dialing", phase: PhaseDial, err: &textproto.Error{Code: 535, Msg: "bad"}, want: ResultAuthFailed},
		{name: "auth required while submitting", phase: PhaseSubmit, err: &textproto.Error{Code: 530, Msg: "auth"}, want: ResultAuthFailed},
		{name: "greeting rejected", phase: PhaseDial, err: &textproto.Error{Code: 554, Msg: "no"}, want: ResultTransient},
		{name: "mailbox unavailable", phase: PhaseSubmit, err: &textproto.Error{Code: 550, Msg: "no"}, want: ResultRefused},
		{name: "mailbox busy", phase: PhaseSubmit, err: &textproto.Error{Code: 450, Msg: "busy"}, want: ResultRefused},
		{name: "sender rejected", phase: PhaseSubmit, err: &textproto.Error{Code: 552, Msg: "quota"}, want: ResultOther},
		{name: "unknown error", phase: PhaseSubmit, err: errors.New("boom"), want: ResultOther},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := Classify(tc.phase, tc.err); got != tc.want {
				t.Fatalf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}
}

type dialerFunc func() (gomail.SendCloser, error)

func (f dialerFunc) Dial() (gomail.SendCloser, error) { return f() }
