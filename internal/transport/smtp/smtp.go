// Package smtp implements a Transport that submits envelopes to an SMTP relay
// using github.com/emersion/go-smtp.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/smtp-mail-lite/internal/email"
	"github.com/shineum/smtp-mail-lite/internal/transport"
)

var (
	// ErrStartTLSUnsupported is returned when Security is StartTLS and the
	// relay does not advertise the extension.
	ErrStartTLSUnsupported = errors.New("smtp: relay does not support STARTTLS")
	// ErrAuthUnsupported is returned when a sign-in method is configured but
	// the relay does not advertise AUTH.
	ErrAuthUnsupported = errors.New("smtp: relay does not support AUTH")
	// ErrMessageTooLarge is returned when the payload exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("smtp: message exceeds maximum size")
)

// invalidator is implemented by token sources that cache tokens.
type invalidator interface {
	Invalidate()
}

// Transport delivers envelopes over SMTP. Every Send opens its own
// connection, so concurrent sends never share protocol state.
type Transport struct {
	cfg    Config
	dialer *net.Dialer

	mu     sync.Mutex
	closed bool
	// wg tracks in-flight sends for Shutdown.
	wg sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New validates cfg and returns a Transport. No connection is opened until
// the first Send.
func New(cfg Config) (*Transport, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid smtp config: %w", err)
	}
	return &Transport{
		cfg:    cfg,
		dialer: &net.Dialer{},
	}, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "smtp"
}

// Send runs one SMTP transaction for env. Relay replies are reported as
// *transport.CustomError, everything else as *transport.UnknownError.
func (t *Transport) Send(ctx context.Context, env email.Envelope) error {
	if !t.acquire() {
		return transport.ErrClosed
	}
	defer t.wg.Done()

	if t.cfg.MaxMessageSize > 0 && int64(len(env.Data)) > t.cfg.MaxMessageSize {
		return &transport.UnknownError{Err: fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(env.Data), t.cfg.MaxMessageSize)}
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := t.deliver(ctx, env)
	if err != nil {
		err = classify(ctx, err)
		t.invalidateToken(err)
		slog.Warn("smtp delivery failed",
			"host", t.cfg.Hostname,
			"port", t.cfg.Port,
			"recipients", len(env.Recipients),
			"error", err,
		)
		return err
	}

	slog.Debug("smtp delivery succeeded",
		"host", t.cfg.Hostname,
		"port", t.cfg.Port,
		"recipients", len(env.Recipients),
		"bytes", len(env.Data),
		"duration", time.Since(start),
	)
	return nil
}

// Shutdown refuses new sends and waits for in-flight ones until ctx is done.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("smtp transport shut down", "host", t.cfg.Hostname)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for in-flight sends: %w", ctx.Err())
	}
}

func (t *Transport) acquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *Transport) deliver(ctx context.Context, env email.Envelope) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock any pending read or write when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	c, err := gosmtp.NewClient(conn, t.cfg.Hostname)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read greeting: %w", err)
	}
	defer c.Close()

	if err := c.Hello(t.cfg.HelloName); err != nil {
		return fmt.Errorf("failed to set hello name: %w", err)
	}

	if err := t.startTLS(c); err != nil {
		return err
	}

	if err := t.authenticate(ctx, c); err != nil {
		return err
	}

	if err := c.Mail(env.From, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range env.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(env.Data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	// The relay has accepted the message at this point.
	if err := c.Quit(); err != nil {
		slog.Debug("smtp QUIT failed", "host", t.cfg.Hostname, "error", err)
	}
	return nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(t.cfg.Hostname, strconv.Itoa(t.cfg.Port))

	if t.cfg.Security == ImplicitTLS {
		d := &tls.Dialer{NetDialer: t.dialer, Config: t.cfg.tlsConfig()}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s with TLS: %w", addr, err)
		}
		return conn, nil
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return conn, nil
}

func (t *Transport) startTLS(c *gosmtp.Client) error {
	switch t.cfg.Security {
	case StartTLS, StartTLSIfAvailable:
	default:
		return nil
	}

	ok, _ := c.Extension("STARTTLS")
	if !ok {
		if t.cfg.Security == StartTLS {
			return ErrStartTLSUnsupported
		}
		slog.Debug("relay does not offer STARTTLS, continuing in plaintext", "host", t.cfg.Hostname)
		return nil
	}

	if err := c.StartTLS(t.cfg.tlsConfig()); err != nil {
		return fmt.Errorf("STARTTLS failed: %w", err)
	}
	return nil
}

func (t *Transport) authenticate(ctx context.Context, c *gosmtp.Client) error {
	if t.cfg.SignIn.IsAnonymous() {
		return nil
	}

	if ok, _ := c.Extension("AUTH"); !ok {
		return ErrAuthUnsupported
	}

	client, err := t.saslClient(ctx)
	if err != nil {
		return err
	}
	if err := c.Auth(client); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return nil
}

func (t *Transport) saslClient(ctx context.Context) (sasl.Client, error) {
	m := t.cfg.SignIn
	switch m.kind {
	case signInCredentials:
		return sasl.NewPlainClient("", m.username, m.password), nil
	case signInOAuth2:
		token, err := m.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get oauth token: %w", err)
		}
		return newXOAuth2Client(m.username, token), nil
	default:
		return nil, fmt.Errorf("unsupported sign-in method %s", m)
	}
}

// invalidateToken drops a cached bearer token after the relay rejected it.
func (t *Transport) invalidateToken(err error) {
	inv, ok := t.cfg.SignIn.tokens.(invalidator)
	if !ok {
		return
	}
	var ce *transport.CustomError
	if errors.As(err, &ce) && ce.Code == "535" {
		inv.Invalidate()
	}
}

// classify converts go-smtp and network errors into the transport taxonomy.
func classify(ctx context.Context, err error) error {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &transport.CustomError{Code: strconv.Itoa(smtpErr.Code), Message: smtpErr.Message}
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &transport.CustomError{Code: strconv.Itoa(protoErr.Code), Message: protoErr.Msg}
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return &transport.UnknownError{Err: err}
}
