// Package mailer is the mail client: it validates a mail, encodes it, hands
// the envelope to a transport and maps every failure to a MailError.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shineum/smtp-mail-lite/internal/email"
	"github.com/shineum/smtp-mail-lite/internal/encoder"
	"github.com/shineum/smtp-mail-lite/internal/metrics"
	"github.com/shineum/smtp-mail-lite/internal/transport"
	smtptransport "github.com/shineum/smtp-mail-lite/internal/transport/smtp"
	"github.com/shineum/smtp-mail-lite/internal/validate"
)

// Stage names used in logs.
const (
	stageValidating = "validating"
	stageEncoding   = "encoding"
	stageEnvelope   = "envelope"
	stageDelivering = "delivering"
)

// Config holds the client's collaborators. Zero values select defaults.
type Config struct {
	// SMTP configures the transport built by New. NewWithTransport ignores it.
	SMTP smtptransport.Config
	// Validator defaults to validate.Basic.
	Validator validate.Validator
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Now supplies the Date and Message-ID timestamp. Defaults to time.Now.
	Now func() time.Time
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Client sends mail through a single transport it owns. It is safe for
// concurrent use; Shutdown must be called once all sends have returned.
type Client struct {
	transport transport.Transport
	validator validate.Validator
	encoder   *encoder.Encoder
	logger    *slog.Logger
	now       func() time.Time
	metrics   *metrics.Metrics

	closed atomic.Bool

	shutdownMu sync.Mutex
	shutDown   bool
}

// New builds the SMTP transport from cfg.SMTP and returns a client owning it.
func New(cfg Config) (*Client, error) {
	t, err := smtptransport.New(cfg.SMTP)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp transport: %w", err)
	}
	return NewWithTransport(t, cfg), nil
}

// NewWithTransport returns a client that owns t.
func NewWithTransport(t transport.Transport, cfg Config) *Client {
	c := &Client{
		transport: t,
		validator: cfg.Validator,
		encoder:   encoder.New(),
		logger:    cfg.Logger,
		now:       cfg.Now,
		metrics:   cfg.Metrics,
	}
	if c.validator == nil {
		c.validator = validate.Basic{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Validate runs the validator without sending. It returns the validator's
// error unchanged.
func (c *Client) Validate(ctx context.Context, m *email.Mail) error {
	if m == nil {
		return ErrNilMail
	}
	return c.validator.Validate(ctx, m)
}

// Send validates, encodes and delivers m. Every failure is a *MailError.
// A validation failure returns before the transport is touched.
func (c *Client) Send(ctx context.Context, m *email.Mail) error {
	start := time.Now()
	mailErr := c.send(ctx, m)

	c.metrics.RecordSend(ctx, c.transport.Name(), sendResult(mailErr), time.Since(start))

	if mailErr != nil {
		return mailErr
	}
	return nil
}

// sendResult maps an outcome to its metrics result label.
func sendResult(err *MailError) string {
	if err == nil {
		return metrics.ResultSuccess
	}
	switch err.Kind {
	case KindValidation:
		return metrics.ResultValidation
	case KindCustom:
		return metrics.ResultCustom
	default:
		return metrics.ResultUnknown
	}
}

func (c *Client) send(ctx context.Context, m *email.Mail) *MailError {
	if c.closed.Load() {
		c.logger.Error("send after shutdown", "transport", c.transport.Name())
		return Unknown(ErrClientClosed)
	}
	if m == nil {
		return Unknown(ErrNilMail)
	}

	if err := c.validator.Validate(ctx, m); err != nil {
		c.logFailure(stageValidating, m, err)
		return Validation(err)
	}

	now := c.now()
	data, err := c.encoder.Encode(m, encoder.FormatDate(now), encoder.MessageID(now, m.From))
	if err != nil {
		c.logFailure(stageEncoding, m, err)
		return Unknown(fmt.Errorf("failed to encode mail: %w", err))
	}

	env, err := email.NewEnvelope(m.From.Email, m.Recipients(), data)
	if err != nil {
		c.logFailure(stageEnvelope, m, err)
		return Unknown(err)
	}

	if err := c.transport.Send(ctx, env); err != nil {
		c.logFailure(stageDelivering, m, err)
		return MapTransportError(err)
	}

	c.logger.Debug("mail sent",
		"transport", c.transport.Name(),
		"from", env.From,
		"recipients", len(env.Recipients),
		"bytes", len(env.Data),
	)
	return nil
}

// Shutdown releases the transport. New sends are refused from the first
// call on. A failed shutdown, such as one whose ctx expired while sends were
// in flight, may be retried; once it succeeds later calls are no-ops.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()

	c.closed.Store(true)
	if c.shutDown {
		return nil
	}
	if err := c.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down %s transport: %w", c.transport.Name(), err)
	}
	c.shutDown = true
	return nil
}

func (c *Client) logFailure(stage string, m *email.Mail, err error) {
	level := slog.LevelWarn
	var ve *validate.ValidationError
	if errors.As(err, &ve) {
		level = slog.LevelInfo
	}
	c.logger.Log(context.Background(), level, "mail send failed",
		"stage", stage,
		"transport", c.transport.Name(),
		"from", m.From.Email,
		"recipients", len(m.Recipients()),
		"error", err,
	)
}
