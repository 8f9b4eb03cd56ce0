// Package ses implements a Transport that hands encoded messages to AWS SES v2
// as raw MIME.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/smtp-mail-lite/internal/email"
	"github.com/shineum/smtp-mail-lite/internal/transport"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 1 * time.Second
)

// Config holds the configuration for creating a Transport.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// ConfigurationSet is passed as ConfigurationSetName when set.
	ConfigurationSet string
	// MaxRetries is the number of retries after the first attempt for
	// server-side or network failures. Negative disables retries.
	MaxRetries int
	// RetryDelay is the first backoff delay; it doubles per attempt.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// SendEmailAPI is the subset of the SES v2 client used by the transport.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Transport sends raw messages through the SES v2 API.
type Transport struct {
	cfg    Config
	client SendEmailAPI

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New loads the AWS configuration and returns a Transport. Static credentials
// are used when both keys are set, the default chain otherwise.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewWithClient creates a Transport around an existing client, used for testing.
func NewWithClient(client SendEmailAPI, cfg Config) *Transport {
	return &Transport{
		cfg:    cfg.withDefaults(),
		client: client,
	}
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "ses"
}

// Send submits env as a raw message. Every envelope recipient is listed in
// the destination, so Bcc recipients receive the message without appearing
// in its headers.
func (t *Transport) Send(ctx context.Context, env email.Envelope) error {
	if !t.acquire() {
		return transport.ErrClosed
	}
	defer t.wg.Done()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From),
		Destination: &types.Destination{
			ToAddresses: env.Recipients,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: env.Data},
		},
	}
	if t.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(t.cfg.ConfigurationSet)
	}

	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", t.cfg.MaxRetries,
			)
			if err := sleepWithContext(ctx, t.backoffDelay(attempt)); err != nil {
				return &transport.UnknownError{Err: fmt.Errorf("context cancelled during retry wait: %w", err)}
			}
		}

		out, err := t.client.SendEmail(ctx, input)
		if err == nil {
			slog.Debug("SES accepted message",
				"message_id", aws.ToString(out.MessageId),
				"recipients", len(env.Recipients),
			)
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)

		if !retryable(err) {
			break
		}
	}

	return classify(lastErr)
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

// retryable reports whether another attempt could succeed. Client faults
// (unverified sender, malformed message) and cancellation are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() != smithy.FaultClient
	}
	return true
}

// classify converts SES errors into the transport taxonomy.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &transport.CustomError{Code: apiErr.ErrorCode(), Message: apiErr.ErrorMessage()}
	}
	return &transport.UnknownError{Err: err}
}

// backoffDelay returns the exponential backoff delay for the given attempt.
func (t *Transport) backoffDelay(attempt int) time.Duration {
	delay := t.cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
