// Package transport defines the interface for mail delivery backends and the
// structured errors they report.
package transport

import (
	"context"
	"errors"

	"github.com/shineum/smtp-mail-lite/internal/email"
)

// ErrClosed is returned by Send after Shutdown has been called.
var ErrClosed = errors.New("transport: closed")

// Transport is the interface that delivery backends must implement.
// Each transport hands an already encoded envelope to the target service
// (an SMTP relay, AWS SES, stdout, ...).
//
// Implementations must be safe for concurrent Send calls and must convert
// backend-specific failures into *CustomError or *UnknownError.
type Transport interface {
	// Send delivers an envelope. A nil error means the backend accepted it.
	Send(ctx context.Context, env email.Envelope) error

	// Shutdown releases the transport's resources. Sends started after
	// Shutdown fail with ErrClosed.
	Shutdown(ctx context.Context) error

	// Name returns the human-readable name of this transport.
	Name() string
}

// CustomError is a descriptive failure reported by the remote side, such as a
// rejected login or recipient.
type CustomError struct {
	// Code is the backend's status or error code, e.g. "535" or
	// "MessageRejected". It may be empty.
	Code    string
	Message string
}

func (e *CustomError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + " " + e.Message
}

// UnknownError wraps any other failure: network errors, timeouts, TLS
// problems or unexpected responses.
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	if e.Err == nil {
		return "unknown transport error"
	}
	return e.Err.Error()
}

func (e *UnknownError) Unwrap() error {
	return e.Err
}
