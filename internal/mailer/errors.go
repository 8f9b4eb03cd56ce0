package mailer

import (
	"errors"
	"fmt"

	"github.com/shineum/smtp-mail-lite/internal/transport"
)

// Kind classifies a MailError.
type Kind int

const (
	// KindValidation means the mail was rejected before any delivery attempt.
	KindValidation Kind = iota + 1
	// KindCustom means the transport reported a descriptive failure, such as
	// a rejected login.
	KindCustom
	// KindUnknown covers everything else: network, encoding and unrecognized
	// transport failures.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCustom:
		return "custom"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	// ErrClientClosed is the cause of the unknown error returned by Send after
	// Shutdown.
	ErrClientClosed = errors.New("mailer: client is shut down")
	// ErrNilMail is the cause of the unknown error returned for a nil mail.
	ErrNilMail = errors.New("mailer: nil mail")
)

// MailError is the only error type Send returns.
type MailError struct {
	Kind Kind
	// Message is set for KindCustom.
	Message string
	// Err is the validation error for KindValidation and the underlying
	// cause for KindUnknown.
	Err error
}

// Validation wraps a validation failure.
func Validation(err error) *MailError {
	return &MailError{Kind: KindValidation, Err: err}
}

// Custom reports a descriptive transport failure.
func Custom(message string) *MailError {
	return &MailError{Kind: KindCustom, Message: message}
}

// Unknown wraps any other failure, keeping it inspectable through Unwrap.
func Unknown(err error) *MailError {
	return &MailError{Kind: KindUnknown, Err: err}
}

func (e *MailError) Error() string {
	switch e.Kind {
	case KindValidation:
		return e.Err.Error()
	case KindCustom:
		return "mail: " + e.Message
	default:
		if e.Err == nil {
			return "mail: unknown error"
		}
		return "mail: " + e.Err.Error()
	}
}

func (e *MailError) Unwrap() error {
	return e.Err
}

// Is matches a target MailError of the same Kind. A custom target with a
// non-empty Message must match it exactly.
func (e *MailError) Is(target error) bool {
	t, ok := target.(*MailError)
	if !ok || t.Kind != e.Kind {
		return false
	}
	if t.Kind == KindCustom && t.Message != "" {
		return t.Message == e.Message
	}
	return true
}

// MapTransportError converts a transport failure into a MailError.
// *transport.CustomError becomes Custom, *transport.UnknownError with a cause
// is unwrapped into Unknown, and anything else is wrapped as Unknown unchanged.
func MapTransportError(err error) *MailError {
	if err == nil {
		return nil
	}

	var ce *transport.CustomError
	if errors.As(err, &ce) {
		return Custom(ce.Error())
	}

	var ue *transport.UnknownError
	if errors.As(err, &ue) && ue.Err != nil {
		return Unknown(ue.Err)
	}

	return Unknown(err)
}
