// Package validate checks a mail for deliverability before it is encoded.
package validate

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/shineum/smtp-mail-lite/internal/email"
)

// Reason identifies a validation failure.
type Reason int

const (
	ReasonInvalidSender Reason = iota + 1
	ReasonNoRecipients
	ReasonInvalidRecipient
	ReasonInvalidAttachment
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonInvalidSender:
		return "invalid sender"
	case ReasonNoRecipients:
		return "no recipients"
	case ReasonInvalidRecipient:
		return "invalid recipient"
	case ReasonInvalidAttachment:
		return "invalid attachment"
	default:
		return "unknown"
	}
}

// ValidationError describes why a mail was rejected.
type ValidationError struct {
	Reason Reason
	// Field names the offending field, e.g. "from" or "cc[1]".
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "mail validation: " + e.Reason.String()
	}
	return fmt.Sprintf("mail validation: %s: %s %q", e.Reason, e.Field, e.Value)
}

// Is matches any ValidationError with the same Reason, so the sentinels below
// work with errors.Is regardless of Field and Value.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

var (
	ErrInvalidSender     = &ValidationError{Reason: ReasonInvalidSender}
	ErrNoRecipients      = &ValidationError{Reason: ReasonNoRecipients}
	ErrInvalidRecipient  = &ValidationError{Reason: ReasonInvalidRecipient}
	ErrInvalidAttachment = &ValidationError{Reason: ReasonInvalidAttachment}
)

// Validator checks a mail. Implementations must be pure and safe for
// concurrent use.
type Validator interface {
	Validate(ctx context.Context, m *email.Mail) error
}

// Basic is the default Validator.
type Basic struct{}

// Validate checks the sender first, then the recipients, then the attachments.
// It returns a *ValidationError on the first failure.
func (Basic) Validate(_ context.Context, m *email.Mail) error {
	if !m.From.Valid() {
		return &ValidationError{Reason: ReasonInvalidSender, Field: "from", Value: m.From.Email}
	}

	if len(m.To)+len(m.Cc)+len(m.Bcc) == 0 {
		return &ValidationError{Reason: ReasonNoRecipients}
	}

	lists := []struct {
		field string
		addrs []email.Address
	}{
		{"to", m.To},
		{"cc", m.Cc},
		{"bcc", m.Bcc},
	}
	for _, l := range lists {
		for i, a := range l.addrs {
			if !a.Valid() {
				return &ValidationError{
					Reason: ReasonInvalidRecipient,
					Field:  fmt.Sprintf("%s[%d]", l.field, i),
					Value:  a.Email,
				}
			}
		}
	}

	for i, att := range m.Attachments {
		field := fmt.Sprintf("attachments[%d]", i)
		if strings.TrimSpace(att.Name) == "" {
			return &ValidationError{Reason: ReasonInvalidAttachment, Field: field + ".name", Value: att.Name}
		}
		if _, _, err := mime.ParseMediaType(att.ContentType); err != nil {
			return &ValidationError{Reason: ReasonInvalidAttachment, Field: field + ".contentType", Value: att.ContentType}
		}
	}

	return nil
}

// Func adapts a function to the Validator interface.
type Func func(ctx context.Context, m *email.Mail) error

// Validate calls f.
func (f Func) Validate(ctx context.Context, m *email.Mail) error {
	return f(ctx, m)
}
