package email

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEnvelope is returned when an envelope cannot be built from the
// given sender and recipients.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is what a transport delivers: the bare sender, the bare recipient
// list and the encoded message.
type Envelope struct {
	From       string
	Recipients []string
	Data       []byte
}

// NewEnvelope builds an Envelope, rejecting a blank sender, an empty recipient
// list or any blank recipient.
func NewEnvelope(from string, recipients []string, data []byte) (Envelope, error) {
	if strings.TrimSpace(from) == "" {
		return Envelope{}, fmt.Errorf("%w: empty sender", ErrInvalidEnvelope)
	}
	if len(recipients) == 0 {
		return Envelope{}, fmt.Errorf("%w: no recipients", ErrInvalidEnvelope)
	}
	for i, r := range recipients {
		if strings.TrimSpace(r) == "" {
			return Envelope{}, fmt.Errorf("%w: empty recipient at index %d", ErrInvalidEnvelope, i)
		}
	}

	rcpts := make([]string, len(recipients))
	copy(rcpts, recipients)

	return Envelope{
		From:       from,
		Recipients: rcpts,
		Data:       data,
	}, nil
}
