package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCustomError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "quota exceeded", (&CustomError{Message: "quota exceeded"}).Error())
	assert.Equal(t, "550 Mailbox unavailable", (&CustomError{Code: "550", Message: "Mailbox unavailable"}).Error())
}

func TestUnknownError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset by peer")
	err := fmt.Errorf("send: %w", &UnknownError{Err: cause})
	assert.Equal(t, "send: connection reset by peer", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := &UnknownError{}
	assert.Equal(t, "unknown transport error", bare.Error())
	assert.NoError(t, bare.Unwrap())
}
