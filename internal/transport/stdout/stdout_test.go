package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-mail-lite/internal/email"
	"github.com/shineum/smtp-mail-lite/internal/encoder"
	"github.com/shineum/smtp-mail-lite/internal/transport"
)

func encodedEnvelope(t *testing.T, m *email.Mail) email.Envelope {
	t.Helper()
	data, err := encoder.New().Encode(m, "Thu, 15 Oct 2026 09:00:00 +0000", "<1792054800.0@example.com>")
	require.NoError(t, err)
	env, err := email.NewEnvelope(m.From.Email, m.Recipients(), data)
	require.NoError(t, err)
	return env
}

func TestName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "stdout", New().Name())
}

func TestSend_BasicEmail(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := NewWithWriter(&buf)

	env := encodedEnvelope(t, &email.Mail{
		From:    email.NewAddress("sender@example.com"),
		To:      []email.Address{email.NewAddress("alice@example.com"), email.NewAddress("bob@example.com")},
		Bcc:     []email.Address{email.NewAddress("hidden@example.com")},
		Subject: "Monthly Report",
		Body:    email.PlainText("Please find the report attached."),
	})
	require.NoError(t, tr.Send(context.Background(), env))

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, separator))
	assert.True(t, strings.HasSuffix(output, separator))
	assert.Contains(t, output, "Envelope-From: sender@example.com\n")
	assert.Contains(t, output, "Envelope-To: alice@example.com, bob@example.com, hidden@example.com\n")
	assert.Contains(t, output, "To: alice@example.com, bob@example.com\n")
	assert.Contains(t, output, "Subject: Monthly Report\n")
	assert.Contains(t, output, "Message-ID: <1792054800.0@example.com>\n")
	assert.Contains(t, output, "Please find the report attached.")
	assert.NotContains(t, output, "Cc:")
	assert.NotContains(t, output, "Attachments:")
}

func TestSend_WithCcAndAttachments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := NewWithWriter(&buf)

	env := encodedEnvelope(t, &email.Mail{
		From:    email.NewAddress("sender@example.com"),
		To:      []email.Address{email.NewAddress("alice@example.com")},
		Cc:      []email.Address{email.NewAddress("carol@example.com")},
		Subject: "Files",
		Body:    email.HTML("<p>see attached</p>"),
		Attachments: []email.Attachment{
			{Name: "test.txt", ContentType: "text/plain", Data: []byte("Hello attachment")},
		},
	})
	require.NoError(t, tr.Send(context.Background(), env))

	output := buf.String()
	assert.Contains(t, output, "Cc: carol@example.com\n")
	assert.Contains(t, output, "<p>see attached</p>")
	assert.Contains(t, output, "Attachments: test.txt (16B)\n")
}

func TestSend_UnparseableData(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := NewWithWriter(&buf)

	env, err := email.NewEnvelope("a@example.com", []string{"b@example.com"}, []byte("garbage"))
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), env))
	assert.Contains(t, buf.String(), "Unparseable message:")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSend_WriteErrorIsNotReturned(t *testing.T) {
	t.Parallel()

	tr := NewWithWriter(failingWriter{})
	env, err := email.NewEnvelope("a@example.com", []string{"b@example.com"}, []byte("Subject: x\r\n\r\ny"))
	require.NoError(t, err)
	assert.NoError(t, tr.Send(context.Background(), env))
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := NewWithWriter(&buf)
	require.NoError(t, tr.Shutdown(context.Background()))

	env, err := email.NewEnvelope("a@example.com", []string{"b@example.com"}, []byte("Subject: x\r\n\r\ny"))
	require.NoError(t, err)
	require.ErrorIs(t, tr.Send(context.Background(), env), transport.ErrClosed)
	assert.Empty(t, buf.String())
}
