// Package stdout implements a Transport that prints envelopes to standard
// output instead of delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/docker/go-units"

	"github.com/shineum/smtp-mail-lite/internal/email"
	"github.com/shineum/smtp-mail-lite/internal/parser"
	"github.com/shineum/smtp-mail-lite/internal/transport"
)

const separator = "========================================\n"

// Transport prints a readable summary of each envelope.
type Transport struct {
	// mu serializes writes so concurrent summaries do not interleave.
	mu     sync.Mutex
	writer io.Writer
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

// New creates a Transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a Transport that writes to w.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "stdout"
}

// Send prints env. Write failures are logged, not returned.
func (t *Transport) Send(_ context.Context, env email.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrClosed
	}

	if _, err := io.WriteString(t.writer, summarize(env)); err != nil {
		slog.Warn("failed to write envelope to stdout", "error", err)
	}
	return nil
}

// Shutdown marks the transport closed.
func (t *Transport) Shutdown(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func summarize(env email.Envelope) string {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Envelope-From: %s\n", env.From)
	fmt.Fprintf(&b, "Envelope-To: %s\n", strings.Join(env.Recipients, ", "))
	fmt.Fprintf(&b, "Size: %s\n", units.HumanSize(float64(len(env.Data))))

	msg, err := parser.Parse(env.Data)
	if err != nil {
		fmt.Fprintf(&b, "Unparseable message: %v\n", err)
		b.WriteString(separator)
		return b.String()
	}

	if len(msg.To) > 0 {
		fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\n", msg.Date)
	fmt.Fprintf(&b, "Message-ID: %s\n", msg.MessageID)
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}
	b.WriteString(strings.ReplaceAll(body, "\r\n", "\n"))
	b.WriteString("\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, units.HumanSize(float64(len(att.Content)))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)
	return b.String()
}
