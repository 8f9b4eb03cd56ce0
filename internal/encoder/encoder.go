// Package encoder turns a mail into an RFC 5322 / MIME message suitable for the
// SMTP DATA command.
package encoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/alexcesaro/quotedprintable.v3"

	"github.com/shineum/smtp-mail-lite/internal/email"
)

// maxLineLen is the soft header line limit from RFC 5322 section 2.1.1.
const maxLineLen = 78

// base64LineLen is the encoded line length from RFC 2045 section 6.8.
const base64LineLen = 76

var (
	// ErrInvalidHeader is returned when a header value would span lines.
	ErrInvalidHeader = errors.New("invalid header value")
	// ErrInvalidContentType is returned for an attachment content type that
	// cannot be rendered.
	ErrInvalidContentType = errors.New("invalid attachment content type")
)

// boundaryNamespace seeds the name-based UUIDs used as multipart boundaries.
var boundaryNamespace = uuid.MustParse("6f1c2b1e-4d0a-5b3e-9c77-2a1f0e8d9b42")

// Encoder builds raw messages. It holds no state and is safe for concurrent use.
type Encoder struct{}

// New returns an Encoder.
func New() *Encoder {
	return &Encoder{}
}

// Encode renders m using the given Date and Message-ID header values. The
// output depends only on its arguments. Bcc recipients are never rendered.
func (e *Encoder) Encode(m *email.Mail, dateHeader, messageID string) ([]byte, error) {
	var buf bytes.Buffer

	from, err := formatAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	writeHeader(&buf, "From", from)

	if len(m.To) > 0 {
		to, err := formatAddressList("To", m.To)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		writeHeader(&buf, "To", to)
	}
	if len(m.Cc) > 0 {
		cc, err := formatAddressList("Cc", m.Cc)
		if err != nil {
			return nil, fmt.Errorf("cc: %w", err)
		}
		writeHeader(&buf, "Cc", cc)
	}

	subject, err := formatSubject(m.Subject)
	if err != nil {
		return nil, err
	}
	writeHeader(&buf, "Subject", subject)

	for _, h := range []struct{ name, value string }{
		{"Date", dateHeader},
		{"Message-ID", messageID},
	} {
		if err := checkHeaderValue(h.value); err != nil {
			return nil, fmt.Errorf("%s: %w", strings.ToLower(h.name), err)
		}
		writeHeader(&buf, h.name, h.value)
	}
	writeHeader(&buf, "MIME-Version", "1.0")

	if len(m.Attachments) == 0 {
		writeHeader(&buf, "Content-Type", bodyContentType(m.Body))
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, m.Body.Content()); err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		return buf.Bytes(), nil
	}

	if err := writeMultipart(&buf, m, boundaryFor(dateHeader, messageID)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeMultipart writes a multipart/mixed entity: the body part followed by one
// part per attachment.
func writeMultipart(buf *bytes.Buffer, m *email.Mail, boundary string) error {
	writer := multipart.NewWriter(buf)
	if err := writer.SetBoundary(boundary); err != nil {
		return fmt.Errorf("failed to set boundary: %w", err)
	}

	writeHeader(buf, "Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{
		"boundary": writer.Boundary(),
	}))
	buf.WriteString("\r\n")

	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", bodyContentType(m.Body))
	bodyHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if err := writeQuotedPrintable(part, m.Body.Content()); err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}

	for i, att := range m.Attachments {
		attHeader, err := attachmentHeader(att)
		if err != nil {
			return fmt.Errorf("attachment %d: %w", i, err)
		}
		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(encodeBase64WithLineBreaks(att.Data))); err != nil {
			return fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return nil
}

// attachmentHeader builds the part header for an attachment, carrying the
// declared content type and name.
func attachmentHeader(att email.Attachment) (textproto.MIMEHeader, error) {
	mediaType, params, err := mime.ParseMediaType(att.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentType, att.ContentType)
	}
	if params == nil {
		params = map[string]string{}
	}
	params["name"] = att.Name

	contentType := mime.FormatMediaType(mediaType, params)
	if contentType == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentType, att.ContentType)
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": att.Name})
	if disposition == "" {
		return nil, fmt.Errorf("%w: attachment name %q", ErrInvalidHeader, att.Name)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", disposition)
	h.Set("Content-Transfer-Encoding", "base64")
	return h, nil
}

func bodyContentType(b email.Body) string {
	return mime.FormatMediaType(b.MediaType(), map[string]string{"charset": "UTF-8"})
}

// boundaryFor derives the multipart boundary from the two per-send inputs so
// that encoding stays deterministic. The "=_" prefix cannot occur in
// quoted-printable or base64 output.
func boundaryFor(dateHeader, messageID string) string {
	id := uuid.NewSHA1(boundaryNamespace, []byte(dateHeader+"\x00"+messageID))
	return "=_" + strings.ReplaceAll(id.String(), "-", "")
}

func writeQuotedPrintable(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func checkHeaderValue(v string) error {
	if strings.ContainsAny(v, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidHeader, v)
	}
	return nil
}

// formatAddress renders a bare email when there is no display name, and an
// RFC 5322 name-addr otherwise.
func formatAddress(a email.Address) (string, error) {
	if err := checkHeaderValue(a.Email); err != nil {
		return "", err
	}
	if err := checkHeaderValue(a.Name); err != nil {
		return "", err
	}
	if a.Name == "" {
		return a.Email, nil
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String(), nil
}

// formatAddressList joins addresses with ", ", folding onto continuation lines
// when a line would exceed maxLineLen.
func formatAddressList(header string, addrs []email.Address) (string, error) {
	var b strings.Builder
	lineLen := len(header) + len(": ")
	for i, a := range addrs {
		s, err := formatAddress(a)
		if err != nil {
			return "", err
		}
		if i > 0 {
			if lineLen+len(", ")+len(s) > maxLineLen {
				b.WriteString(",\r\n ")
				lineLen = 1
			} else {
				b.WriteString(", ")
				lineLen += 2
			}
		}
		b.WriteString(s)
		lineLen += len(s)
	}
	return b.String(), nil
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += base64LineLen {
		end := i + base64LineLen
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
