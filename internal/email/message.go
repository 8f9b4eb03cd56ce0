// Package email defines the mail data model shared by the validator, the encoder
// and the transports.
package email

import "strings"

// Address is a display name and email address pair.
type Address struct {
	Name  string
	Email string
}

// NewAddress creates an Address without a display name.
func NewAddress(email string) Address {
	return Address{Email: email}
}

// NewNamedAddress creates an Address with a display name.
func NewNamedAddress(name, email string) Address {
	return Address{Name: name, Email: email}
}

// Valid reports whether the email is non-blank and contains an '@'.
// This is intentionally weaker than the RFC 5321 grammar.
func (a Address) Valid() bool {
	return strings.TrimSpace(a.Email) != "" && strings.Contains(a.Email, "@")
}

// Domain returns the part of the email starting at the first '@', including it.
// It returns an empty string when the email has no '@'.
func (a Address) Domain() string {
	i := strings.IndexByte(a.Email, '@')
	if i < 0 {
		return ""
	}
	return a.Email[i:]
}

// BodyKind distinguishes the two body variants.
type BodyKind int

const (
	BodyPlainText BodyKind = iota
	BodyHTML
)

// String returns the kind name.
func (k BodyKind) String() string {
	switch k {
	case BodyPlainText:
		return "plain"
	case BodyHTML:
		return "html"
	default:
		return "unknown"
	}
}

// Body is either plain text or HTML, never both. The zero value is an empty
// plain-text body.
type Body struct {
	kind    BodyKind
	content string
}

// PlainText creates a text/plain body.
func PlainText(s string) Body {
	return Body{kind: BodyPlainText, content: s}
}

// HTML creates a text/html body.
func HTML(s string) Body {
	return Body{kind: BodyHTML, content: s}
}

// Kind returns the body variant.
func (b Body) Kind() BodyKind { return b.kind }

// Content returns the body text.
func (b Body) Content() string { return b.content }

// MediaType returns the MIME type of the body variant.
func (b Body) MediaType() string {
	if b.kind == BodyHTML {
		return "text/html"
	}
	return "text/plain"
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Mail is a message to be validated, encoded and delivered. Callers build one
// per send and must not modify it while a send is in flight.
type Mail struct {
	From        Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	Subject     string
	Body        Body
	Attachments []Attachment
}

// Recipients returns the bare emails of to, cc and bcc, in that order.
func (m *Mail) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, list := range [][]Address{m.To, m.Cc, m.Bcc} {
		for _, a := range list {
			out = append(out, a.Email)
		}
	}
	return out
}
