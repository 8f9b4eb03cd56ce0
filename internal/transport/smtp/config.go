package smtp

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/shineum/smtp-mail-lite/internal/oauth"
)

// DefaultPort is the message submission port.
const DefaultPort = 587

// DefaultTimeout bounds a whole delivery when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Security selects how the connection to the relay is protected.
type Security int

const (
	// StartTLS upgrades a plaintext connection and fails if the relay does
	// not offer STARTTLS.
	StartTLS Security = iota
	// StartTLSIfAvailable upgrades when offered and continues in plaintext
	// otherwise.
	StartTLSIfAvailable
	// ImplicitTLS speaks TLS from the first byte (port 465).
	ImplicitTLS
	// Plaintext never negotiates TLS.
	Plaintext
)

func (s Security) String() string {
	switch s {
	case StartTLS:
		return "starttls"
	case StartTLSIfAvailable:
		return "starttls-if-available"
	case ImplicitTLS:
		return "tls"
	case Plaintext:
		return "plaintext"
	default:
		return fmt.Sprintf("Security(%d)", int(s))
	}
}

// ParseSecurity parses the names returned by Security.String.
func ParseSecurity(s string) (Security, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "starttls":
		return StartTLS, nil
	case "starttls-if-available":
		return StartTLSIfAvailable, nil
	case "tls", "ssl":
		return ImplicitTLS, nil
	case "plaintext", "none":
		return Plaintext, nil
	default:
		return 0, fmt.Errorf("unknown security mode %q", s)
	}
}

type signInKind int

const (
	signInAnonymous signInKind = iota
	signInCredentials
	signInOAuth2
)

// SignInMethod describes how the transport authenticates. The zero value is
// anonymous.
type SignInMethod struct {
	kind     signInKind
	username string
	password string
	tokens   oauth.TokenSource
}

// Anonymous sends without AUTH.
func Anonymous() SignInMethod {
	return SignInMethod{kind: signInAnonymous}
}

// Credentials authenticates with SASL PLAIN.
func Credentials(username, password string) SignInMethod {
	return SignInMethod{kind: signInCredentials, username: username, password: password}
}

// OAuth2 authenticates with XOAUTH2 using bearer tokens from tokens.
func OAuth2(username string, tokens oauth.TokenSource) SignInMethod {
	return SignInMethod{kind: signInOAuth2, username: username, tokens: tokens}
}

// IsAnonymous reports whether no AUTH exchange will take place.
func (m SignInMethod) IsAnonymous() bool {
	return m.kind == signInAnonymous
}

func (m SignInMethod) String() string {
	switch m.kind {
	case signInCredentials:
		return "credentials"
	case signInOAuth2:
		return "oauth2"
	default:
		return "anonymous"
	}
}

// Config configures a Transport.
type Config struct {
	Hostname string
	// Port defaults to DefaultPort.
	Port     int
	SignIn   SignInMethod
	Security Security
	// HelloName is sent with EHLO. Defaults to "localhost".
	HelloName string
	// Timeout bounds each delivery, including dial. Defaults to DefaultTimeout.
	Timeout time.Duration
	// TLSConfig overrides the client TLS configuration. ServerName defaults to
	// Hostname.
	TLSConfig *tls.Config
	// MaxMessageSize rejects larger payloads before connecting. Zero disables
	// the check.
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.HelloName == "" {
		c.HelloName = "localhost"
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Hostname) == "" {
		return fmt.Errorf("smtp hostname is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("smtp port %d out of range", c.Port)
	}
	switch c.Security {
	case StartTLS, StartTLSIfAvailable, ImplicitTLS, Plaintext:
	default:
		return fmt.Errorf("unknown security mode %d", int(c.Security))
	}
	switch c.SignIn.kind {
	case signInCredentials:
		if c.SignIn.username == "" {
			return fmt.Errorf("smtp username is required for credentials sign-in")
		}
	case signInOAuth2:
		if c.SignIn.username == "" || c.SignIn.tokens == nil {
			return fmt.Errorf("smtp username and token source are required for oauth2 sign-in")
		}
	}
	return nil
}

func (c Config) tlsConfig() *tls.Config {
	if c.TLSConfig != nil {
		cfg := c.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = c.Hostname
		}
		return cfg
	}
	return &tls.Config{ServerName: c.Hostname, MinVersion: tls.VersionTLS12}
}
