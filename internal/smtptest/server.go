// Package smtptest runs an in-process SMTP relay that records every envelope
// it accepts, so SMTP transports can be exercised end to end in tests.
package smtptest

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"

	mailtls "github.com/shineum/smtp-mail-lite/internal/tls"
)

// maxMessageSize bounds the DATA section the relay will buffer.
const maxMessageSize = 25 * units.MiB

// Message is one envelope accepted by the relay.
type Message struct {
	From       string
	Recipients []string
	Data       []byte
	// Username is empty for anonymous sessions.
	Username string
}

// Options tunes relay behavior.
type Options struct {
	// Username and Password are the only credentials accepted. When both
	// are empty any non-empty pair is accepted.
	Username string
	Password string
	// AllowAnonymous accepts MAIL without AUTH.
	AllowAnonymous bool
	// TLS enables STARTTLS with a freshly generated self-signed certificate.
	// Without it AUTH is offered over plaintext.
	TLS bool
	// RejectRecipients lists addresses answered with 550.
	RejectRecipients []string
}

// Server is an in-process SMTP relay. Create it with Start.
type Server struct {
	srv      *smtp.Server
	listener net.Listener
	cert     *tls.Certificate
	store    *store
	done     chan struct{}
}

// Start listens on a random loopback port and serves until the test ends.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()

	st := &store{opts: opts}
	srv := smtp.NewServer(&backend{store: st})
	srv.Domain = "localhost"
	srv.MaxMessageBytes = int(maxMessageSize)
	srv.MaxRecipients = 100

	s := &Server{srv: srv, store: st, done: make(chan struct{})}

	if opts.TLS {
		cert, err := mailtls.GenerateSelfSignedCert()
		if err != nil {
			t.Fatalf("failed to generate relay certificate: %v", err)
		}
		srv.TLSConfig = mailtls.ServerConfig(cert)
		s.cert = cert
	} else {
		srv.AllowInsecureAuth = true
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s.listener = l

	go func() {
		defer close(s.done)
		_ = srv.Serve(l)
	}()

	t.Cleanup(s.Close)
	return s
}

// Host returns the loopback host the relay listens on.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the relay's TCP port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// ClientTLSConfig returns a client config trusting the relay certificate.
// It returns nil when the relay was started without TLS.
func (s *Server) ClientTLSConfig() *tls.Config {
	if s.cert == nil {
		return nil
	}
	return &tls.Config{
		ServerName: "localhost",
		RootCAs:    mailtls.CertPool(s.cert),
		MinVersion: tls.VersionTLS12,
	}
}

// Messages returns a copy of the accepted envelopes in arrival order.
func (s *Server) Messages() []Message {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	out := make([]Message, len(s.store.messages))
	copy(out, s.store.messages)
	return out
}

// Close stops the relay. Safe to call more than once.
func (s *Server) Close() {
	s.store.closeOnce.Do(func() {
		_ = s.srv.Close()
		<-s.done
	})
}

type store struct {
	opts      Options
	mu        sync.Mutex
	messages  []Message
	closeOnce sync.Once
}

func (st *store) save(m Message) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.messages = append(st.messages, m)
}

// backend implements smtp.Backend.
type backend struct {
	store *store
}

func (b *backend) Login(_ *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	opts := b.store.opts
	if opts.Username == "" && opts.Password == "" {
		if username != "" && password != "" {
			return &session{store: b.store, username: username}, nil
		}
	} else if username == opts.Username && password == opts.Password {
		return &session{store: b.store, username: username}, nil
	}
	return nil, &smtp.SMTPError{
		Code:         535,
		EnhancedCode: smtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication credentials invalid",
	}
}

func (b *backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	if !b.store.opts.AllowAnonymous {
		return nil, smtp.ErrAuthRequired
	}
	return &session{store: b.store}, nil
}

// session implements smtp.Session for a single connection.
type session struct {
	store    *store
	username string
	from     string
	rcpts    []string
}

func (s *session) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *session) Logout() error { return nil }

func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string) error {
	for _, rejected := range s.store.opts.RejectRecipients {
		if to == rejected {
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      "Mailbox unavailable",
			}
		}
	}
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	if s.from == "" || len(s.rcpts) == 0 {
		return errors.New("no envelope")
	}
	buf, err := io.ReadAll(io.LimitReader(r, maxMessageSize))
	if err != nil {
		return err
	}
	s.store.save(Message{
		From:       s.from,
		Recipients: append([]string(nil), s.rcpts...),
		Data:       buf,
		Username:   s.username,
	})
	return nil
}
