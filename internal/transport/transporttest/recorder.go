// Package transporttest provides a Transport double that records envelopes.
package transporttest

import (
	"context"
	"sync"

	"github.com/shineum/smtp-mail-lite/internal/email"
	"github.com/shineum/smtp-mail-lite/internal/transport"
)

// Recorder implements transport.Transport in memory. It is safe for
// concurrent use.
type Recorder struct {
	mu        sync.Mutex
	envelopes []email.Envelope
	sendErr   error
	shutdowns int
	closed    bool

	// SendFunc, when set, is called for every send instead of returning the
	// configured error.
	SendFunc func(ctx context.Context, env email.Envelope) error
	// ShutdownErr is returned by every Shutdown call.
	ShutdownErr error
}

// New returns a Recorder whose sends succeed.
func New() *Recorder {
	return &Recorder{}
}

// NewFailing returns a Recorder whose sends fail with err. The envelope is
// still recorded.
func NewFailing(err error) *Recorder {
	return &Recorder{sendErr: err}
}

// Send records env and returns the configured outcome.
func (r *Recorder) Send(ctx context.Context, env email.Envelope) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return transport.ErrClosed
	}
	r.envelopes = append(r.envelopes, env)
	err := r.sendErr
	fn := r.SendFunc
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, env)
	}
	return err
}

// Shutdown marks the recorder closed, counts the call and returns ShutdownErr.
func (r *Recorder) Shutdown(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.shutdowns++
	return r.ShutdownErr
}

// Name returns the transport name.
func (r *Recorder) Name() string {
	return "recorder"
}

// Envelopes returns a copy of the recorded envelopes in send order.
func (r *Recorder) Envelopes() []email.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]email.Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

// Calls returns the number of recorded sends.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envelopes)
}

// Shutdowns returns how many times Shutdown was called.
func (r *Recorder) Shutdowns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdowns
}

var _ transport.Transport = (*Recorder)(nil)
