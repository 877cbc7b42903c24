// Package register implements the requester side of registration: a session
// that submits a signing request, retries while the registrar is unreachable,
// and terminates on success, definitive rejection, or cancellation.
package register

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/pwalczak/memberca/internal/transport"
	"github.com/pwalczak/memberca/internal/wire"
)

// State of a registration session.
type State string

const (
	StateIdle             State = "idle"
	StateSending          State = "sending"
	StateAwaitingResponse State = "awaiting_response"
	StateRegistered       State = "registered"
	StateRejected         State = "rejected"
	StateCancelled        State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateRegistered || s == StateRejected || s == StateCancelled
}

// Event is the terminal outcome surfaced to the surrounding application.
type Event struct {
	Username string
	State    State
	// Certificate is set when State is StateRegistered.
	Certificate []byte
	// Code and Message are set when State is StateRejected.
	Code    string
	Message string
}

// Options tune a session's retry behavior.
type Options struct {
	// InitialInterval is the first retry delay. Defaults to 2s.
	InitialInterval time.Duration
	// MaxInterval caps the backoff so recovery is noticed promptly once the
	// registrar returns. Defaults to 30s.
	MaxInterval time.Duration
	// AttemptTimeout bounds each transport call. Defaults to 30s.
	AttemptTimeout time.Duration
	Logger         *log.Logger
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 2 * time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return opts
}

// Session is one in-flight registration. Sessions are independent: they share
// no state and may run concurrently. A session is not persisted; after a
// process restart the application simply begins a fresh one and server-side
// idempotency absorbs the resend.
type Session struct {
	id       string
	username string
	request  []byte
	tr       transport.Transport
	opts     Options

	cancel context.CancelFunc
	done   chan struct{}
	events chan Event

	mu       sync.Mutex
	state    State
	attempts int
	result   Event
}

// Begin starts a registration session for the given username and encoded CSR.
// The session retries indefinitely on transient failures until it reaches a
// terminal state or Cancel is called. The same CSR bytes are resent on every
// attempt, which is what makes redelivery safe.
func Begin(username string, csrBytes []byte, tr transport.Transport, opts Options) (*Session, error) {
	request, err := wire.EncodeRequest(&wire.Request{
		RequestID: uuid.NewString(),
		Username:  username,
		CSR:       csrBytes,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		username: username,
		request:  request,
		tr:       tr,
		opts:     opts.withDefaults(),
		cancel:   cancel,
		done:     make(chan struct{}),
		events:   make(chan Event, 1),
		state:    StateIdle,
	}

	go s.run(ctx)
	return s, nil
}

// Cancel moves any non-terminal state to cancelled and suppresses further
// retries. An in-flight transport call is abandoned, not awaited; its reply,
// if one ever arrives, is ignored.
func (s *Session) Cancel() {
	s.cancel()
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Events delivers the single terminal event and is then closed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns how many transport calls the session has made.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Result returns the terminal event. Valid only after Done is closed.
func (s *Session) Result() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.opts.InitialInterval),
		backoff.WithMaxInterval(s.opts.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		if event, terminal := s.attempt(ctx); terminal {
			s.finish(event)
			return
		}

		s.setState(StateSending)
		wait := policy.NextBackOff()
		s.opts.Logger.Printf("registration %s: registrar unavailable, retrying in %s", s.id, wait.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			s.finish(Event{Username: s.username, State: StateCancelled})
			return
		case <-time.After(wait):
		}
	}
}

// attempt makes one transport call. It returns the terminal event and true
// when the session is over, or false when the failure was transient.
func (s *Session) attempt(ctx context.Context) (Event, bool) {
	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return Event{Username: s.username, State: StateCancelled}, true
	}
	s.state = StateSending
	s.attempts++
	s.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
	defer cancel()

	s.setState(StateAwaitingResponse)
	responseBytes, err := s.tr.Send(attemptCtx, s.request)

	// A reply that races with cancellation must not resurrect the session.
	if ctx.Err() != nil {
		return Event{Username: s.username, State: StateCancelled}, true
	}

	if err != nil {
		return Event{}, false
	}

	response, err := wire.DecodeResponse(responseBytes)
	if err != nil {
		s.opts.Logger.Printf("registration %s: undecodable response: %v", s.id, err)
		return Event{}, false
	}

	switch {
	case response.Success():
		return Event{
			Username:    s.username,
			State:       StateRegistered,
			Certificate: response.Certificate,
		}, true

	case response.Terminal():
		return Event{
			Username: s.username,
			State:    StateRejected,
			Code:     response.Error.Code,
			Message:  response.Error.Message,
		}, true

	default:
		// Transient registrar-side failure; retry like a transport failure.
		return Event{}, false
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) finish(event Event) {
	s.mu.Lock()
	s.state = event.State
	s.result = event
	s.mu.Unlock()

	switch event.State {
	case StateRegistered:
		s.opts.Logger.Printf("registration %s: registered as %s", s.id, event.Username)
	case StateRejected:
		s.opts.Logger.Printf("registration %s: rejected (%s): %s", s.id, event.Code, event.Message)
	case StateCancelled:
		s.opts.Logger.Printf("registration %s: cancelled", s.id)
	}

	s.events <- event
	close(s.events)
	close(s.done)
}
