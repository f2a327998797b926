// Package draftstream delivers an in-progress reply as throttled edits to a
// single platform message.
package draftstream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

// State is the lifecycle position of a Stream.
type State string

const (
	StateIdle    State = "idle"
	StateActive  State = "active"
	StateEnded   State = "ended"
	StateAborted State = "aborted"
	StateFailed  State = "failed"
)

// Terminal reports whether no further platform calls will be made.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateAborted || s == StateFailed
}

// ErrStopped is returned by Flush once the stream can no longer deliver.
var ErrStopped = errors.New("draftstream: stream stopped")

// Client performs the platform calls for one chat.
type Client interface {
	Send(ctx context.Context, text string) (messageID int, err error)
	Edit(ctx context.Context, messageID int, text string) error
	Delete(ctx context.Context, messageID int) error
}

// Options configures a Stream.
type Options struct {
	// Throttle is the minimum spacing between platform calls.
	Throttle time.Duration
	// MaxChars stops the stream once buffered text exceeds it. Zero disables the guard.
	MaxChars int
	Clock    Clock
	Logger   *slog.Logger
	// OnFinish is called once when the stream reaches a terminal state.
	OnFinish func(State)
}

// Stream is one draft reply. Updates are coalesced so that at most one
// platform call happens per throttle window; the first update goes out
// immediately.
type Stream struct {
	ctx    context.Context
	client Client
	opts   Options
	logger *slog.Logger

	// callMu serializes platform calls so send and edit never overlap.
	callMu sync.Mutex

	mu         sync.Mutex
	state      State
	messageID  int
	generation int
	lastSent   string
	pending    string
	hasPending bool
	lastCallAt time.Time
	timer      Timer
	inFlight   bool
	overflowed bool
	err        error
	hooks      []func(State)
}

// New creates an idle stream. ctx bounds every platform call the stream makes.
func New(ctx context.Context, client Client, opts Options) *Stream {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		ctx:    ctx,
		client: client,
		opts:   opts,
		logger: logger,
		state:  StateIdle,
	}
	if opts.OnFinish != nil {
		s.hooks = append(s.hooks, opts.OnFinish)
	}
	return s
}

// Update buffers the latest full text and schedules delivery.
func (s *Stream) Update(text string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if s.opts.MaxChars > 0 && utf8.RuneCountInString(text) > s.opts.MaxChars {
		s.overflowed = true
		hooks := s.terminateLocked(StateEnded)
		s.mu.Unlock()
		s.logger.Debug("draft stream exceeded max chars", "max_chars", s.opts.MaxChars)
		s.notify(StateEnded, hooks)
		return
	}
	if s.hasPending && text == s.pending {
		s.mu.Unlock()
		return
	}
	if !s.hasPending && text == s.lastSent {
		s.mu.Unlock()
		return
	}
	s.pending = text
	s.hasPending = true

	if s.timer != nil || s.inFlight {
		s.mu.Unlock()
		return
	}
	wait := s.opts.Throttle - s.opts.Clock.Now().Sub(s.lastCallAt)
	if s.lastCallAt.IsZero() || wait <= 0 {
		// Claim the call before unlocking so a concurrent Update waits for
		// the trailing window instead of delivering too.
		s.inFlight = true
		s.mu.Unlock()
		s.deliver()
		return
	}
	s.timer = s.opts.Clock.AfterFunc(wait, s.onTimer)
	s.mu.Unlock()
}

func (s *Stream) onTimer() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	s.deliver()
}

// Flush delivers any buffered text now, ignoring the throttle window.
func (s *Stream) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.deliver()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.hasPending && s.state.Terminal() {
		return ErrStopped
	}
	return nil
}

func (s *Stream) deliver() {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	s.mu.Lock()
	if s.state.Terminal() || !s.hasPending {
		s.inFlight = false
		s.mu.Unlock()
		return
	}
	text := s.pending
	s.pending = ""
	s.hasPending = false
	if text == s.lastSent {
		s.inFlight = false
		s.mu.Unlock()
		return
	}
	id := s.messageID
	gen := s.generation
	s.inFlight = true
	s.mu.Unlock()

	var err error
	newID := id
	if id == 0 {
		newID, err = s.client.Send(s.ctx, text)
	} else {
		err = s.client.Edit(s.ctx, id, text)
	}

	s.mu.Lock()
	s.inFlight = false
	s.lastCallAt = s.opts.Clock.Now()
	if err != nil {
		s.err = err
		hooks := s.terminateLocked(StateFailed)
		s.mu.Unlock()
		s.logger.Warn("draft stream stopped after platform error", "message_id", id, "error", err)
		s.notify(StateFailed, hooks)
		return
	}
	if gen == s.generation {
		s.messageID = newID
		s.lastSent = text
	}
	if s.state == StateIdle {
		s.state = StateActive
	}
	if s.hasPending && s.timer == nil && !s.state.Terminal() {
		s.timer = s.opts.Clock.AfterFunc(s.opts.Throttle, s.onTimer)
	}
	s.mu.Unlock()
}

// Clear deletes the remote message, if any, and forgets it.
func (s *Stream) Clear() error {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	s.mu.Lock()
	id := s.messageID
	s.messageID = 0
	s.lastSent = ""
	s.generation++
	s.mu.Unlock()

	if id == 0 {
		return nil
	}
	return s.client.Delete(s.ctx, id)
}

// Stop ends the stream. Buffered text that was not flushed is discarded.
func (s *Stream) Stop() {
	s.mu.Lock()
	hooks := s.terminateLocked(StateEnded)
	s.mu.Unlock()
	s.notify(StateEnded, hooks)
}

// Abort stops the stream and deletes the partial draft.
func (s *Stream) Abort() error {
	s.mu.Lock()
	hooks := s.terminateLocked(StateAborted)
	s.mu.Unlock()
	err := s.Clear()
	s.notify(StateAborted, hooks)
	return err
}

// ForceNewMessage detaches from the current message so the next update
// sends a fresh one.
func (s *Stream) ForceNewMessage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageID = 0
	s.lastSent = ""
	s.generation++
}

// MessageID returns the remote message id, or zero before the first send.
func (s *Stream) MessageID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Overflowed reports whether the stream stopped because text exceeded MaxChars.
func (s *Stream) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflowed
}

// Err returns the platform error that failed the stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastSent returns the text most recently delivered.
func (s *Stream) LastSent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

func (s *Stream) addHook(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// terminateLocked moves to state and returns the hooks to notify, or nil if
// the stream was already terminal.
func (s *Stream) terminateLocked(state State) []func(State) {
	if s.state.Terminal() {
		return nil
	}
	s.state = state
	s.pending = ""
	s.hasPending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	hooks := s.hooks
	s.hooks = nil
	return hooks
}

func (s *Stream) notify(state State, hooks []func(State)) {
	for _, fn := range hooks {
		fn(state)
	}
}
