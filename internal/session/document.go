// Package session holds the current version of one generated document and
// moves it through Empty, Streaming and Finalized as a generation request
// progresses.
//
// Every Begin opens a new Generation; every state change bumps the Revision.
// Updates carrying a stale Generation are dropped, and Commit only succeeds
// against the current Revision, so a superseded stream or an out-of-date
// chat patch can never overwrite newer content.
package session

import (
	"errors"
	"fmt"
	"sync"

	"dbtforge/internal/document"
	"dbtforge/internal/logging"
)

// State of a document session.
type State int

const (
	StateEmpty State = iota
	StateStreaming
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Generation identifies one generation request.
type Generation uint64

// Revision identifies one stored value.
type Revision uint64

var (
	// ErrFinalize is returned when the complete response is not valid JSON
	// for the document.
	ErrFinalize = errors.New("failed to parse final response")
	// ErrSuperseded is returned for updates from an older generation or
	// against an older revision.
	ErrSuperseded = errors.New("superseded by a newer update")
	// ErrNotFinalized is returned by Commit before the document is finalized.
	ErrNotFinalized = errors.New("document is not finalized")
)

// Snapshot is a consistent view of a session.
type Snapshot[D any] struct {
	Generation Generation
	Revision   Revision
	State      State
	Value      D
}

// Observer receives every snapshot in the order changes were applied.
// Observers run synchronously and must not call back into the session.
type Observer[D any] func(Snapshot[D])

// Session owns the current value of one document.
type Session[D any] struct {
	mu    sync.RWMutex
	codec document.Codec[D]
	gen   Generation
	rev   Revision
	state State
	value D

	// notifyMu is taken before mu is released so observers see changes in
	// the order they were applied.
	notifyMu  sync.Mutex
	observers []Observer[D]
}

// New returns a session in the Empty state holding codec.Empty().
func New[D any](codec document.Codec[D]) *Session[D] {
	return &Session[D]{
		codec: codec,
		value: codec.Empty(),
		state: StateEmpty,
	}
}

// Kind returns the document kind managed by this session.
func (s *Session[D]) Kind() document.Kind { return s.codec.Kind() }

// Subscribe registers an observer.
func (s *Session[D]) Subscribe(o Observer[D]) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.observers = append(s.observers, o)
}

// Begin starts a new generation. The value resets to an empty document.
func (s *Session[D]) Begin() Generation {
	s.mu.Lock()
	s.gen++
	s.rev++
	s.state = StateEmpty
	s.value = s.codec.Empty()
	gen := s.gen
	logging.SessionDebug("%s: begin generation %d", s.codec.Kind(), gen)
	s.publishLocked()
	return gen
}

// Progress applies a best-effort decoded value. It reports whether the value
// was taken. Values from a stale generation, values that fail coercion, and
// anything arriving after finalization are ignored.
func (s *Session[D]) Progress(gen Generation, partial any) bool {
	v, err := s.codec.Coerce(partial)

	s.mu.Lock()
	switch {
	case gen != s.gen:
		s.mu.Unlock()
		logging.SessionDebug("%s: dropping progress from generation %d (current %d)", s.codec.Kind(), gen, s.gen)
		return false
	case s.state == StateFinalized:
		s.mu.Unlock()
		return false
	case err != nil:
		s.mu.Unlock()
		logging.SessionDebug("%s: partial value skipped: %v", s.codec.Kind(), err)
		return false
	}

	s.value = v
	s.state = StateStreaming
	s.rev++
	s.publishLocked()
	return true
}

// Finalize strictly parses the complete response text. On failure the
// session is left unchanged and the error wraps ErrFinalize.
func (s *Session[D]) Finalize(gen Generation, fullText string) (D, error) {
	v, parseErr := s.codec.Parse(fullText)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		logging.SessionWarn("%s: dropping final response from generation %d (current %d)", s.codec.Kind(), gen, s.gen)
		var zero D
		return zero, fmt.Errorf("%w: generation %d", ErrSuperseded, gen)
	}
	if s.state == StateFinalized {
		s.mu.Unlock()
		var zero D
		return zero, fmt.Errorf("%w: generation %d already finalized", ErrSuperseded, gen)
	}
	if parseErr != nil {
		s.mu.Unlock()
		logging.SessionWarn("%s: finalize failed for generation %d: %v", s.codec.Kind(), gen, parseErr)
		var zero D
		return zero, fmt.Errorf("%w: %w", ErrFinalize, parseErr)
	}

	s.value = v
	s.state = StateFinalized
	s.rev++
	logging.Session("%s: generation %d finalized at revision %d", s.codec.Kind(), gen, s.rev)
	s.publishLocked()
	return v, nil
}

// Commit replaces a finalized value, typically with a reconciled copy. rev
// must be the revision the new value was derived from.
func (s *Session[D]) Commit(rev Revision, value D) error {
	s.mu.Lock()
	if s.state != StateFinalized {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotFinalized, state)
	}
	if rev != s.rev {
		current := s.rev
		s.mu.Unlock()
		logging.SessionWarn("%s: commit against revision %d rejected (current %d)", s.codec.Kind(), rev, current)
		return fmt.Errorf("%w: revision %d, current %d", ErrSuperseded, rev, current)
	}

	s.value = value
	s.rev++
	logging.SessionDebug("%s: committed revision %d", s.codec.Kind(), s.rev)
	s.publishLocked()
	return nil
}

// Restore opens a new generation directly in the Finalized state holding
// value. Used when resuming a stored session.
func (s *Session[D]) Restore(value D) Generation {
	s.mu.Lock()
	s.gen++
	s.rev++
	s.state = StateFinalized
	s.value = value
	gen := s.gen
	logging.SessionDebug("%s: restored as generation %d", s.codec.Kind(), gen)
	s.publishLocked()
	return gen
}

// Value returns the current document.
func (s *Session[D]) Value() D {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// State returns the current state.
func (s *Session[D]) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a consistent view of the session.
func (s *Session[D]) Snapshot() Snapshot[D] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session[D]) snapshotLocked() Snapshot[D] {
	return Snapshot[D]{Generation: s.gen, Revision: s.rev, State: s.state, Value: s.value}
}

// publishLocked must be called with mu held; it releases mu.
func (s *Session[D]) publishLocked() {
	snap := s.snapshotLocked()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, o := range s.observers {
		o(snap)
	}
}
