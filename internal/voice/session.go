package voice

import (
	"sync"
	"time"
)

// State is the lifecycle state of a conversation session. The only valid
// transitions are Created -> Active -> Ended, with Failed reachable from
// Created or Active on unrecoverable provider error.
type State int

const (
	StateCreated State = iota
	StateActive
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is one live conversational exchange with the provider, bounded to
// a single phone call. It is owned by the call task that created it and must
// not be shared across calls.
type Session struct {
	ID      string
	AgentID string

	// turnMu serializes turns: the provider's conversational state is not
	// safe for concurrent turns on the same session.
	turnMu sync.Mutex

	stateMu   sync.RWMutex
	state     State
	startedAt time.Time
	endedAt   time.Time
	done      chan struct{}
}

func newSession(id, agentID string) *Session {
	return &Session{
		ID:        id,
		AgentID:   agentID,
		state:     StateActive,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Duration is the elapsed call time, frozen once the session ends.
func (s *Session) Duration() time.Duration {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	if s.startedAt.IsZero() {
		return 0
	}
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.startedAt)
	}
	return time.Since(s.startedAt)
}

// transition moves the session to a terminal state and reports whether this
// call performed the move. Transitioning an already terminal session is a
// no-op returning false, which makes EndSession idempotent and lets callers
// attach side effects (gauge accounting) to exactly one transition.
func (s *Session) transition(to State) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state == StateEnded || s.state == StateFailed {
		return false
	}

	s.state = to
	if to == StateEnded || to == StateFailed {
		s.endedAt = time.Now()
		close(s.done)
	}
	return true
}
