package voice

// Test support for packages that consume the session manager through an
// interface and need to stand up sessions without a provider.

// NewTestSession returns an Active session with the given identifiers.
func NewTestSession(id, agentID string) *Session {
	return newSession(id, agentID)
}

// MarkEnded moves the session to Ended, simulating a provider-side or
// device-side termination. No-op on an already terminal session.
func (s *Session) MarkEnded() {
	s.transition(StateEnded)
}
