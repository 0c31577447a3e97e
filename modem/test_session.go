package modem

import (
	"sync"
	"time"

	"gridwave.io/gsm/stkgw/at"
)

// ScriptSession is a test helper implementing Session with canned responses.
// Each ReadUntil pops the next scripted response regardless of marker,
// enabling deterministic replay of console dialogues (STK negotiation,
// listing parse) without timing dependencies. An exhausted script returns ""
// the way a timed-out read would.
//
// Exported for use in tests of packages that drive a Session.
type ScriptSession struct {
	mu        sync.Mutex
	responses []string

	// Writes records every write in wire form (lines include CRLF).
	Writes []string
	// Closed reports whether Close was called.
	Closed bool
}

// NewScriptSession creates a scripted session that will answer successive
// ReadUntil calls with the given responses in order.
func NewScriptSession(responses ...string) *ScriptSession {
	return &ScriptSession{responses: responses}
}

func (s *ScriptSession) WriteLine(text string) error {
	return s.Write(text + at.CRLF)
}

func (s *ScriptSession) Write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed {
		return ErrSessionClosed
	}
	s.Writes = append(s.Writes, text)
	return nil
}

func (s *ScriptSession) ReadUntil(marker string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return "", nil
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next, nil
}

func (s *ScriptSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
