// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script a probability sequence and inspect the windows that
// were submitted for scoring.
//
// Example:
//
//	sess := &mock.Session{Probabilities: []float64{0.1, 0.9, 0.9, 0.1}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/mirepoix/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the Session returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// ProbabilityCall records a single invocation of Session.Probability.
type ProbabilityCall struct {
	// Window is a copy of the samples passed to Probability.
	Window []int16
}

// Session is a mock implementation of vad.Session.
type Session struct {
	mu sync.Mutex

	// Probabilities is consumed one value per Probability call. When the
	// script is exhausted, Default is returned.
	Probabilities []float64

	// Default is returned once Probabilities is exhausted (or always, when
	// the script is empty).
	Default float64

	// ProbabilityErr, if non-nil, is returned by every Probability call.
	ProbabilityErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProbabilityCalls records every call to Probability in order.
	ProbabilityCalls []ProbabilityCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	next int
}

// Probability records the call and returns the next scripted value.
func (s *Session) Probability(window []int16) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]int16, len(window))
	copy(cp, window)
	s.ProbabilityCalls = append(s.ProbabilityCalls, ProbabilityCall{Window: cp})
	if s.ProbabilityErr != nil {
		return 0, s.ProbabilityErr
	}
	if s.next < len(s.Probabilities) {
		p := s.Probabilities[s.next]
		s.next++
		return p, nil
	}
	return s.Default, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded call history and rewinds the probability
// script. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProbabilityCalls = nil
	s.ResetCallCount = 0
	s.CloseCallCount = 0
	s.next = 0
}

// Ensure Session implements vad.Session at compile time.
var _ vad.Session = (*Session)(nil)
