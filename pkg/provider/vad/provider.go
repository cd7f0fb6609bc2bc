// Package vad defines the Engine interface for Voice Activity Detection
// backends and the hysteresis Detector that turns per-window speech
// probabilities into discrete start/end events.
//
// An Engine wraps a window-level speech scorer (an energy model, a local
// neural model, or a remote service) and surfaces it as a stateful,
// per-stream session. Scoring is synchronous by design: Probability returns
// immediately, making it suitable for the audio receive loop that gates STT
// input.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// windows passed to Probability. Analysis in this pipeline runs at 16000.
	SampleRate int

	// WindowSamples is the fixed number of samples per analysis window.
	// Probability returns an error if the supplied window does not match.
	WindowSamples int
}

// Session represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply scripted implementations without
// a live engine. Each session maintains its own scoring state; Reset clears
// it without closing the session.
type Session interface {
	// Probability scores a single analysis window and returns the speech
	// probability in [0.0, 1.0]. The window must contain exactly
	// Config.WindowSamples little-endian samples at Config.SampleRate.
	//
	// Called synchronously in the audio receive loop; it must not block.
	Probability(window []int16) (float64, error)

	// Reset clears accumulated scoring state (noise floor, smoothing history)
	// without closing the session. Use when the audio stream is interrupted or
	// restarted so stale state does not affect subsequent windows.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// Probability must return an error. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration,
	// immediately ready to score windows.
	//
	// Returns an error if the configuration is invalid (unsupported sample
	// rate or window size) or if the engine cannot allocate session resources.
	NewSession(cfg Config) (Session, error)
}
