// Package energy implements a pure-Go VAD engine that scores analysis
// windows by short-term RMS energy against an adaptive noise floor.
//
// The floor tracks the quietest recent level: it drops quickly when a window
// is quieter than the current floor and rises slowly otherwise, so sustained
// speech does not drag the floor up and deafen the detector. The probability
// is the window's energy expressed as a position between the floor and a
// configurable saturation multiple of it.
//
// It is the default engine for deployments without a neural model endpoint;
// model-backed engines register alongside it and are selected by config.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/mirepoix/pkg/provider/vad"
)

// Tuning defaults. The floor rises with a slow EMA so a few seconds of
// speech cannot erase it, and saturates probability at 8x the floor.
const (
	defaultRiseRate = 0.02
	defaultSpan     = 8.0

	// floorMin keeps the signal-to-floor ratio finite on digital silence.
	floorMin = 1e-4
)

// ErrSessionClosed is returned by Probability after Close.
var ErrSessionClosed = errors.New("energy: session closed")

// Option configures an Engine.
type Option func(*Engine)

// WithRiseRate sets the EMA coefficient used when the noise floor rises.
// Smaller is slower. Values outside (0, 1] are ignored.
func WithRiseRate(rate float64) Option {
	return func(e *Engine) {
		if rate > 0 && rate <= 1 {
			e.riseRate = rate
		}
	}
}

// WithSpan sets the signal-to-floor ratio at which probability saturates
// to 1.0. Values at or below 1 are ignored.
func WithSpan(span float64) Option {
	return func(e *Engine) {
		if span > 1 {
			e.span = span
		}
	}
}

// Engine creates energy-based VAD sessions.
type Engine struct {
	riseRate float64
	span     float64
}

// New returns an Engine with the given options applied over the defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		riseRate: defaultRiseRate,
		span:     defaultSpan,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate %d must be positive", cfg.SampleRate)
	}
	if cfg.WindowSamples <= 0 {
		return nil, fmt.Errorf("energy: window size %d must be positive", cfg.WindowSamples)
	}
	return &session{
		cfg:      cfg,
		riseRate: e.riseRate,
		span:     e.span,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu       sync.Mutex
	cfg      vad.Config
	riseRate float64
	span     float64

	floor  float64
	primed bool
	closed bool
}

// Probability implements vad.Session.
func (s *session) Probability(window []int16) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}
	if len(window) != s.cfg.WindowSamples {
		return 0, fmt.Errorf("energy: window has %d samples, expected %d", len(window), s.cfg.WindowSamples)
	}

	rms := computeRMS(window)

	if !s.primed {
		s.floor = rms
		s.primed = true
	}
	if rms < s.floor {
		s.floor = rms
	} else {
		s.floor += s.riseRate * (rms - s.floor)
	}
	if s.floor < floorMin {
		s.floor = floorMin
	}

	ratio := rms / s.floor
	p := (ratio - 1) / (s.span - 1)
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return p, nil
}

// Reset implements vad.Session.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floor = 0
	s.primed = false
}

// Close implements vad.Session.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.Session = (*session)(nil)

// computeRMS returns the root mean square of the window normalised to
// [0.0, 1.0] against the int16 range.
func computeRMS(window []int16) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(window)))
}
