// Package recipe tracks the active recipe's step list and per-step
// completion, and owns the one-shot experience gate that activates
// forwarding, audio processing, and scene assessment.
package recipe

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mirepoix/internal/bus"
	"github.com/MrWong99/mirepoix/internal/scene"
)

// State holds the current recipe. The step list is replaced wholesale
// whenever a new one arrives; it is never patched in place. All methods
// are safe for concurrent use.
type State struct {
	mu        sync.Mutex
	name      string
	steps     []string
	completed []bool
	updatedAt time.Time

	started atomic.Bool

	events   *bus.Bus
	scenes   *scene.Log
	announce func(text string)
	logger   *slog.Logger
}

// Option configures a [State].
type Option func(*State)

// WithBus publishes experience-start events on the given bus.
func WithBus(b *bus.Bus) Option {
	return func(s *State) { s.events = b }
}

// WithSceneLog records the start greeting as an assistant entry in the
// given scene log.
func WithSceneLog(l *scene.Log) Option {
	return func(s *State) { s.scenes = l }
}

// WithAnnouncer sets the callback that speaks the start greeting. The
// callback should hand the text off and return promptly; synthesis and
// mute handling happen behind it.
func WithAnnouncer(fn func(text string)) Option {
	return func(s *State) { s.announce = fn }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(s *State) { s.logger = logger }
}

// New creates an empty recipe state with the experience gate closed.
func New(opts ...Option) *State {
	s := &State{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Replace installs a new step list, resetting every completion flag.
// The name may be empty for unnamed recipes.
func (s *State) Replace(name string, steps []string) {
	s.mu.Lock()
	s.name = name
	s.steps = slices.Clone(steps)
	s.completed = make([]bool, len(steps))
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("recipe replaced", "name", name, "steps", len(steps))
}

// Snapshot is a point-in-time copy of the recipe state.
type Snapshot struct {
	Name      string    `json:"name,omitempty"`
	Steps     []string  `json:"steps"`
	Completed []bool    `json:"completed"`
	Started   bool      `json:"started"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Name:      s.name,
		Steps:     slices.Clone(s.steps),
		Completed: slices.Clone(s.completed),
		Started:   s.started.Load(),
		UpdatedAt: s.updatedAt,
	}
}

// SetCompleted replaces the completion flags: exactly the listed step
// indices become true, everything else false. Out-of-range indices are
// ignored. It reports whether the flags changed.
func (s *State) SetCompleted(indices []int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]bool, len(s.steps))
	for _, idx := range indices {
		if idx >= 0 && idx < len(next) {
			next[idx] = true
		}
	}

	if slices.Equal(next, s.completed) {
		return false
	}
	s.completed = next
	s.updatedAt = time.Now()
	return true
}

// StartExperience opens the experience gate. The first call wins: it
// records the greeting as an assistant scene entry, publishes the
// start event, and hands the greeting to the announcer. Later calls
// are no-ops. An empty greeting falls back to [DefaultGreeting].
//
// It reports whether this call opened the gate.
func (s *State) StartExperience(greeting string) bool {
	if !s.started.CompareAndSwap(false, true) {
		return false
	}
	if greeting == "" {
		greeting = DefaultGreeting
	}

	s.mu.Lock()
	name, steps := s.name, len(s.steps)
	s.mu.Unlock()

	s.logger.Info("experience started", "recipe", name, "steps", steps)

	if s.scenes != nil {
		s.scenes.AppendTagged(scene.TagAssistant, greeting)
	}
	if s.events != nil {
		s.events.Publish(bus.NewExperienceStartedEvent(name, steps))
	}
	if s.announce != nil {
		s.announce(greeting)
	}
	return true
}

// Started reports whether the experience gate is open. Hot paths may
// call this per packet; it is a single atomic load.
func (s *State) Started() bool {
	return s.started.Load()
}

// StepCount returns the number of steps in the current recipe.
func (s *State) StepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
