// Package bus provides the in-process publish/subscribe channel that
// decouples the relay, voice, and recipe subsystems from display
// collaborators such as the gateway's WebSocket event stream.
//
// Publishing never blocks: when a subscriber's buffer is full the event
// is dropped for that subscriber and counted. Display consumers render
// on their own cadence and tolerate gaps; state snapshots are served
// separately for anything that must not miss updates.
package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies what an [Event] describes.
type Kind string

const (
	// EventFrame is published for every frame accepted on a stream.
	EventFrame Kind = "frame"
	// EventScene is published when a scene-text line is appended.
	EventScene Kind = "scene"
	// EventVoiceState is published on every voice-session state change.
	EventVoiceState Kind = "voice_state"
	// EventExperienceStarted is published once, when the experience
	// gate opens.
	EventExperienceStarted Kind = "experience_started"
	// EventRecipeProgress is published when step completion changes.
	EventRecipeProgress Kind = "recipe_progress"
)

// Event is a single notification carried on the bus. Only the fields
// relevant to its Kind are populated; the zero values are omitted from
// the JSON encoding so the WebSocket bridge stays compact.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	// Frame events.
	Stream string  `json:"stream,omitempty"`
	Bytes  int     `json:"bytes,omitempty"`
	FPS    float64 `json:"fps,omitempty"`

	// Scene events.
	Text string `json:"text,omitempty"`

	// Voice-state events.
	State  string `json:"state,omitempty"`
	TurnID string `json:"turn_id,omitempty"`

	// Experience and recipe-progress events.
	Recipe    string `json:"recipe,omitempty"`
	Steps     int    `json:"steps,omitempty"`
	Completed []int  `json:"completed,omitempty"`
}

// NewFrameEvent describes a frame of size bytes accepted on the named
// stream, with the stream's current FPS estimate.
func NewFrameEvent(stream string, bytes int, fps float64) Event {
	return Event{Kind: EventFrame, Time: time.Now(), Stream: stream, Bytes: bytes, FPS: fps}
}

// NewSceneEvent describes a scene-text line appended to the scene log.
func NewSceneEvent(text string) Event {
	return Event{Kind: EventScene, Time: time.Now(), Text: text}
}

// NewVoiceStateEvent describes a voice-session state transition. turnID
// is empty for transitions outside a voice turn.
func NewVoiceStateEvent(state, turnID string) Event {
	return Event{Kind: EventVoiceState, Time: time.Now(), State: state, TurnID: turnID}
}

// NewExperienceStartedEvent describes the experience gate opening for
// the named recipe with the given step count.
func NewExperienceStartedEvent(recipe string, steps int) Event {
	return Event{Kind: EventExperienceStarted, Time: time.Now(), Recipe: recipe, Steps: steps}
}

// NewRecipeProgressEvent describes an updated set of completed step
// indices.
func NewRecipeProgressEvent(completed []int) Event {
	return Event{Kind: EventRecipeProgress, Time: time.Now(), Completed: completed}
}

// Bus fans events out to all current subscribers. The zero value is not
// usable; construct with [New]. All methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscriber with the given channel buffer
// size (minimum 1). The name identifies the subscriber in stats and is
// not required to be unique.
//
// Subscribing to a closed bus returns a subscription whose channel is
// already closed, so consumers observe shutdown uniformly.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		name: name,
		ch:   make(chan Event, buffer),
		bus:  b,
	}
	if b.closed {
		close(sub.ch)
		return sub
	}

	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers the event to every subscriber that has buffer space.
// Subscribers with full buffers miss the event; the miss is recorded on
// their [Subscription.Dropped] counter. Publish never blocks.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Published reports how many events have been published since creation.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close shuts the bus down: every subscriber channel is closed and
// later publishes are discarded. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Subscription is one subscriber's view of the bus. Receive events from
// [Subscription.Events]; call [Subscription.Close] when done so the bus
// stops fanning out to it.
type Subscription struct {
	id   uint64
	name string
	ch   chan Event
	bus  *Bus

	dropped atomic.Uint64
	once    sync.Once
}

// Events returns the receive channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Name returns the name given at subscribe time.
func (s *Subscription) Name() string {
	return s.name
}

// Dropped reports how many events this subscriber has missed because
// its buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus and closes its channel.
// Close is idempotent and safe to call concurrently with Publish.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		if _, ok := s.bus.subs[s.id]; ok {
			delete(s.bus.subs, s.id)
			close(s.ch)
		}
	})
}
