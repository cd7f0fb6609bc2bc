// Package scene maintains the bounded log of scene observations that
// grounds LLM calls. Entries arrive from the compute node's scene-text
// stream and from conversation turns; the most recent entries form the
// context window for voice queries and step assessment.
package scene

import (
	"sync"
	"time"
)

// Tags prefixed onto conversation-sourced entries so the LLM context
// distinguishes them from camera observations.
const (
	TagUser      = "[USER]"
	TagAssistant = "[ASSISTANT]"
	TagChat      = "[CHAT]"
	TagRecipe    = "[RECIPE]"
)

// DefaultMaxEntries is the retention bound used when no explicit size
// is configured.
const DefaultMaxEntries = 50

// Entry is a single scene observation.
type Entry struct {
	// Text is the observation, optionally prefixed with one of the
	// conversation tags.
	Text string `json:"text"`

	// Time records when the entry was appended.
	Time time.Time `json:"time"`
}

// Log is a bounded FIFO of scene entries. Appending beyond the maximum
// evicts the oldest entries. All methods are safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// NewLog creates a log retaining at most maxSize entries. Sizes below
// one fall back to [DefaultMaxEntries].
func NewLog(maxSize int) *Log {
	if maxSize < 1 {
		maxSize = DefaultMaxEntries
	}
	return &Log{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Append adds an observation with the current time, evicting the
// oldest entries beyond the configured maximum.
func (l *Log) Append(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{Text: text, Time: time.Now()})

	// Copy survivors to a fresh slice so evicted entries do not pin
	// the old backing array for the process lifetime.
	if len(l.entries) > l.maxSize {
		fresh := make([]Entry, l.maxSize)
		copy(fresh, l.entries[len(l.entries)-l.maxSize:])
		l.entries = fresh
	}
}

// AppendTagged adds an observation prefixed with the given tag, e.g.
// "[USER] how long do I fry these?".
func (l *Log) AppendTagged(tag, text string) {
	l.Append(tag + " " + text)
}

// Tail returns up to n of the most recent entries in chronological
// order (oldest first). The returned slice is a copy.
func (l *Log) Tail(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	if n <= 0 {
		return nil
	}

	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// TailText returns the texts of up to n of the most recent entries in
// chronological order, ready to join into a prompt.
func (l *Log) TailText(n int) []string {
	entries := l.Tail(n)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
