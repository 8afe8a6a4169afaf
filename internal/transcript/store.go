// Package transcript holds the append-only call transcript.
//
// Lines are created by the session layer from structured data messages and
// pushed to the view layer through subscriber callbacks. There is no removal,
// editing, or truncation: the transcript for a demo call is short-lived and
// intentionally unbounded.
package transcript

import (
	"fmt"
	"sync"
	"sync/atomic"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Speaker labels a transcript line. Only the two values the agent publishes
// are ever stored.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Line is one immutable transcript entry. ID is unique per line so list
// renderers can key on it.
type Line struct {
	ID      string  `json:"id"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Listener receives each appended line, in append order.
type Listener func(Line)

// Store is an ordered, append-only sequence of transcript lines.
type Store struct {
	mu        sync.Mutex
	lines     []Line
	listeners []Listener
}

func NewStore() *Store {
	return &Store{}
}

// Subscribe registers a listener for future appends. Listeners cannot be
// removed; the store and its subscribers share the process lifetime.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Append creates a line with a fresh id, appends it, and notifies
// subscribers. Returns the stored line.
func (s *Store) Append(speaker Speaker, text string) Line {
	line := Line{
		ID:      newLineID(),
		Speaker: speaker,
		Text:    text,
	}

	s.mu.Lock()
	s.lines = append(s.lines, line)
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(line)
	}
	return line
}

// Lines returns a snapshot copy of the transcript in append order.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Len returns the number of stored lines.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

var lineSeq atomic.Uint64

func newLineID() string {
	id, err := nanoid.New()
	if err != nil {
		// nanoid only fails if the system entropy source is broken;
		// a monotonic counter still keeps ids unique within the process.
		return fmt.Sprintf("line-%d", lineSeq.Add(1))
	}
	return id
}
