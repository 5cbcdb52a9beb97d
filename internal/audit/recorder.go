package audit

import (
	"context"
	"sync"
)

// Event is one record captured by a Recorder.
type Event struct {
	Type   string
	Actor  string
	Fields Fields
}

// Recorder is an in-memory Sink for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Sink.
func (r *Recorder) Record(_ context.Context, eventType, actor string, fields Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: eventType, Actor: actor, Fields: fields})
}

// Events returns captured events, optionally filtered by actor.
func (r *Recorder) Events(actor string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if actor == "" || e.Actor == actor {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of eventType were recorded for actor.
func (r *Recorder) Count(eventType, actor string) int {
	n := 0
	for _, e := range r.Events(actor) {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// Reset discards captured events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
