package emit

import "sync"

// BufferedEmitter stores events in memory, keyed by session, for debugging,
// tests, and post-run analysis.
//
// Every event is kept until cleared, so long-running production deployments
// should prefer LogEmitter or OTelEmitter.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores the event under its session.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.SessionID] = append(b.events[event.SessionID], event)
}

// History returns a copy of all events for a session in emission order.
func (b *BufferedEmitter) History(sessionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[sessionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Filter specifies criteria for querying buffered history. Set fields
// combine with AND.
type Filter struct {
	StepName string
	Msg      string
}

// HistoryWithFilter returns a session's events matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(sessionID string, f Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := []Event{}
	for _, event := range b.events[sessionID] {
		if f.StepName != "" && event.StepName != f.StepName {
			continue
		}
		if f.Msg != "" && event.Msg != f.Msg {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Clear removes a session's events, or every session's when sessionID is
// empty.
func (b *BufferedEmitter) Clear(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sessionID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, sessionID)
}
