package syncengine

import (
	"sync"
)

// Signal names a local notification fired after a merge so that
// independently rendered views can refresh.
type Signal string

const (
	SignalCalendarChanged   Signal = "calendar-data-changed"
	SignalFocusAreasChanged Signal = "focus-area-data-changed"
	SignalSyncApplied       Signal = "sync-applied"
)

// mergeSignals are fired, in order, after every successful merge.
var mergeSignals = []Signal{SignalCalendarChanged, SignalFocusAreasChanged, SignalSyncApplied}

// Signals dispatches named notifications to registered handlers.
type Signals struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Signal]map[int]func()
}

func newSignals() *Signals {
	return &Signals{handlers: make(map[Signal]map[int]func())}
}

// On registers fn for sig. The returned function removes it.
func (s *Signals) On(sig Signal, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	if s.handlers[sig] == nil {
		s.handlers[sig] = make(map[int]func())
	}

	s.handlers[sig][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.handlers[sig], id)
	}
}

// Emit calls every handler registered for sig.
func (s *Signals) Emit(sig Signal) {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.handlers[sig]))
	for _, fn := range s.handlers[sig] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
