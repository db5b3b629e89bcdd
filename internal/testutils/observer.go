package testutils

import "sync"

// RecordingObserver records progress calls. It satisfies fleet.Observer.
type RecordingObserver struct {
	mu     sync.Mutex
	events []ProgressEvent
}

// Progress records one call.
func (o *RecordingObserver) Progress(address, phase string, final bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ProgressEvent{Address: address, Phase: phase, Final: final})
}

// Events returns a copy of the recorded calls.
func (o *RecordingObserver) Events() []ProgressEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ProgressEvent(nil), o.events...)
}

// Phases returns the recorded phases for address, in order.
func (o *RecordingObserver) Phases(address string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var phases []string
	for _, e := range o.events {
		if e.Address == address {
			phases = append(phases, e.Phase)
		}
	}
	return phases
}
