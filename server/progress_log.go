package server

import (
	"sync"
	"time"
)

// DefaultLogCapacity is the number of progress entries a ProgressLog keeps.
const DefaultLogCapacity = 200

// LogEntry is one recorded progress event. Seq increases by one per entry
// and never repeats, so clients can poll with ?since=<last seq>.
type LogEntry struct {
	Seq     uint64    `json:"seq"`
	Address string    `json:"address"`
	Name    string    `json:"name,omitempty"`
	Phase   string    `json:"phase"`
	Final   bool      `json:"final"`
	Time    time.Time `json:"time"`
}

// ProgressLog keeps the most recent progress events in memory. It satisfies
// fleet.Observer.
type ProgressLog struct {
	mu       sync.Mutex
	capacity int
	next     uint64
	entries  []LogEntry
}

// NewProgressLog creates a log holding at most capacity entries.
func NewProgressLog(capacity int) *ProgressLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &ProgressLog{capacity: capacity, next: 1}
}

// Progress records one event, evicting the oldest when full.
func (l *ProgressLog) Progress(address, phase string, final bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, LogEntry{
		Seq:     l.next,
		Address: address,
		Phase:   phase,
		Final:   final,
		Time:    time.Now(),
	})
	l.next++
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

// Since returns entries with Seq greater than seq, oldest first, and the
// sequence number to poll with next.
func (l *ProgressLog) Since(seq uint64) ([]LogEntry, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, 0)
	for _, e := range l.entries {
		if e.Seq > seq {
			result = append(result, e)
		}
	}
	return result, l.next - 1
}

// Len returns the number of entries held.
func (l *ProgressLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
