package collector

import (
	"sync"

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model"
)

// DefaultCapacity is the number of readings kept when none is configured.
const DefaultCapacity = 100

// Log is the bounded, most-recent-last sequence of ingested readings.
// One mutex guards every operation, including the commit callback of Append.
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []model.LogEntry
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity, entries: make([]model.LogEntry, 0, capacity)}
}

// Insert appends entry, evicting the oldest when full.
func (l *Log) Insert(entry model.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.insertLocked(entry)
}

// Append inserts entry and hands a copy of the resulting sequence to commit
// while still holding the lock, so concurrent appends commit in the same
// order they mutate. The insertion is kept even when commit fails.
func (l *Log) Append(entry model.LogEntry, commit func([]model.LogEntry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.insertLocked(entry)
	if commit == nil {
		return nil
	}
	return commit(l.copyLocked())
}

func (l *Log) insertLocked(entry model.LogEntry) {
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
}

// Seed replaces the content with the newest capacity entries of prior.
func (l *Log) Seed(prior []model.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(prior) > l.capacity {
		prior = prior[len(prior)-l.capacity:]
	}
	l.entries = append(l.entries[:0], prior...)
}

// Snapshot returns a copy in insertion order.
func (l *Log) Snapshot() []model.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyLocked()
}

func (l *Log) copyLocked() []model.LogEntry {
	out := make([]model.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Log) Capacity() int { return l.capacity }
