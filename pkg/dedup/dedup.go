// Package dedup filters QoS 1 redeliveries.
//
// A broker that did not see our PUBACK resends the packet with the DUP flag
// and the same packet id. Packet ids are recycled once acknowledged, so callers
// key deliveries by packet id and payload hash, and only a redelivery whose key
// was seen within the TTL is dropped.
package dedup

import (
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
	now  func() time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time, max), now: time.Now}
}

// ShouldProcess records id and reports whether the delivery is new.
// An empty id (QoS 0) is always processed.
func (d *Deduper) ShouldProcess(id string, redelivery bool) bool {
	if id == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; redelivery && ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		for k, v := range d.seen {
			if now.After(v) {
				delete(d.seen, k)
			}
			if len(d.seen) <= d.max {
				break
			}
		}
	}
	return true
}

// Len is the number of tracked ids, expired ones included.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
