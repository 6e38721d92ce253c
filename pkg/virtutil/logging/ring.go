package logging

import "sync"

// DefaultRingSize is the number of records kept for the progress view.
const DefaultRingSize = 200

// Ring keeps the most recent records in insertion order.
type Ring struct {
	mu   sync.RWMutex
	buf  []Entry
	next int
	full bool
}

// NewRing returns a Ring holding at most size records.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]Entry, size)}
}

// Add stores e, evicting the oldest record when full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Len reports how many records are held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Tail returns up to n of the newest records, oldest first.
func (r *Ring) Tail(n int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.full {
		count = len(r.buf)
	}
	if n > count || n < 0 {
		n = count
	}

	out := make([]Entry, n)
	start := r.next - n
	for i := range out {
		out[i] = r.buf[(start+i+len(r.buf))%len(r.buf)]
	}
	return out
}
