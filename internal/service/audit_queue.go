package service

import "github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"

// entryRing is a fixed-capacity FIFO of audit entries. Pushing into a
// full ring overwrites the oldest entry. Not safe for concurrent use.
type entryRing struct {
	buf  []audit.Entry
	head int
	size int
}

func newEntryRing(capacity int) *entryRing {
	return &entryRing{buf: make([]audit.Entry, capacity)}
}

// push appends e and reports whether the oldest entry was dropped.
func (r *entryRing) push(e audit.Entry) (dropped bool) {
	if len(r.buf) == 0 {
		return true
	}
	if r.size == len(r.buf) {
		r.buf[r.head] = e
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = e
	r.size++
	return false
}

// pop removes up to n entries from the front.
func (r *entryRing) pop(n int) []audit.Entry {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]audit.Entry, n)
	for i := range out {
		out[i] = r.buf[r.head]
		r.buf[r.head] = audit.Entry{}
		r.head = (r.head + 1) % len(r.buf)
	}
	r.size -= n
	return out
}

func (r *entryRing) len() int { return r.size }
