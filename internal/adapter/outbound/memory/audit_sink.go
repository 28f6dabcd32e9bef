// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditSink implements audit.Sink by writing entries as JSON lines to a
// writer. It also keeps a bounded ring buffer of recent entries.
type AuditSink struct {
	encoder *json.Encoder
	mu      sync.Mutex
	recent  []audit.Entry
	cap     int
}

// NewAuditSink creates a sink writing to w. A nil writer only records.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAuditSink(w io.Writer, capacity ...int) *AuditSink {
	cap := defaultRecentCap
	if len(capacity) > 0 && capacity[0] > 0 {
		cap = capacity[0]
	}
	s := &AuditSink{
		recent: make([]audit.Entry, 0, cap),
		cap:    cap,
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Submit writes the batch. Entries are written in order; the first
// encoding error aborts the batch.
func (s *AuditSink) Submit(ctx context.Context, entries []audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder != nil {
		for _, e := range entries {
			if err := s.encoder.Encode(e); err != nil {
				return err
			}
		}
	}

	for _, e := range entries {
		if len(s.recent) >= s.cap {
			// Shift left by one (drop oldest).
			copy(s.recent, s.recent[1:])
			s.recent = s.recent[:len(s.recent)-1]
		}
		s.recent = append(s.recent, e)
	}
	return nil
}

// Recent returns up to limit of the most recent entries, newest first.
func (s *AuditSink) Recent(limit int) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]audit.Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.recent[n-1-i]
	}
	return out
}

var _ audit.Sink = (*AuditSink)(nil)
