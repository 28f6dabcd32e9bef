package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// AuditReporter queues audit entries in memory and ships them in batches.
// Producers never block: when the queue is full the oldest entry is
// dropped. A failed batch is re-enqueued at the tail, so delivery is
// at-least-once and the receiver deduplicates by entry ID.
type AuditReporter struct {
	sink    audit.Sink
	agentID string
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	capacity        int
	batchSize       int
	flushInterval   time.Duration
	shutdownTimeout time.Duration

	mu    sync.Mutex
	queue *entryRing

	// flushMu keeps a single consumer.
	flushMu   sync.Mutex
	dropCount atomic.Int64
}

// ReporterOption configures AuditReporter.
type ReporterOption func(*AuditReporter)

// WithQueueCapacity sets the maximum number of queued entries.
func WithQueueCapacity(n int) ReporterOption {
	return func(r *AuditReporter) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithBatchSize sets the number of entries submitted per flush.
func WithBatchSize(n int) ReporterOption {
	return func(r *AuditReporter) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFlushInterval sets the interval between periodic flushes.
func WithFlushInterval(d time.Duration) ReporterOption {
	return func(r *AuditReporter) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithShutdownTimeout bounds the final flush when Run exits.
func WithShutdownTimeout(d time.Duration) ReporterOption {
	return func(r *AuditReporter) {
		if d > 0 {
			r.shutdownTimeout = d
		}
	}
}

// WithReporterMetrics sets the metrics recorder.
func WithReporterMetrics(m *Metrics) ReporterOption {
	return func(r *AuditReporter) {
		r.metrics = m
	}
}

// WithReporterClock sets the time source for entry timestamps.
func WithReporterClock(now func() time.Time) ReporterOption {
	return func(r *AuditReporter) {
		r.now = now
	}
}

// NewAuditReporter creates a reporter delivering to sink on behalf of agentID.
func NewAuditReporter(sink audit.Sink, agentID string, logger *slog.Logger, opts ...ReporterOption) *AuditReporter {
	r := &AuditReporter{
		sink:            sink,
		agentID:         agentID,
		logger:          logger,
		now:             time.Now,
		capacity:        10000,
		batchSize:       100,
		flushInterval:   30 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queue = newEntryRing(r.capacity)
	return r
}

// Record enqueues an entry. Missing ID, agent ID and timestamp are filled in.
func (r *AuditReporter) Record(e audit.Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.AgentID == "" {
		e.AgentID = r.agentID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}

	r.mu.Lock()
	dropped := r.queue.push(e)
	depth := r.queue.len()
	r.mu.Unlock()

	if dropped {
		r.recordDrop()
	}
	r.setDepth(depth)
	r.logger.Debug("audit entry queued", "type", e.Type.String())
}

// RecordProcessDecision records the outcome of a process evaluation.
func (r *AuditReporter) RecordProcessDecision(obs policy.ProcessObservation, d policy.Decision) {
	eventType := audit.EventInstallationAllowed
	if d.ShouldBlock {
		eventType = audit.EventInstallationBlocked
	}
	details := d.Reason
	if obs.IsInstaller {
		details = "Installer detected. " + details
	}
	r.Record(audit.Entry{
		Type:        eventType,
		Blocked:     d.ShouldBlock,
		ProcessName: obs.Name,
		ProcessPath: obs.ExecutablePath,
		FileHash:    obs.FileHash,
		Publisher:   obs.Publisher,
		UserName:    obs.User,
		PolicyID:    d.PolicyID,
		RuleID:      d.RuleID,
		Details:     details,
	})
}

// RecordFileOperation records a monitored file operation.
func (r *AuditReporter) RecordFileOperation(obs policy.FileObservation, d policy.Decision) {
	r.Record(audit.Entry{
		Type:        audit.EventProtectedFileWrite,
		Blocked:     d.ShouldBlock,
		ProcessName: obs.Name(),
		ProcessPath: obs.Path,
		Details:     fmt.Sprintf("%s: %s", obs.Operation, d.Reason),
	})
}

// RecordEvent records a general agent event.
func (r *AuditReporter) RecordEvent(eventType audit.EventType, details string) {
	r.Record(audit.Entry{
		Type:    eventType,
		Details: details,
	})
}

// Flush submits up to one batch and returns the number of entries
// delivered. A context canceled before the call dequeues nothing. On a
// failed submission the batch goes back to the tail of the queue.
func (r *AuditReporter) Flush(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.queue.pop(r.batchSize)
	r.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}

	err := r.sink.Submit(ctx, batch)
	if r.metrics != nil {
		r.metrics.AuditFlushes.WithLabelValues(statusLabel(err)).Inc()
	}
	if err != nil {
		r.requeue(batch)
		r.logger.Warn("failed to submit audit entries, re-queued for retry",
			"count", len(batch),
			"error", err,
		)
		return 0, err
	}

	r.logger.Debug("audit entries flushed", "count", len(batch))
	r.setDepth(r.Len())
	return len(batch), nil
}

// Drain flushes batches until the queue is empty or a submission fails.
func (r *AuditReporter) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.Flush(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

func (r *AuditReporter) requeue(batch []audit.Entry) {
	r.mu.Lock()
	drops := 0
	for _, e := range batch {
		if r.queue.push(e) {
			drops++
		}
	}
	depth := r.queue.len()
	r.mu.Unlock()

	for i := 0; i < drops; i++ {
		r.recordDrop()
	}
	r.setDepth(depth)
}

// Run flushes on every interval until ctx is canceled. Callers drain the
// remaining entries with Shutdown after Run returns.
func (r *AuditReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.Debug("periodic audit flush incomplete", "pending", r.Len())
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Shutdown drains the queue synchronously with a fresh deadline bounded
// by the shutdown timeout.
func (r *AuditReporter) Shutdown() {
	flushCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()
	n, err := r.Drain(flushCtx)
	if err != nil {
		r.logger.Error("final audit flush failed",
			"flushed", n,
			"pending", r.Len(),
			"error", err,
		)
		return
	}
	r.logger.Info("final audit flush complete", "flushed", n)
}

// Len returns the number of queued entries.
func (r *AuditReporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.len()
}

// Capacity returns the queue capacity.
func (r *AuditReporter) Capacity() int {
	return r.capacity
}

// Dropped returns the total number of entries dropped for capacity.
func (r *AuditReporter) Dropped() int64 {
	return r.dropCount.Load()
}

func (r *AuditReporter) recordDrop() {
	drops := r.dropCount.Add(1)
	if r.metrics != nil {
		r.metrics.AuditDropsTotal.Inc()
	}
	// Log the first drop and then every thousandth.
	if drops == 1 || drops%1000 == 0 {
		r.logger.Warn("audit queue full, dropping oldest entry", "total_drops", drops)
	}
}

func (r *AuditReporter) setDepth(depth int) {
	if r.metrics != nil {
		r.metrics.AuditQueueDepth.Set(float64(depth))
	}
}
