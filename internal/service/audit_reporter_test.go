package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

func entryIDs(entries []audit.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func TestAuditReporter_DropsOldest(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	r := NewAuditReporter(gw, "agent-1", discardLogger(), WithQueueCapacity(3))

	for i := 1; i <= 4; i++ {
		r.Record(audit.Entry{ID: fmt.Sprintf("e%d", i)})
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, int64(1), r.Dropped())

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"e2", "e3", "e4"}, entryIDs(gw.submittedEntries()))
}

func TestAuditReporter_FailedFlushRequeues(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.setSubmitErr(errBoom)
	r := NewAuditReporter(gw, "agent-1", discardLogger(), WithBatchSize(2))

	for i := 1; i <= 3; i++ {
		r.Record(audit.Entry{ID: fmt.Sprintf("e%d", i)})
	}

	n, err := r.Flush(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Zero(t, n)
	assert.Equal(t, 3, r.Len(), "queue length must be unchanged after a failed flush")

	gw.setSubmitErr(nil)
	total, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	// The failed batch went back to the tail.
	assert.Equal(t, []string{"e3", "e1", "e2"}, entryIDs(gw.submittedEntries()))
	assert.Zero(t, r.Len())
}

func TestAuditReporter_CanceledFlushDequeuesNothing(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	r := NewAuditReporter(gw, "agent-1", discardLogger())
	r.Record(audit.Entry{ID: "e1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Flush(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, r.Len())
	assert.Empty(t, gw.submittedEntries())
}

func TestAuditReporter_BatchSize(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	r := NewAuditReporter(gw, "agent-1", discardLogger(), WithBatchSize(2))
	for i := 0; i < 5; i++ {
		r.Record(audit.Entry{})
	}

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, r.Len())

	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, gw.batches, 3)
}

func TestAuditReporter_RecordHelpers(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	gw := newFakeGateway()
	r := NewAuditReporter(gw, "agent-1", discardLogger(), WithReporterClock(clock.Now))

	r.RecordProcessDecision(
		policy.ProcessObservation{Name: "setup.exe", ExecutablePath: `C:\dl\setup.exe`, User: "alice", IsInstaller: true},
		policy.Decision{ShouldBlock: true, PolicyID: "p", RuleID: "r", Reason: "Policy 'X' - Rule: y"},
	)
	r.RecordProcessDecision(policy.ProcessObservation{Name: "ok.exe"}, policy.Allow(ReasonBlacklistDefault))
	r.RecordFileOperation(
		policy.FileObservation{Path: "/srv/app/lib.so", Operation: policy.FileModify},
		policy.Allow(ReasonFileMonitored),
	)
	r.RecordEvent(audit.EventAgentStarted, "started")

	_, err := r.Drain(context.Background())
	require.NoError(t, err)
	entries := gw.submittedEntries()
	require.Len(t, entries, 4)

	seen := map[string]bool{}
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, seen[e.ID], "duplicate ID %s", e.ID)
		seen[e.ID] = true
		assert.Equal(t, "agent-1", e.AgentID)
		assert.Equal(t, clock.Now(), e.Timestamp)
	}

	assert.Equal(t, audit.EventInstallationBlocked, entries[0].Type)
	assert.True(t, entries[0].Blocked)
	assert.Equal(t, "alice", entries[0].UserName)
	assert.Equal(t, "Installer detected. Policy 'X' - Rule: y", entries[0].Details)
	assert.Equal(t, audit.EventInstallationAllowed, entries[1].Type)
	assert.Equal(t, audit.EventProtectedFileWrite, entries[2].Type)
	assert.Equal(t, "Modify: Monitored file operation", entries[2].Details)
	assert.Equal(t, "lib.so", entries[2].ProcessName)
	assert.Equal(t, audit.EventAgentStarted, entries[3].Type)
}

func TestAuditReporter_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r := NewAuditReporter(newFakeGateway(), "a", discardLogger(),
		WithQueueCapacity(2), WithReporterMetrics(metrics))

	for i := 0; i < 3; i++ {
		r.Record(audit.Entry{})
	}

	var depth dto.Metric
	require.NoError(t, metrics.AuditQueueDepth.Write(&depth))
	assert.Equal(t, float64(2), depth.GetGauge().GetValue())

	var drops dto.Metric
	require.NoError(t, metrics.AuditDropsTotal.Write(&drops))
	assert.Equal(t, float64(1), drops.GetCounter().GetValue())
}

func TestAuditReporter_RunAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	gw := newFakeGateway()
	r := NewAuditReporter(gw, "agent-1", discardLogger(),
		WithFlushInterval(10*time.Millisecond),
		WithShutdownTimeout(time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Record(audit.Entry{ID: "periodic"})
	require.Eventually(t, func() bool { return len(gw.submittedEntries()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	r.Record(audit.Entry{ID: "late"})
	r.Shutdown()
	assert.Equal(t, []string{"periodic", "late"}, entryIDs(gw.submittedEntries()))
}
