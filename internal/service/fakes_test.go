package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway is an in-memory management service.
type fakeGateway struct {
	mu sync.Mutex

	policies   []policy.Policy
	fetchErr   error
	fetchCalls int

	hbResult   outbound.HeartbeatResult
	hbErr      error
	heartbeats []outbound.Heartbeat

	submitErr error
	batches   [][]audit.Entry

	approvals   map[string]access.Approval
	approvalErr error
	createErr   error
	created     []access.Request
	pending     []access.Request
	requests    map[string]access.Request
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		approvals: make(map[string]access.Approval),
		requests:  make(map[string]access.Request),
	}
}

func (g *fakeGateway) FetchPolicies(ctx context.Context) ([]policy.Policy, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return policy.CloneAll(g.policies), nil
}

func (g *fakeGateway) Heartbeat(ctx context.Context, hb outbound.Heartbeat) (outbound.HeartbeatResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heartbeats = append(g.heartbeats, hb)
	return g.hbResult, g.hbErr
}

func (g *fakeGateway) Submit(ctx context.Context, entries []audit.Entry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return g.submitErr
	}
	g.batches = append(g.batches, append([]audit.Entry(nil), entries...))
	return nil
}

func (g *fakeGateway) CreateAccessRequest(ctx context.Context, req access.Request) (access.Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return access.Request{}, g.createErr
	}
	req.ID = fmt.Sprintf("req-%d", len(g.created)+1)
	g.created = append(g.created, req)
	g.pending = append(g.pending, req)
	g.requests[req.ID] = req
	return req, nil
}

func (g *fakeGateway) CheckApproval(ctx context.Context, res access.Resource) (access.Approval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.approvalErr != nil {
		return access.Approval{}, g.approvalErr
	}
	return g.approvals[res.Key()], nil
}

func (g *fakeGateway) PendingRequests(ctx context.Context) ([]access.Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]access.Request(nil), g.pending...), nil
}

func (g *fakeGateway) GetAccessRequest(ctx context.Context, id string) (access.Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.requests[id]
	if !ok {
		return access.Request{}, errors.New("not found")
	}
	return req, nil
}

// resolve moves a request out of the pending list with the given status.
func (g *fakeGateway) resolve(id string, status access.Status, comments string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req := g.requests[id]
	req.Status = status
	req.Comments = comments
	g.requests[id] = req
	kept := g.pending[:0]
	for _, p := range g.pending {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	g.pending = kept
}

func (g *fakeGateway) approve(res access.Resource, approvalID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approvals[res.Key()] = access.Approval{Approved: true, ID: approvalID}
}

func (g *fakeGateway) createdCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

func (g *fakeGateway) submittedEntries() []audit.Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []audit.Entry
	for _, b := range g.batches {
		out = append(out, b...)
	}
	return out
}

func (g *fakeGateway) setSubmitErr(err error) {
	g.mu.Lock()
	g.submitErr = err
	g.mu.Unlock()
}

// fakeBlocker records hosts-file operations.
type fakeBlocker struct {
	mu      sync.Mutex
	blocks  [][]string
	clears  int
	current []string
	err     error
}

func (b *fakeBlocker) Block(ctx context.Context, domains []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.blocks = append(b.blocks, append([]string(nil), domains...))
	b.current = append([]string(nil), domains...)
	return nil
}

func (b *fakeBlocker) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.clears++
	b.current = nil
	return nil
}

func (b *fakeBlocker) Blocked() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.current...), nil
}

// fakeTerminator records terminated PIDs and the executables they were
// expected to run.
type fakeTerminator struct {
	mu    sync.Mutex
	pids  []int
	paths []string
	err   error
}

func (f *fakeTerminator) Terminate(pid int, executablePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pids = append(f.pids, pid)
	f.paths = append(f.paths, executablePath)
	return f.err
}

func (f *fakeTerminator) executables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeTerminator) terminated() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pids...)
}

// recordingNotifier captures access workflow outcomes.
type recordingNotifier struct {
	mu        sync.Mutex
	submitted []access.Request
	failed    []error
	approved  []access.Resource
	denied    []string
}

func (n *recordingNotifier) Submitted(req access.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, req)
}

func (n *recordingNotifier) Failed(res access.Resource, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, err)
}

func (n *recordingNotifier) Approved(res access.Resource, expiresAt *time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved = append(n.approved, res)
}

func (n *recordingNotifier) Denied(res access.Resource, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.denied = append(n.denied, reason)
}

func (n *recordingNotifier) counts() (submitted, failed, approved, denied int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.submitted), len(n.failed), len(n.approved), len(n.denied)
}

// eventLog implements EventRecorder.
type eventLog struct {
	mu     sync.Mutex
	events []audit.EventType
}

func (l *eventLog) RecordEvent(t audit.EventType, details string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, t)
}

func (l *eventLog) types() []audit.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]audit.EventType(nil), l.events...)
}

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	_ outbound.PolicySource    = (*fakeGateway)(nil)
	_ outbound.HeartbeatSender = (*fakeGateway)(nil)
	_ outbound.AccessGateway   = (*fakeGateway)(nil)
	_ audit.Sink               = (*fakeGateway)(nil)
	_ outbound.HostsBlocker    = (*fakeBlocker)(nil)
)
