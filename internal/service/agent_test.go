package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

var blockTools = policy.Policy{
	ID:       "p-corp",
	Name:     "Corp",
	Mode:     policy.ModeBlacklist,
	Active:   true,
	Priority: 10,
	Rules: []policy.Rule{
		{ID: "r-tool", Type: policy.RuleFileName, Criteria: "hacktool.exe", Action: policy.ActionBlock, Description: "block hacktool"},
	},
}

type agentFixture struct {
	gw       *fakeGateway
	term     *fakeTerminator
	reporter *AuditReporter
	agent    *Agent
}

func newAgentFixture(t *testing.T, cfg AgentConfig, opts ...AgentOption) *agentFixture {
	t.Helper()
	gw := newFakeGateway()
	term := &fakeTerminator{}
	enforcer := NewEnforcer(memory.NewPolicyStore(blockTools), policy.NewMatcher(nil), discardLogger(), WithTerminator(term))
	reporter := NewAuditReporter(gw, "agent-1", discardLogger())
	return &agentFixture{
		gw:       gw,
		term:     term,
		reporter: reporter,
		agent:    NewAgent(cfg, enforcer, reporter, discardLogger(), opts...),
	}
}

func (f *agentFixture) entries(t *testing.T) []audit.Entry {
	t.Helper()
	_, err := f.reporter.Drain(context.Background())
	require.NoError(t, err)
	return f.gw.submittedEntries()
}

func TestAgent_BlocksAndAudits(t *testing.T) {
	t.Parallel()

	f := newAgentFixture(t, AgentConfig{BlockProcesses: true})
	f.agent.Handle(context.Background(), policy.ProcessObservation{PID: 4321, Name: "hacktool.exe", User: "bob"})
	f.agent.Handle(context.Background(), policy.ProcessObservation{PID: 99, Name: "notepad.exe"})

	assert.Equal(t, []int{4321}, f.term.terminated())
	assert.Equal(t, 1, f.agent.BlockedLast24h())

	entries := f.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.EventInstallationBlocked, entries[0].Type)
	assert.Equal(t, "Policy 'Corp' - Rule: block hacktool", entries[0].Details)
	assert.Equal(t, "r-tool", entries[0].RuleID)
	assert.Equal(t, audit.EventInstallationAllowed, entries[1].Type)
}

func TestAgent_AuditOnlyMode(t *testing.T) {
	t.Parallel()

	f := newAgentFixture(t, AgentConfig{BlockProcesses: false})
	f.agent.Handle(context.Background(), policy.ProcessObservation{PID: 4321, Name: "hacktool.exe"})

	assert.Empty(t, f.term.terminated())
	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Blocked)
}

func TestAgent_InstallerDetection(t *testing.T) {
	t.Parallel()

	f := newAgentFixture(t, AgentConfig{})
	f.agent.Handle(context.Background(), policy.ProcessObservation{Name: "setup.exe", ExecutablePath: `C:\dl\setup.exe`})

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Details, "Installer detected. "))
}

func TestAgent_ApprovalOverridesBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newAgentFixture(t, AgentConfig{BlockProcesses: true})
	coord := NewAccessCoordinator(f.gw, discardLogger(), WithNotifier(&recordingNotifier{}))
	f.agent.access = coord

	obs := policy.ProcessObservation{PID: 55, Name: "hacktool.exe", ExecutablePath: `C:\tools\hacktool.exe`}
	f.gw.approve(ExecutableResource(obs), "approval-1")

	f.agent.Handle(context.Background(), obs)
	f.agent.requests.Wait()

	assert.Empty(t, f.term.terminated())
	assert.Zero(t, f.agent.BlockedLast24h())
	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Blocked)
	assert.Equal(t, "Access approved - Policy 'Corp' - Rule: block hacktool", entries[0].Details)
	assert.Zero(t, f.gw.createdCount())
}

func TestAgent_BlockStartsAccessRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newAgentFixture(t, AgentConfig{BlockProcesses: true})
	coord := NewAccessCoordinator(f.gw, discardLogger(), WithNotifier(&recordingNotifier{}))
	f.agent.access = coord

	var wg sync.WaitGroup
	wg.Add(1)
	var prompt access.Prompt
	go func() {
		defer wg.Done()
		prompt = <-coord.Prompts()
		prompt.Reply <- access.Reply{Justification: "pentest tooling"}
	}()

	f.agent.Handle(context.Background(), policy.ProcessObservation{PID: 55, Name: "hacktool.exe", User: "bob"})
	wg.Wait()
	f.agent.requests.Wait()

	assert.Equal(t, "Policy 'Corp' - Rule: block hacktool", prompt.Reason)
	require.Equal(t, 1, f.gw.createdCount())
	assert.Equal(t, "bob", f.gw.created[0].UserName)
	assert.Equal(t, "r-tool", f.gw.created[0].RuleID)
}

func TestAgent_FileFilter(t *testing.T) {
	t.Parallel()

	f := newAgentFixture(t, AgentConfig{})
	f.agent.Handle(context.Background(), policy.FileObservation{Path: "/tmp/notes.txt", Operation: policy.FileCreate})
	f.agent.Handle(context.Background(), policy.FileObservation{Path: "/tmp/payload.dll", Operation: policy.FileCreate})

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventProtectedFileWrite, entries[0].Type)
	assert.Equal(t, "Create: Monitored file operation", entries[0].Details)
}

func TestAgent_URLObservationRequestsAccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newAgentFixture(t, AgentConfig{})
	store := memory.NewPolicyStore(urlPolicy("u", true, "evil.com"))
	sc := NewSyncCoordinator(f.gw, store, discardLogger(), WithHostsBlocker(&fakeBlocker{}))
	require.NoError(t, sc.SyncURLPolicies(context.Background()))
	coord := NewAccessCoordinator(f.gw, discardLogger(), WithNotifier(&recordingNotifier{}))
	f.agent.sync = sc
	f.agent.access = coord

	done := make(chan access.Prompt, 1)
	go func() {
		p := <-coord.Prompts()
		p.Reply <- access.Reply{Declined: true}
		done <- p
	}()

	f.agent.Handle(context.Background(), policy.URLObservation{Raw: "https://www.evil.com/landing"})
	p := <-done
	f.agent.requests.Wait()

	assert.Equal(t, access.ResourceURL, p.Resource.Type)
	assert.Equal(t, "evil.com", p.Resource.Identifier)

	// Unblocked domains are ignored.
	f.agent.Handle(context.Background(), policy.URLObservation{Raw: "https://good.example.com"})
	f.agent.requests.Wait()
	assert.Zero(t, coord.Pending())
}

func TestAgent_URLApprovalUnblocksDomain(t *testing.T) {
	t.Parallel()

	store := memory.NewPolicyStore(urlPolicy("u", true, "evil.com", "bad.org"))
	blocker := &fakeBlocker{}
	sc := NewSyncCoordinator(newFakeGateway(), store, discardLogger(), WithHostsBlocker(blocker))
	require.NoError(t, sc.SyncURLPolicies(context.Background()))

	next := &recordingNotifier{}
	n := NewURLApprovalNotifier(next, sc, discardLogger())
	n.Approved(access.Resource{Type: access.ResourceURL, Identifier: "evil.com"}, nil)
	n.Approved(access.Resource{Type: access.ResourceExecutable, Identifier: "tool.exe"}, nil)

	assert.Equal(t, []string{"bad.org"}, sc.BlockedDomains())
	_, _, approved, _ := next.counts()
	assert.Equal(t, 2, approved)
}

func TestAgent_SubmitQueueFull(t *testing.T) {
	t.Parallel()

	f := newAgentFixture(t, AgentConfig{ObservationBuffer: 1})
	require.NoError(t, f.agent.Submit(policy.URLObservation{Raw: "a.com"}))
	assert.ErrorIs(t, f.agent.Submit(policy.URLObservation{Raw: "b.com"}), ErrObservationQueueFull)
	assert.Equal(t, 1, f.agent.QueueDepth())
}

func TestAgent_BlockedLast24hWindow(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	f := newAgentFixture(t, AgentConfig{}, WithAgentClock(clock.Now))
	f.agent.Handle(context.Background(), policy.ProcessObservation{Name: "hacktool.exe"})
	clock.Advance(23 * time.Hour)
	f.agent.Handle(context.Background(), policy.ProcessObservation{Name: "hacktool.exe"})
	assert.Equal(t, 2, f.agent.BlockedLast24h())

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, f.agent.BlockedLast24h())
}

func TestAgent_RunStandalone(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out bytes.Buffer
	sink := memory.NewAuditSink(&out)
	enforcer := NewEnforcer(memory.NewPolicyStore(blockTools), policy.NewMatcher(nil), discardLogger())
	reporter := NewAuditReporter(sink, "standalone", discardLogger(), WithFlushInterval(time.Hour))
	agent := NewAgent(AgentConfig{Version: "1.2.3"}, enforcer, reporter, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	require.NoError(t, agent.Submit(policy.ProcessObservation{Name: "hacktool.exe"}))
	require.Eventually(t, func() bool { return reporter.Len() >= 2 && agent.QueueDepth() == 0 },
		time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	recent := sink.Recent(10)
	require.Len(t, recent, 3)
	// Recent is newest first.
	assert.Equal(t, audit.EventAgentStopped, recent[0].Type)
	assert.Equal(t, audit.EventInstallationBlocked, recent[1].Type)
	assert.Equal(t, audit.EventAgentStarted, recent[2].Type)
	assert.Equal(t, "Agent started, version 1.2.3", recent[2].Details)

	lines := 0
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var v map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestAgent_RunSyncsOnStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	gw := newFakeGateway()
	gw.policies = []policy.Policy{blockTools}
	store := memory.NewPolicyStore()
	reporter := NewAuditReporter(gw, "agent-1", discardLogger(), WithFlushInterval(time.Hour))
	sc := NewSyncCoordinator(gw, store, discardLogger(), WithHeartbeatSender(gw), WithEventRecorder(reporter))
	enforcer := NewEnforcer(store, policy.NewMatcher(nil), discardLogger())
	agent := NewAgent(AgentConfig{HeartbeatInterval: 10 * time.Millisecond}, enforcer, reporter, discardLogger(), WithSync(sc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.heartbeats) > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, store.All(), 1)
	var types []audit.EventType
	for _, e := range gw.submittedEntries() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []audit.EventType{audit.EventAgentStarted, audit.EventPolicyUpdated, audit.EventAgentStopped}, types)
}
