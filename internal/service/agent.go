package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/classify"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/urlblock"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

// ErrObservationQueueFull is returned by Submit when the agent cannot
// accept more observations.
var ErrObservationQueueFull = errors.New("observation queue full")

// ReasonAccessApproved prefixes the reason of a Block overridden by an
// approved access request.
const ReasonAccessApproved = "Access approved"

// AgentConfig holds the runtime settings of an Agent.
type AgentConfig struct {
	Version            string
	PolicyInterval     time.Duration
	URLInterval        time.Duration
	HeartbeatInterval  time.Duration
	AccessPollInterval time.Duration
	// BlockProcesses terminates processes with a Block decision. When
	// false, decisions are audited only.
	BlockProcesses bool
	// ObservationBuffer is the capacity of the observation channel.
	ObservationBuffer int
}

func (c *AgentConfig) setDefaults() {
	if c.PolicyInterval <= 0 {
		c.PolicyInterval = 5 * time.Minute
	}
	if c.URLInterval <= 0 {
		c.URLInterval = 10 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Minute
	}
	if c.AccessPollInterval <= 0 {
		c.AccessPollInterval = 30 * time.Second
	}
	if c.ObservationBuffer <= 0 {
		c.ObservationBuffer = 1024
	}
}

// Agent wires enforcement, auditing, synchronization and the access
// workflow into one runtime. Observations arrive on a channel and are
// handled by a single consumer.
type Agent struct {
	cfg      AgentConfig
	enforcer *Enforcer
	reporter *AuditReporter
	sync     *SyncCoordinator
	access   *AccessCoordinator
	logger   *slog.Logger
	now      func() time.Time

	observations chan policy.Observation
	requests     sync.WaitGroup

	mu      sync.Mutex
	blocked []time.Time
	running bool
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithSync enables policy sync, URL sync and heartbeats.
func WithSync(s *SyncCoordinator) AgentOption {
	return func(a *Agent) {
		a.sync = s
	}
}

// WithAccess enables approval overrides and access requests.
func WithAccess(c *AccessCoordinator) AgentOption {
	return func(a *Agent) {
		a.access = c
	}
}

// WithAgentClock sets the time source.
func WithAgentClock(now func() time.Time) AgentOption {
	return func(a *Agent) {
		a.now = now
	}
}

// NewAgent creates an agent. Without WithSync the agent runs standalone on
// its cached policies.
func NewAgent(cfg AgentConfig, enforcer *Enforcer, reporter *AuditReporter, logger *slog.Logger, opts ...AgentOption) *Agent {
	cfg.setDefaults()
	a := &Agent{
		cfg:      cfg,
		enforcer: enforcer,
		reporter: reporter,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.observations = make(chan policy.Observation, cfg.ObservationBuffer)
	return a
}

// Submit hands an observation to the agent without blocking.
func (a *Agent) Submit(obs policy.Observation) error {
	select {
	case a.observations <- obs:
		return nil
	default:
		return ErrObservationQueueFull
	}
}

// Run starts all loops and blocks until ctx is canceled. Before returning
// it drains the audit queue, records AgentStopped and drains again.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("agent already running")
	}
	a.running = true
	a.mu.Unlock()

	a.reporter.RecordEvent(audit.EventAgentStarted, "Agent started, version "+a.cfg.Version)
	a.logger.Info("agent starting", "version", a.cfg.Version, "standalone", a.sync == nil)

	if a.sync != nil {
		if err := a.sync.SyncAll(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("initial sync failed, enforcing cached policies", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.reporter.Run(gctx) })
	g.Go(func() error { return a.consume(gctx) })

	if a.sync != nil {
		g.Go(func() error {
			return every(gctx, a.cfg.PolicyInterval, func(ctx context.Context) {
				if updated, err := a.sync.SyncPolicies(ctx); err == nil && updated {
					_ = a.sync.SyncURLPolicies(ctx)
				}
			})
		})
		g.Go(func() error {
			return every(gctx, a.cfg.URLInterval, func(ctx context.Context) {
				_ = a.sync.SyncURLPolicies(ctx)
			})
		})
		g.Go(func() error {
			return every(gctx, a.cfg.HeartbeatInterval, a.sendHeartbeat)
		})
	}
	if a.access != nil {
		g.Go(func() error {
			return every(gctx, a.cfg.AccessPollInterval, func(ctx context.Context) {
				if err := a.access.CheckForUpdates(ctx); err != nil && ctx.Err() == nil {
					a.logger.Warn("access request poll failed", "error", err)
				}
			})
		})
	}

	err := g.Wait()
	a.requests.Wait()

	a.logger.Info("agent stopping, flushing audit entries", "pending", a.reporter.Len())
	a.reporter.Shutdown()
	a.reporter.RecordEvent(audit.EventAgentStopped, "Agent stopped")
	a.reporter.Shutdown()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// every runs fn on each tick until ctx is canceled.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (a *Agent) sendHeartbeat(ctx context.Context) {
	hb := outbound.Heartbeat{
		Status:               outbound.StatusOnline,
		AgentVersion:         a.cfg.Version,
		Timestamp:            a.now().UTC(),
		BlockedEventsLast24h: a.BlockedLast24h(),
	}
	if _, err := a.sync.SendHeartbeat(ctx, hb); err != nil && ctx.Err() == nil {
		a.logger.Debug("heartbeat cycle failed", "error", err)
	}
}

func (a *Agent) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case obs := <-a.observations:
			a.Handle(ctx, obs)
		}
	}
}

// Handle processes one observation synchronously.
func (a *Agent) Handle(ctx context.Context, obs policy.Observation) {
	switch o := obs.(type) {
	case policy.ProcessObservation:
		a.handleProcess(ctx, o)
	case policy.FileObservation:
		a.handleFile(o)
	case policy.URLObservation:
		a.handleURL(ctx, o)
	default:
		a.logger.Warn("unknown observation kind", "kind", obs.Kind())
	}
}

func (a *Agent) handleProcess(ctx context.Context, obs policy.ProcessObservation) {
	if obs.DetectedAt.IsZero() {
		obs.DetectedAt = a.now().UTC()
	}
	if !obs.IsInstaller {
		obs.IsInstaller = classify.IsInstaller(obs.Name, obs.ExecutablePath, obs.CommandLine)
	}

	d := a.enforcer.EvaluateProcess(obs)
	res := ExecutableResource(obs)

	if d.ShouldBlock && a.access != nil && a.access.IsApproved(ctx, res) {
		d.ShouldBlock = false
		d.Reason = ReasonAccessApproved + " - " + d.Reason
	}

	if d.ShouldBlock {
		a.noteBlocked()
		if a.cfg.BlockProcesses {
			// Failure is logged by the enforcer; the audit entry stands.
			_ = a.enforcer.BlockProcess(obs)
		}
	}
	a.reporter.RecordProcessDecision(obs, d)

	if d.ShouldBlock && a.access != nil {
		a.requestAccess(ctx, AccessInput{
			Resource: res,
			UserName: obs.User,
			PolicyID: d.PolicyID,
			RuleID:   d.RuleID,
			Reason:   d.Reason,
		})
	}
}

func (a *Agent) handleFile(obs policy.FileObservation) {
	if !classify.IsMonitoredFile(obs.Path) {
		return
	}
	d := a.enforcer.EvaluateFile(obs)
	a.reporter.RecordFileOperation(obs, d)
}

func (a *Agent) handleURL(ctx context.Context, obs policy.URLObservation) {
	if a.sync == nil || a.access == nil || !a.sync.IsDomainBlocked(obs.Raw) {
		return
	}
	domain := urlblock.ExtractDomain(obs.Raw)
	a.requestAccess(ctx, AccessInput{
		Resource: access.Resource{Type: access.ResourceURL, Identifier: domain, Name: domain},
		Reason:   "Domain is blocked by policy",
	})
}

// requestAccess runs the access workflow in the background so the
// observation consumer is not held up by the justification prompt.
func (a *Agent) requestAccess(ctx context.Context, in AccessInput) {
	a.requests.Add(1)
	go func() {
		defer a.requests.Done()
		_, err := a.access.RequestAccess(ctx, in)
		if err != nil && !errors.Is(err, access.ErrDuplicateRequest) && ctx.Err() == nil {
			a.logger.Debug("access request not submitted", "resource", in.Resource.Key(), "error", err)
		}
	}()
}

func (a *Agent) noteBlocked() {
	now := a.now()
	a.mu.Lock()
	a.blocked = append(pruneBefore(a.blocked, now.Add(-24*time.Hour)), now)
	a.mu.Unlock()
}

// BlockedLast24h returns the number of Block decisions in the last 24 hours.
func (a *Agent) BlockedLast24h() int {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked = pruneBefore(a.blocked, now.Add(-24*time.Hour))
	return len(a.blocked)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// QueueDepth returns the number of observations waiting to be handled.
func (a *Agent) QueueDepth() int {
	return len(a.observations)
}

// URLApprovalNotifier exempts approved domains from the URL blocklist
// and forwards every outcome to the next notifier.
type URLApprovalNotifier struct {
	next    access.Notifier
	sync    *SyncCoordinator
	logger  *slog.Logger
	timeout time.Duration
}

// NewURLApprovalNotifier wraps next.
func NewURLApprovalNotifier(next access.Notifier, sc *SyncCoordinator, logger *slog.Logger) *URLApprovalNotifier {
	return &URLApprovalNotifier{next: next, sync: sc, logger: logger, timeout: 30 * time.Second}
}

// Submitted implements access.Notifier.
func (n *URLApprovalNotifier) Submitted(req access.Request) { n.next.Submitted(req) }

// Failed implements access.Notifier.
func (n *URLApprovalNotifier) Failed(res access.Resource, err error) { n.next.Failed(res, err) }

// Denied implements access.Notifier.
func (n *URLApprovalNotifier) Denied(res access.Resource, reason string) { n.next.Denied(res, reason) }

// Approved implements access.Notifier.
func (n *URLApprovalNotifier) Approved(res access.Resource, expiresAt *time.Time) {
	if res.Type == access.ResourceURL {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := n.sync.ExemptDomain(ctx, res.Identifier); err != nil {
			n.logger.Error("failed to unblock approved domain", "domain", res.Identifier, "error", err)
		}
		cancel()
	}
	n.next.Approved(res, expiresAt)
}

var _ access.Notifier = (*URLApprovalNotifier)(nil)
