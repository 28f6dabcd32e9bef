package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/urlblock"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

const tracerName = "github.com/Sentinel-Gate/sentinel-agent/service"

// DefaultDriftBuffer is the clock-skew tolerance of drift detection.
const DefaultDriftBuffer = 2 * time.Minute

// EventRecorder records general agent events.
type EventRecorder interface {
	RecordEvent(eventType audit.EventType, details string)
}

// SyncCoordinator keeps the local policy cache and the URL blocklist in
// line with the management service.
type SyncCoordinator struct {
	source    outbound.PolicySource
	heartbeat outbound.HeartbeatSender
	store     policy.Store
	blocker   outbound.HostsBlocker
	events    EventRecorder
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	driftBuffer time.Duration

	mu            sync.Mutex
	lastSync      time.Time
	lastHeartbeat time.Time
	lastError     string
	blocklist     []string
	fingerprint   uint64
	applied       bool
	exempt        map[string]struct{}

	// urlMu serializes blocklist rewrites.
	urlMu sync.Mutex
}

// SyncOption configures a SyncCoordinator.
type SyncOption func(*SyncCoordinator)

// WithHeartbeatSender enables SendHeartbeat.
func WithHeartbeatSender(h outbound.HeartbeatSender) SyncOption {
	return func(s *SyncCoordinator) {
		s.heartbeat = h
	}
}

// WithHostsBlocker sets where the URL blocklist is applied. Without one,
// the blocklist is computed but not applied.
func WithHostsBlocker(b outbound.HostsBlocker) SyncOption {
	return func(s *SyncCoordinator) {
		s.blocker = b
	}
}

// WithEventRecorder records a PolicyUpdated event after each successful sync.
func WithEventRecorder(r EventRecorder) SyncOption {
	return func(s *SyncCoordinator) {
		s.events = r
	}
}

// WithDriftBuffer sets the drift detection tolerance.
func WithDriftBuffer(d time.Duration) SyncOption {
	return func(s *SyncCoordinator) {
		if d >= 0 {
			s.driftBuffer = d
		}
	}
}

// WithSyncMetrics sets the metrics recorder.
func WithSyncMetrics(m *Metrics) SyncOption {
	return func(s *SyncCoordinator) {
		s.metrics = m
	}
}

// WithSyncClock sets the time source.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *SyncCoordinator) {
		s.now = now
	}
}

// NewSyncCoordinator creates a coordinator pulling from source into store.
func NewSyncCoordinator(source outbound.PolicySource, store policy.Store, logger *slog.Logger, opts ...SyncOption) *SyncCoordinator {
	s := &SyncCoordinator{
		source:      source,
		store:       store,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
		driftBuffer: DefaultDriftBuffer,
		exempt:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncPolicies replaces the local policy set with the one assigned by the
// management service. It returns false without touching the cache when
// the fetch fails or returns nothing, so the agent keeps enforcing its
// last-known policy.
func (s *SyncCoordinator) SyncPolicies(ctx context.Context) (updated bool, err error) {
	ctx, span := s.tracer.Start(ctx, "sync.policies")
	defer func() {
		endSpan(span, err)
		s.countSync("policy", err)
	}()

	s.logger.Debug("starting policy sync")
	policies, err := s.source.FetchPolicies(ctx)
	if err != nil {
		s.setLastError(err)
		s.logger.Warn("policy sync failed, keeping cached policies", "error", err)
		return false, fmt.Errorf("fetch policies: %w", err)
	}
	span.SetAttributes(attribute.Int("policies", len(policies)))

	if len(policies) == 0 {
		s.logger.Warn("no policies received from management service, keeping cached policies")
		return false, nil
	}

	if err := s.store.ReplaceAll(ctx, policies); err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		// The in-memory swap happened; only persistence failed.
		s.setLastError(err)
		s.logger.Error("failed to persist policy cache", "error", err)
	}

	s.mu.Lock()
	s.lastSync = s.now().UTC()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CachedPolicies.Set(float64(len(policies)))
	}
	if s.events != nil {
		s.events.RecordEvent(audit.EventPolicyUpdated, fmt.Sprintf("Policies synchronized: %d policies", len(policies)))
	}
	s.logger.Info("policy sync completed", "policies", len(policies))
	return true, nil
}

// DeriveBlocklist collects the criteria of every Block rule of type Url or
// Domain in active policies, normalized to sorted unique domains.
// Invalid criteria are returned separately.
func DeriveBlocklist(policies []policy.Policy) (domains []string, rejected []string) {
	var criteria []string
	for _, p := range policies {
		if !p.Active {
			continue
		}
		for _, r := range p.Rules {
			if r.Type.IsNetwork() && r.Action == policy.ActionBlock {
				criteria = append(criteria, r.Criteria)
			}
		}
	}
	return urlblock.Normalize(criteria)
}

// SyncURLPolicies derives the URL blocklist from the cached policies and
// applies it. An empty blocklist clears previously applied blocks. An
// unchanged blocklist is not rewritten.
func (s *SyncCoordinator) SyncURLPolicies(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "sync.urls")
	defer func() {
		endSpan(span, err)
		s.countSync("url", err)
	}()

	s.urlMu.Lock()
	defer s.urlMu.Unlock()

	domains, rejected := DeriveBlocklist(s.store.All())
	for _, r := range rejected {
		s.logger.Warn("skipping invalid URL rule criteria", "criteria", r)
	}
	domains = s.withoutExempt(domains)
	fp := fingerprint(domains)
	span.SetAttributes(attribute.Int("domains", len(domains)))

	s.mu.Lock()
	unchanged := s.applied && s.fingerprint == fp
	firstApply := !s.applied
	s.mu.Unlock()
	if unchanged {
		s.logger.Debug("URL blocklist unchanged", "domains", len(domains))
		return nil
	}
	if firstApply && s.alreadyApplied(domains) {
		s.logger.Debug("hosts file already carries the URL blocklist", "domains", len(domains))
		s.recordApplied(domains, fp)
		return nil
	}

	if s.blocker != nil {
		if len(domains) == 0 {
			err = s.blocker.Clear(ctx)
		} else {
			err = s.blocker.Block(ctx, domains)
		}
		if err != nil {
			s.setLastError(err)
			s.logger.Error("failed to apply URL blocklist", "error", err)
			return fmt.Errorf("apply URL blocklist: %w", err)
		}
	}

	s.recordApplied(domains, fp)
	if len(domains) == 0 {
		s.logger.Info("no URLs to block, cleared all blocks")
	} else {
		s.logger.Info("applied URL blocks", "domains", len(domains))
	}
	return nil
}

// SyncAll runs a policy sync followed by a URL sync. The URL sync runs
// even when the policy sync fails so the cached set is applied.
func (s *SyncCoordinator) SyncAll(ctx context.Context) error {
	_, perr := s.SyncPolicies(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	uerr := s.SyncURLPolicies(ctx)
	if perr != nil {
		return perr
	}
	return uerr
}

// SendHeartbeat reports liveness and resyncs when the answer shows drift.
// It returns whether a resync was triggered.
func (s *SyncCoordinator) SendHeartbeat(ctx context.Context, hb outbound.Heartbeat) (resynced bool, err error) {
	if s.heartbeat == nil {
		return false, fmt.Errorf("no heartbeat sender configured")
	}

	ctx, span := s.tracer.Start(ctx, "sync.heartbeat")
	s.mu.Lock()
	prev := s.lastHeartbeat
	if hb.LastError == "" {
		hb.LastError = s.lastError
	}
	s.mu.Unlock()
	if hb.Timestamp.IsZero() {
		hb.Timestamp = s.now().UTC()
	}

	res, err := s.heartbeat.Heartbeat(ctx, hb)
	endSpan(span, err)
	s.countSync("heartbeat", err)
	if err != nil {
		s.logger.Warn("heartbeat failed", "error", err)
		return false, fmt.Errorf("heartbeat: %w", err)
	}

	s.mu.Lock()
	s.lastHeartbeat = hb.Timestamp
	s.lastError = ""
	s.mu.Unlock()

	if !s.driftDetected(res, prev) {
		return false, nil
	}

	s.logger.Info("policy drift detected, resyncing",
		"policies_changed", res.PoliciesChanged,
		"last_policy_update", res.LastPolicyUpdate,
	)
	return true, s.SyncAll(ctx)
}

func (s *SyncCoordinator) driftDetected(res outbound.HeartbeatResult, prevHeartbeat time.Time) bool {
	if res.PoliciesChanged {
		return true
	}
	if res.LastPolicyUpdate == nil {
		return false
	}
	remote := *res.LastPolicyUpdate
	if !remote.After(LatestUpdate(s.store.Active())) {
		return false
	}
	return UpdatedSince(remote, prevHeartbeat, s.driftBuffer)
}

// LatestUpdate returns the newest UpdatedAt among active policies.
func LatestUpdate(policies []policy.Policy) time.Time {
	var latest time.Time
	for _, p := range policies {
		if p.Active && p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
		}
	}
	return latest
}

// UpdatedSince reports whether updatedAt is newer than lastHeartbeat
// minus buffer. A zero lastHeartbeat means no contact yet.
func UpdatedSince(updatedAt, lastHeartbeat time.Time, buffer time.Duration) bool {
	if lastHeartbeat.IsZero() {
		return !updatedAt.IsZero()
	}
	return updatedAt.After(lastHeartbeat.Add(-buffer))
}

// ExemptDomain removes domain from the applied blocklist, for example
// after an approved access request, and reapplies it.
func (s *SyncCoordinator) ExemptDomain(ctx context.Context, domain string) error {
	d := urlblock.ExtractDomain(domain)
	if d == "" {
		return fmt.Errorf("invalid domain %q", domain)
	}
	s.mu.Lock()
	s.exempt[d] = struct{}{}
	s.mu.Unlock()
	return s.SyncURLPolicies(ctx)
}

// IsDomainBlocked reports whether the domain of raw is in the applied
// blocklist.
func (s *SyncCoordinator) IsDomainBlocked(raw string) bool {
	d := urlblock.ExtractDomain(raw)
	if d == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocklist {
		if b == d {
			return true
		}
	}
	return false
}

// BlockedDomains returns the applied blocklist.
func (s *SyncCoordinator) BlockedDomains() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.blocklist...)
}

// LastSync returns when policies were last replaced from the service.
func (s *SyncCoordinator) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// LastHeartbeat returns when the last heartbeat succeeded.
func (s *SyncCoordinator) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// alreadyApplied reports whether the hosts file left by a previous run
// holds exactly domains, so a restart does not rewrite it.
func (s *SyncCoordinator) alreadyApplied(domains []string) bool {
	if s.blocker == nil {
		return false
	}
	current, err := s.blocker.Blocked()
	if err != nil {
		s.logger.Warn("failed to read applied URL blocks", "error", err)
		return false
	}
	return slices.Equal(current, domains)
}

func (s *SyncCoordinator) recordApplied(domains []string, fp uint64) {
	s.mu.Lock()
	s.blocklist = domains
	s.fingerprint = fp
	s.applied = true
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.BlockedDomains.Set(float64(len(domains)))
	}
}

func (s *SyncCoordinator) withoutExempt(domains []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.exempt) == 0 {
		return domains
	}
	out := domains[:0:0]
	for _, d := range domains {
		if _, ok := s.exempt[d]; !ok {
			out = append(out, d)
		}
	}
	return out
}

func (s *SyncCoordinator) setLastError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *SyncCoordinator) countSync(kind string, err error) {
	if s.metrics != nil {
		s.metrics.Syncs.WithLabelValues(kind, statusLabel(err)).Inc()
	}
}

func fingerprint(domains []string) uint64 {
	return xxhash.Sum64String(strings.Join(domains, "\n"))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
