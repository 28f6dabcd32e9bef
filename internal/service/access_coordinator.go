package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

// Access workflow defaults.
const (
	DefaultDedupWindow          = 5 * time.Minute
	DefaultJustificationTimeout = 2 * time.Minute
)

// AccessInput describes a blocked resource a user wants access to.
type AccessInput struct {
	Resource access.Resource
	UserName string
	PolicyID string
	RuleID   string
	// Reason is shown to the user with the justification prompt.
	Reason string
}

type pendingRequest struct {
	resource   access.Resource
	reservedAt time.Time
	// requestID is set once the request was accepted by the service.
	requestID string
}

// AccessCoordinator runs the request/approval round trip for blocked
// resources. Justification is collected from a presentation layer over
// the Prompts channel.
type AccessCoordinator struct {
	gateway  outbound.AccessGateway
	notifier access.Notifier
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time

	dedupWindow   time.Duration
	promptTimeout time.Duration

	prompts chan access.Prompt

	mu        sync.Mutex
	pending   map[string]*pendingRequest
	processed map[string]struct{}
}

// AccessOption configures an AccessCoordinator.
type AccessOption func(*AccessCoordinator)

// WithDedupWindow sets how long a request suppresses another one for the
// same resource.
func WithDedupWindow(d time.Duration) AccessOption {
	return func(c *AccessCoordinator) {
		if d > 0 {
			c.dedupWindow = d
		}
	}
}

// WithJustificationTimeout bounds the wait for a prompt reply.
func WithJustificationTimeout(d time.Duration) AccessOption {
	return func(c *AccessCoordinator) {
		if d > 0 {
			c.promptTimeout = d
		}
	}
}

// WithNotifier sets where outcomes are presented.
func WithNotifier(n access.Notifier) AccessOption {
	return func(c *AccessCoordinator) {
		c.notifier = n
	}
}

// WithAccessMetrics sets the metrics recorder.
func WithAccessMetrics(m *Metrics) AccessOption {
	return func(c *AccessCoordinator) {
		c.metrics = m
	}
}

// WithAccessClock sets the time source.
func WithAccessClock(now func() time.Time) AccessOption {
	return func(c *AccessCoordinator) {
		c.now = now
	}
}

// NewAccessCoordinator creates a coordinator. Without a notifier, outcomes
// are only logged.
func NewAccessCoordinator(gateway outbound.AccessGateway, logger *slog.Logger, opts ...AccessOption) *AccessCoordinator {
	c := &AccessCoordinator{
		gateway:       gateway,
		logger:        logger,
		now:           time.Now,
		dedupWindow:   DefaultDedupWindow,
		promptTimeout: DefaultJustificationTimeout,
		prompts:       make(chan access.Prompt),
		pending:       make(map[string]*pendingRequest),
		processed:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = &LogNotifier{Logger: logger}
	}
	return c
}

// Prompts delivers justification prompts. The receiver must answer each
// prompt on its Reply channel before its Deadline.
func (c *AccessCoordinator) Prompts() <-chan access.Prompt {
	return c.prompts
}

// CheckApproval asks the service whether res has an active approval.
func (c *AccessCoordinator) CheckApproval(ctx context.Context, res access.Resource) (access.Approval, error) {
	approval, err := c.gateway.CheckApproval(ctx, res)
	if err != nil {
		return access.Approval{}, fmt.Errorf("check approval for %s: %w", res.Key(), err)
	}
	if approval.Approved {
		c.logger.Info("access approved",
			"resource", res.Key(),
			"expires_at", approval.ExpiresAt,
		)
	}
	return approval, nil
}

// IsApproved is CheckApproval that treats any failure as not approved.
func (c *AccessCoordinator) IsApproved(ctx context.Context, res access.Resource) bool {
	approval, err := c.CheckApproval(ctx, res)
	if err != nil {
		c.logger.Warn("approval check failed", "resource", res.Key(), "error", err)
		return false
	}
	return approval.Approved
}

// RequestAccess prompts for a justification and submits the request.
//
// A request for the same resource within the dedup window returns
// access.ErrDuplicateRequest without prompting. The resource is reserved
// before prompting and released again when no request is submitted.
// Every failure after the user answered is reported to the notifier.
func (c *AccessCoordinator) RequestAccess(ctx context.Context, in AccessInput) (access.Request, error) {
	key := in.Resource.Key()
	if !c.reserve(key, in.Resource) {
		c.count("duplicate")
		c.logger.Debug("access request already pending, skipping duplicate", "resource", key)
		return access.Request{}, access.ErrDuplicateRequest
	}

	justification, err := c.collectJustification(ctx, in)
	if err != nil {
		c.release(key)
		if errors.Is(err, access.ErrJustificationTimeout) {
			c.count("failed")
			c.notifier.Failed(in.Resource, err)
		}
		return access.Request{}, err
	}

	created, err := c.gateway.CreateAccessRequest(ctx, access.Request{
		Resource:      in.Resource,
		UserName:      in.UserName,
		Justification: justification,
		PolicyID:      in.PolicyID,
		RuleID:        in.RuleID,
		Status:        access.StatusPending,
		RequestedAt:   c.now().UTC(),
	})
	if err != nil {
		c.release(key)
		c.count("failed")
		c.logger.Error("failed to submit access request", "resource", key, "error", err)
		c.notifier.Failed(in.Resource, err)
		return access.Request{}, fmt.Errorf("submit access request: %w", err)
	}

	c.mu.Lock()
	if p, ok := c.pending[key]; ok {
		p.requestID = created.ID
		p.reservedAt = c.now()
	}
	c.mu.Unlock()

	c.count("submitted")
	c.logger.Info("access request submitted", "resource", key, "request_id", created.ID)
	c.notifier.Submitted(created)
	return created, nil
}

func (c *AccessCoordinator) collectJustification(ctx context.Context, in AccessInput) (string, error) {
	timer := time.NewTimer(c.promptTimeout)
	defer timer.Stop()

	reply := make(chan access.Reply, 1)
	prompt := access.Prompt{
		Resource: in.Resource,
		UserName: in.UserName,
		Reason:   in.Reason,
		Deadline: c.now().Add(c.promptTimeout),
		Reply:    reply,
	}

	select {
	case c.prompts <- prompt:
	case <-timer.C:
		return "", access.ErrJustificationTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-reply:
		justification := strings.TrimSpace(r.Justification)
		if r.Declined || justification == "" {
			return "", access.ErrJustificationDeclined
		}
		return justification, nil
	case <-timer.C:
		return "", access.ErrJustificationTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// reserve claims key unless a reservation inside the dedup window exists.
func (c *AccessCoordinator) reserve(key string, res access.Resource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if p, ok := c.pending[key]; ok && now.Sub(p.reservedAt) < c.dedupWindow {
		return false
	}
	c.pending[key] = &pendingRequest{resource: res, reservedAt: now}
	return true
}

func (c *AccessCoordinator) release(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// CheckForUpdates polls the service for every submitted request. An
// approval is notified once per approval ID. Denied and expired requests
// are notified with the reviewer's comment. Resolved keys leave the
// pending set.
func (c *AccessCoordinator) CheckForUpdates(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.pending))
	snapshot := make(map[string]pendingRequest, len(c.pending))
	for k, p := range c.pending {
		if p.requestID == "" {
			continue
		}
		keys = append(keys, k)
		snapshot[k] = *p
	}
	c.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}

	var (
		stillPending map[string]struct{}
		listErr      error
		listed       bool
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := snapshot[key]

		approval, err := c.gateway.CheckApproval(ctx, p.resource)
		if err != nil {
			c.logger.Warn("approval poll failed", "resource", key, "error", err)
			continue
		}
		if approval.Approved {
			c.resolveApproved(key, p, approval)
			continue
		}

		if !listed {
			stillPending, listErr = c.pendingIDs(ctx)
			listed = true
		}
		if listErr != nil {
			continue
		}
		if _, ok := stillPending[p.requestID]; ok {
			continue
		}
		c.resolveClosed(ctx, key, p)
	}
	return nil
}

func (c *AccessCoordinator) pendingIDs(ctx context.Context) (map[string]struct{}, error) {
	reqs, err := c.gateway.PendingRequests(ctx)
	if err != nil {
		c.logger.Warn("failed to list pending access requests", "error", err)
		return nil, err
	}
	ids := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		ids[r.ID] = struct{}{}
	}
	return ids, nil
}

func (c *AccessCoordinator) resolveApproved(key string, p pendingRequest, approval access.Approval) {
	dedupID := approval.ID
	if dedupID == "" {
		dedupID = "request:" + p.requestID
	}

	c.mu.Lock()
	_, seen := c.processed[dedupID]
	c.processed[dedupID] = struct{}{}
	delete(c.pending, key)
	c.mu.Unlock()

	if seen {
		return
	}
	c.count("approved")
	c.logger.Info("access request approved", "resource", key, "approval_id", approval.ID)
	c.notifier.Approved(p.resource, approval.ExpiresAt)
}

// resolveClosed handles a submitted request that is no longer pending and
// has no active approval.
func (c *AccessCoordinator) resolveClosed(ctx context.Context, key string, p pendingRequest) {
	req, err := c.gateway.GetAccessRequest(ctx, p.requestID)
	if err != nil {
		c.logger.Warn("failed to fetch access request", "request_id", p.requestID, "error", err)
		return
	}

	switch req.Status {
	case access.StatusPending:
		return
	case access.StatusDenied, access.StatusExpired:
		reason := req.Comments
		if reason == "" {
			reason = "Request " + strings.ToLower(req.Status.String())
		}
		c.release(key)
		c.count("denied")
		c.logger.Info("access request closed",
			"resource", key,
			"status", req.Status.String(),
			"reviewed_by", req.ReviewedBy,
		)
		c.notifier.Denied(p.resource, reason)
	default:
		// Approved on the service but the approval already lapsed.
		c.release(key)
	}
}

// Pending returns the number of reserved or submitted requests.
func (c *AccessCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *AccessCoordinator) count(outcome string) {
	if c.metrics != nil {
		c.metrics.AccessRequests.WithLabelValues(outcome).Inc()
	}
}

// ExecutableResource builds the access resource for a process observation.
func ExecutableResource(obs policy.ProcessObservation) access.Resource {
	name := obs.Name
	if name == "" {
		name = policy.BaseName(obs.ExecutablePath)
	}
	id := obs.ExecutablePath
	if id == "" {
		id = name
	}
	return access.Resource{Type: access.ResourceExecutable, Identifier: id, Name: name}
}

// LogNotifier presents access outcomes in the agent log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Submitted implements access.Notifier.
func (n *LogNotifier) Submitted(req access.Request) {
	n.Logger.Info("access request awaiting review", "resource", req.Resource.Key(), "request_id", req.ID)
}

// Failed implements access.Notifier.
func (n *LogNotifier) Failed(res access.Resource, err error) {
	n.Logger.Warn("access request could not be submitted", "resource", res.Key(), "error", err)
}

// Approved implements access.Notifier.
func (n *LogNotifier) Approved(res access.Resource, expiresAt *time.Time) {
	n.Logger.Info("access granted", "resource", res.Key(), "expires_at", expiresAt)
}

// Denied implements access.Notifier.
func (n *LogNotifier) Denied(res access.Resource, reason string) {
	n.Logger.Info("access denied", "resource", res.Key(), "reason", reason)
}

var _ access.Notifier = (*LogNotifier)(nil)
