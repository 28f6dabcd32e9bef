// Package access contains domain types for the access-request workflow.
package access

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the access-request workflow.
var (
	// ErrDuplicateRequest is returned when a request for the same resource
	// is already pending inside the dedup window.
	ErrDuplicateRequest = errors.New("access request already pending")
	// ErrJustificationTimeout is returned when the presentation layer did
	// not answer a justification prompt in time.
	ErrJustificationTimeout = errors.New("justification prompt timed out")
	// ErrJustificationDeclined is returned when the user dismissed the prompt.
	ErrJustificationDeclined = errors.New("justification declined")
)

// ResourceType is the kind of resource access is requested for.
type ResourceType string

const (
	ResourceExecutable ResourceType = "Executable"
	ResourceURL        ResourceType = "Url"
)

// Status is the lifecycle state of a request on the management service.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusDenied
	StatusExpired
)

// String returns the display name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusApproved:
		return "Approved"
	case StatusDenied:
		return "Denied"
	case StatusExpired:
		return "Expired"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Resource identifies what access is requested for.
type Resource struct {
	Type       ResourceType
	Identifier string
	Name       string
}

// Key is the dedup key for a resource.
func (r Resource) Key() string {
	return string(r.Type) + ":" + r.Identifier
}

// Request is the agent's view of an access request.
type Request struct {
	ID            string
	Resource      Resource
	UserName      string
	Justification string
	PolicyID      string
	RuleID        string
	Status        Status
	ReviewedBy    string
	Comments      string
	RequestedAt   time.Time
	ExpiresAt     *time.Time
}

// Approval is a grant that overrides a Block decision for one resource.
type Approval struct {
	Approved bool
	// ID deduplicates notifications; empty when not approved.
	ID string
	// ExpiresAt is nil for indefinite grants.
	ExpiresAt *time.Time
}

// Prompt asks the presentation layer for a justification. The receiver
// must send exactly one Reply.
type Prompt struct {
	Resource Resource
	UserName string
	Reason   string
	// Deadline is when the coordinator stops waiting for the reply.
	Deadline time.Time
	Reply    chan<- Reply
}

// Reply answers a Prompt. An empty Justification or Declined means no
// request is submitted.
type Reply struct {
	Justification string
	Declined      bool
}

// Notifier presents workflow outcomes to the user.
type Notifier interface {
	Submitted(req Request)
	Failed(res Resource, err error)
	Approved(res Resource, expiresAt *time.Time)
	Denied(res Resource, reason string)
}
