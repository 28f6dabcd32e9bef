package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
)

// Notification kinds.
const (
	NotificationSubmitted = "submitted"
	NotificationFailed    = "failed"
	NotificationApproved  = "approved"
	NotificationDenied    = "denied"
)

// Notification is one access workflow outcome shown to the user.
type Notification struct {
	Kind         string     `json:"kind"`
	ResourceType string     `json:"resourceType"`
	Resource     string     `json:"resource"`
	Name         string     `json:"name,omitempty"`
	RequestID    string     `json:"requestId,omitempty"`
	Message      string     `json:"message,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	At           time.Time  `json:"at"`
}

// NotificationLog keeps the most recent access outcomes for clients to
// poll and forwards each one to an optional next notifier.
type NotificationLog struct {
	next     access.Notifier
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries []Notification
}

// NewNotificationLog creates a log holding up to capacity notifications.
// next may be nil.
func NewNotificationLog(capacity int, next access.Notifier) *NotificationLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &NotificationLog{next: next, capacity: capacity, now: time.Now}
}

// Submitted implements access.Notifier.
func (l *NotificationLog) Submitted(req access.Request) {
	l.add(Notification{
		Kind:      NotificationSubmitted,
		RequestID: req.ID,
		Message:   "Access request sent for review",
	}, req.Resource)
	if l.next != nil {
		l.next.Submitted(req)
	}
}

// Failed implements access.Notifier.
func (l *NotificationLog) Failed(res access.Resource, err error) {
	l.add(Notification{Kind: NotificationFailed, Message: err.Error()}, res)
	if l.next != nil {
		l.next.Failed(res, err)
	}
}

// Approved implements access.Notifier.
func (l *NotificationLog) Approved(res access.Resource, expiresAt *time.Time) {
	l.add(Notification{Kind: NotificationApproved, ExpiresAt: expiresAt}, res)
	if l.next != nil {
		l.next.Approved(res, expiresAt)
	}
}

// Denied implements access.Notifier.
func (l *NotificationLog) Denied(res access.Resource, reason string) {
	l.add(Notification{Kind: NotificationDenied, Message: reason}, res)
	if l.next != nil {
		l.next.Denied(res, reason)
	}
}

func (l *NotificationLog) add(n Notification, res access.Resource) {
	n.ResourceType = string(res.Type)
	n.Resource = res.Identifier
	n.Name = res.Name
	n.At = l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, n)
	if len(l.entries) > l.capacity {
		l.entries = append(l.entries[:0:0], l.entries[len(l.entries)-l.capacity:]...)
	}
}

// Recent returns up to limit notifications, newest first. limit <= 0
// returns all of them.
func (l *NotificationLog) Recent(limit int) []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Notification, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

func (l *NotificationLog) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, l.Recent(0))
	})
}

var _ access.Notifier = (*NotificationLog)(nil)
