package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/access"
)

// ErrPromptNotFound is returned when a prompt is unknown or already past
// its deadline.
var ErrPromptNotFound = errors.New("prompt not found")

// PromptView is the JSON form of an open justification prompt.
type PromptView struct {
	ID           string    `json:"id"`
	ResourceType string    `json:"resourceType"`
	Resource     string    `json:"resource"`
	Name         string    `json:"name"`
	UserName     string    `json:"userName,omitempty"`
	Reason       string    `json:"reason"`
	Deadline     time.Time `json:"deadline"`
}

type promptAnswer struct {
	Justification string `json:"justification"`
	Declined      bool   `json:"declined"`
}

// PromptBroker holds justification prompts until a client answers them
// over HTTP. Prompts past their deadline are discarded; the coordinator
// has already given up on them.
type PromptBroker struct {
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu   sync.Mutex
	open map[string]access.Prompt
}

// NewPromptBroker creates an empty broker.
func NewPromptBroker(logger *slog.Logger) *PromptBroker {
	return &PromptBroker{
		logger: logger,
		now:    time.Now,
		open:   make(map[string]access.Prompt),
	}
}

// Run collects prompts until ctx is canceled.
func (b *PromptBroker) Run(ctx context.Context, prompts <-chan access.Prompt) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-prompts:
			if !ok {
				return nil
			}
			id := b.Add(p)
			b.logger.Info("justification requested",
				"prompt_id", id,
				"resource", p.Resource.Key(),
				"deadline", p.Deadline,
			)
		}
	}
}

// Add registers a prompt and returns its ID.
func (b *PromptBroker) Add(p access.Prompt) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.pruneLocked()
	b.open[id] = p
	n := len(b.open)
	b.mu.Unlock()
	b.setOpen(n)
	return id
}

// List returns open prompts ordered by deadline.
func (b *PromptBroker) List() []PromptView {
	b.mu.Lock()
	b.pruneLocked()
	views := make([]PromptView, 0, len(b.open))
	for id, p := range b.open {
		views = append(views, PromptView{
			ID:           id,
			ResourceType: string(p.Resource.Type),
			Resource:     p.Resource.Identifier,
			Name:         p.Resource.Name,
			UserName:     p.UserName,
			Reason:       p.Reason,
			Deadline:     p.Deadline,
		})
	}
	n := len(b.open)
	b.mu.Unlock()
	b.setOpen(n)

	sort.Slice(views, func(i, j int) bool {
		if !views[i].Deadline.Equal(views[j].Deadline) {
			return views[i].Deadline.Before(views[j].Deadline)
		}
		return views[i].ID < views[j].ID
	})
	return views
}

// Answer delivers reply to the prompt with the given ID.
func (b *PromptBroker) Answer(id string, reply access.Reply) error {
	b.mu.Lock()
	b.pruneLocked()
	p, ok := b.open[id]
	delete(b.open, id)
	n := len(b.open)
	b.mu.Unlock()
	b.setOpen(n)

	if !ok {
		return ErrPromptNotFound
	}
	select {
	case p.Reply <- reply:
		return nil
	default:
		// The coordinator sized Reply for exactly one answer.
		return ErrPromptNotFound
	}
}

func (b *PromptBroker) pruneLocked() {
	now := b.now()
	for id, p := range b.open {
		if !p.Deadline.IsZero() && now.After(p.Deadline) {
			delete(b.open, id)
		}
	}
}

func (b *PromptBroker) setOpen(n int) {
	if b.metrics != nil {
		b.metrics.OpenPrompts.Set(float64(n))
	}
}

func (b *PromptBroker) listHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, b.List())
	})
}

func (b *PromptBroker) answerHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var answer promptAnswer
		if err := decodeJSON(w, r, &answer); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		id := r.PathValue("id")
		err := b.Answer(id, access.Reply{Justification: answer.Justification, Declined: answer.Declined})
		if errors.Is(err, ErrPromptNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}

		LoggerFromContext(r.Context()).Info("justification answered", "prompt_id", id, "declined", answer.Declined)
		w.WriteHeader(http.StatusNoContent)
	})
}
