package journal

import (
	"context"
	"log/slog"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
)

// Mirror is an audit.Sink that delivers to a primary sink and journals
// each batch once the primary accepts it. Journal errors are logged and
// never fail the submission, so the reporter does not resend a batch the
// primary already holds.
type Mirror struct {
	primary audit.Sink
	journal *Journal
	logger  *slog.Logger
}

// NewMirror wraps primary with a local journal copy.
func NewMirror(primary audit.Sink, j *Journal, logger *slog.Logger) *Mirror {
	return &Mirror{primary: primary, journal: j, logger: logger}
}

// Submit implements audit.Sink.
func (m *Mirror) Submit(ctx context.Context, entries []audit.Entry) error {
	if err := m.primary.Submit(ctx, entries); err != nil {
		return err
	}
	// The primary accepted; a canceled ctx must not lose the local copy.
	if err := m.journal.Submit(context.WithoutCancel(ctx), entries); err != nil {
		m.logger.Warn("failed to journal delivered audit batch", "entries", len(entries), "error", err)
	}
	return nil
}

var _ audit.Sink = (*Mirror)(nil)
