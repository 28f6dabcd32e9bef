package audit

import "context"

// Sink accepts batches of audit entries.
// Interface owned by domain per hexagonal architecture.
type Sink interface {
	// Submit delivers a batch. A nil error means the whole batch was
	// accepted; any error means none of it should be considered delivered.
	Submit(ctx context.Context, entries []Entry) error
}
