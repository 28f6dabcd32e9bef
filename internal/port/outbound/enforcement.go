package outbound

import "context"

// HostsBlocker applies a domain blocklist to the local resolver.
type HostsBlocker interface {
	// Block replaces the managed block section with domains.
	Block(ctx context.Context, domains []string) error
	// Clear removes the managed block section.
	Clear(ctx context.Context) error
	// Blocked returns the domains currently in the managed section.
	Blocked() ([]string, error)
}

// ProcessTerminator stops a running process.
type ProcessTerminator interface {
	// Terminate stops pid only if it runs executablePath.
	Terminate(pid int, executablePath string) error
}
