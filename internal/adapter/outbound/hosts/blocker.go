// Package hosts applies the derived URL blocklist to the system hosts file.
package hosts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/atomicfile"
	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/urlblock"
	"github.com/Sentinel-Gate/sentinel-agent/internal/port/outbound"
)

// Section markers delimit the lines owned by the agent.
const (
	MarkerStart = "# SentinelAgent - Blocked URLs - START"
	MarkerEnd   = "# SentinelAgent - Blocked URLs - END"
)

const loopback = "127.0.0.1"

// DefaultPath returns the hosts file location for the running OS.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return filepath.Join(root, "System32", "drivers", "etc", "hosts")
	}
	return "/etc/hosts"
}

// Blocker rewrites a managed section of the hosts file. Lines outside the
// section are preserved.
type Blocker struct {
	path     string
	flushDNS func(ctx context.Context) error
	now      func() time.Time
	logger   *slog.Logger
	mu       sync.Mutex
}

// Option configures a Blocker.
type Option func(*Blocker)

// WithPath overrides the hosts file path.
func WithPath(path string) Option {
	return func(b *Blocker) {
		b.path = path
	}
}

// WithDNSFlush enables or disables the OS resolver cache flush after each
// rewrite.
func WithDNSFlush(enabled bool) Option {
	return func(b *Blocker) {
		if enabled {
			b.flushDNS = flushSystemDNS
		} else {
			b.flushDNS = nil
		}
	}
}

// WithFlushFunc replaces the resolver cache flush.
func WithFlushFunc(fn func(ctx context.Context) error) Option {
	return func(b *Blocker) {
		b.flushDNS = fn
	}
}

// WithClock sets the time source for the "Last updated" line.
func WithClock(now func() time.Time) Option {
	return func(b *Blocker) {
		b.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Blocker) {
		b.logger = logger
	}
}

// NewBlocker creates a hosts-file blocker for DefaultPath with DNS flush
// enabled.
func NewBlocker(opts ...Option) *Blocker {
	b := &Blocker{
		path:     DefaultPath(),
		flushDNS: flushSystemDNS,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Path returns the hosts file being managed.
func (b *Blocker) Path() string {
	return b.path
}

// Block replaces the managed section with one loopback entry per domain
// and one for its www. variant. Inputs are normalized again; invalid ones
// are skipped with a warning. An empty list removes the section.
func (b *Blocker) Block(ctx context.Context, domains []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	normalized, rejected := urlblock.Normalize(domains)
	for _, r := range rejected {
		b.logger.Warn("skipping invalid domain", "input", r)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	kept, mode, err := b.readOutside()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, line := range kept {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if len(normalized) > 0 {
		if len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) != "" {
			buf.WriteByte('\n')
		}
		buf.WriteString(MarkerStart + "\n")
		fmt.Fprintf(&buf, "# Last updated: %s\n", b.now().Format("2006-01-02 15:04:05"))
		for _, d := range normalized {
			fmt.Fprintf(&buf, "%s %s\n", loopback, d)
			fmt.Fprintf(&buf, "%s www.%s\n", loopback, d)
		}
		buf.WriteString(MarkerEnd + "\n")
	}

	if err := atomicfile.Write(b.path, buf.Bytes(), mode); err != nil {
		return fmt.Errorf("write hosts file: %w", err)
	}
	b.logger.Info("hosts file updated", "path", b.path, "domains", len(normalized))

	if b.flushDNS != nil {
		if err := b.flushDNS(ctx); err != nil {
			b.logger.Warn("failed to flush DNS cache", "error", err)
		}
	}
	return nil
}

// Clear removes the managed section.
func (b *Blocker) Clear(ctx context.Context) error {
	return b.Block(ctx, nil)
}

// Blocked returns the domains in the managed section, without www. variants.
func (b *Blocker) Blocked() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open hosts file: %w", err)
	}
	defer f.Close()

	var domains []string
	inSection := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == MarkerStart:
			inSection = true
		case line == MarkerEnd:
			return domains, nil
		case inSection:
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] == loopback && !strings.HasPrefix(fields[1], "www.") {
				domains = append(domains, fields[1])
			}
		}
	}
	return domains, sc.Err()
}

// readOutside returns the lines outside the managed section and the file
// mode to write back with.
func (b *Blocker) readOutside() ([]string, os.FileMode, error) {
	mode := os.FileMode(0644)
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mode, nil
		}
		return nil, mode, fmt.Errorf("read hosts file: %w", err)
	}
	if info, statErr := os.Stat(b.path); statErr == nil {
		mode = info.Mode().Perm()
	}

	var kept []string
	inSection := false
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch strings.TrimSpace(line) {
		case MarkerStart:
			inSection = true
			continue
		case MarkerEnd:
			inSection = false
			continue
		}
		if !inSection {
			kept = append(kept, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, mode, fmt.Errorf("scan hosts file: %w", err)
	}

	// Drop the blank separator left behind by a previous section.
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	return kept, mode, nil
}

// flushSystemDNS asks the OS resolver to drop cached answers.
func flushSystemDNS(ctx context.Context) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "ipconfig", "/flushdns")
	case "darwin":
		cmd = exec.CommandContext(ctx, "dscacheutil", "-flushcache")
	case "linux":
		cmd = exec.CommandContext(ctx, "resolvectl", "flush-caches")
	default:
		return nil
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

var _ outbound.HostsBlocker = (*Blocker)(nil)
