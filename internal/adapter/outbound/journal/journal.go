// Package journal keeps a local audit journal: JSON Lines files with
// daily rotation, a size cap, retention cleanup and an in-memory cache of
// recent entries.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/audit"
)

// fileInfo holds the parsed parts of a journal file name.
type fileInfo struct {
	name   string
	date   string
	suffix int
}

// filePattern matches audit-YYYY-MM-DD.log and audit-YYYY-MM-DD-N.log.
var filePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

func parseFilename(name string) (fileInfo, bool) {
	matches := filePattern.FindStringSubmatch(name)
	if matches == nil {
		return fileInfo{}, false
	}
	info := fileInfo{name: name, date: matches[1]}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

// sortFiles orders files by date then suffix.
func sortFiles(files []fileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// Config configures a Journal.
type Config struct {
	// Dir holds the journal files.
	Dir string
	// RetentionDays is how long files are kept (default 7).
	RetentionDays int
	// MaxFileSizeMB rotates the current file past this size (default 100).
	MaxFileSizeMB int
	// CacheSize is the number of recent entries kept in memory (default 1000).
	CacheSize int
}

// Journal implements audit.Sink by appending to local files.
type Journal struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
	cache         *recentCache

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Open creates the directory if needed, opens today's file, removes
// expired files, fills the cache from the newest file and starts hourly
// cleanup. Close stops the cleanup goroutine.
func Open(cfg Config, logger *slog.Logger) (*Journal, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	j := &Journal{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		now:           time.Now,
		cache:         newRecentCache(cfg.CacheSize),
		done:          make(chan struct{}),
	}

	if err := j.openCurrent(j.now().UTC().Format(time.DateOnly)); err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	j.cleanup()
	j.populateCache()

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	go j.cleanupLoop(ctx)

	return j, nil
}

// Submit implements audit.Sink. Entries go to the file of their own UTC
// date, so a batch spanning midnight is split across files.
func (j *Journal) Submit(ctx context.Context, entries []audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return os.ErrClosed
	}

	for _, e := range entries {
		date := e.Timestamp.UTC().Format(time.DateOnly)
		if date != j.currentDate {
			if err := j.rotateDateLocked(date); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if j.currentSize >= j.maxFileSize {
			if err := j.rotateSizeLocked(); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		n, err := j.currentFile.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		j.currentSize += int64(n)
		j.cache.add(e)
	}
	return j.currentFile.Sync()
}

// Recent returns up to n of the newest entries, newest first.
func (j *Journal) Recent(n int) []audit.Entry {
	return j.cache.recent(n)
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

// Close stops cleanup and closes the current file. Further submissions
// fail with os.ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.cancel()

	var err error
	if j.currentFile != nil {
		_ = j.currentFile.Sync()
		err = j.currentFile.Close()
		j.currentFile = nil
	}
	j.mu.Unlock()

	<-j.done
	return err
}

func (j *Journal) openCurrent(date string) error {
	suffix := j.highestSuffix(date)
	f, size, err := j.openFile(date, suffix)
	if err != nil {
		return err
	}
	j.currentFile = f
	j.currentDate = date
	j.currentSize = size
	j.currentSuffix = suffix
	return nil
}

func (j *Journal) highestSuffix(date string) int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if ok && info.date == date && info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

func (j *Journal) openFile(date string, suffix int) (*os.File, int64, error) {
	name := filename(date, suffix)
	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", name, err)
	}
	return f, info.Size(), nil
}

func filename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", date)
	}
	return fmt.Sprintf("audit-%s-%d.log", date, suffix)
}

// rotateDateLocked switches to the file for date. Must hold j.mu.
func (j *Journal) rotateDateLocked(date string) error {
	j.closeCurrentLocked()
	return j.openCurrent(date)
}

// rotateSizeLocked moves to the next suffix of the current date. Must hold j.mu.
func (j *Journal) rotateSizeLocked() error {
	j.closeCurrentLocked()
	j.currentSuffix++
	f, size, err := j.openFile(j.currentDate, j.currentSuffix)
	if err != nil {
		return err
	}
	j.currentFile = f
	j.currentSize = size
	return nil
}

func (j *Journal) closeCurrentLocked() {
	if j.currentFile != nil {
		_ = j.currentFile.Sync()
		_ = j.currentFile.Close()
		j.currentFile = nil
	}
}

// cleanup deletes files older than the retention period.
func (j *Journal) cleanup() {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		j.logger.Error("journal cleanup: failed to read directory", "dir", j.dir, "error", err)
		return
	}

	cutoff := j.now().UTC().AddDate(0, 0, -j.retentionDays)
	deleted := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		day, err := time.Parse(time.DateOnly, info.date)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil {
			j.logger.Error("journal cleanup: failed to delete file", "file", e.Name(), "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		j.logger.Info("journal cleanup completed", "deleted", deleted)
	}
}

func (j *Journal) cleanupLoop(ctx context.Context) {
	defer close(j.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

// populateCache loads the tail of the newest non-empty file.
func (j *Journal) populateCache() {
	newest := j.newestFile()
	if newest == "" {
		return
	}

	f, err := os.Open(filepath.Join(j.dir, newest))
	if err != nil {
		j.logger.Error("journal cache: failed to open file", "file", newest, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var entries []audit.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e audit.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			j.logger.Warn("journal cache: skipping malformed line", "file", newest, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		j.logger.Error("journal cache: error reading file", "file", newest, "error", err)
	}

	start := 0
	if len(entries) > j.cache.size {
		start = len(entries) - j.cache.size
	}
	for _, e := range entries[start:] {
		j.cache.add(e)
	}
}

func (j *Journal) newestFile() string {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return ""
	}
	var files []fileInfo
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		if fi, err := e.Info(); err != nil || fi.Size() == 0 {
			continue
		}
		files = append(files, info)
	}
	if len(files) == 0 {
		return ""
	}
	sortFiles(files)
	return files[len(files)-1].name
}

var _ audit.Sink = (*Journal)(nil)

// recentCache is a ring buffer of recent entries.
type recentCache struct {
	mu      sync.RWMutex
	entries []audit.Entry
	size    int
	head    int
	count   int
}

func newRecentCache(size int) *recentCache {
	return &recentCache{entries: make([]audit.Entry, size), size: size}
}

func (c *recentCache) add(e audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.head] = e
	c.head = (c.head + 1) % c.size
	if c.count < c.size {
		c.count++
	}
}

// recent returns the last n entries, newest first.
func (c *recentCache) recent(n int) []audit.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || c.count == 0 {
		return nil
	}
	if n > c.count {
		n = c.count
	}
	out := make([]audit.Entry, n)
	for i := 0; i < n; i++ {
		out[i] = c.entries[(c.head-1-i+c.size)%c.size]
	}
	return out
}
