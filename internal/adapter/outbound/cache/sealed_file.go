package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/Sentinel-Gate/sentinel-agent/internal/adapter/outbound/atomicfile"
)

// sealedFile is an encrypted file with atomic writes (write-tmp-then-rename)
// and file locking (flock for cross-process, mutex for in-process).
type sealedFile struct {
	path   string
	sealer *Sealer
	mu     sync.Mutex
	logger *slog.Logger
}

func newSealedFile(path string, sealer *Sealer, logger *slog.Logger) *sealedFile {
	return &sealedFile{
		path:   path,
		sealer: sealer,
		logger: logger,
	}
}

// read decrypts the file. A missing file is reported as os.ErrNotExist.
// Warns if the file has permissions more open than 0600.
func (f *sealedFile) read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	// Skip on Windows where Unix file permission bits are not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(f.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				f.logger.Warn("cache file has too-open permissions, should be 0600",
					"path", f.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	plaintext, err := f.sealer.Open(data)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.path, err)
	}
	return plaintext, nil
}

// write encrypts plaintext and replaces the file atomically.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Encrypt
//  4. Write a sibling temp file with 0600 permissions, fsync, rename
func (f *sealedFile) write(plaintext []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	lockFile, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := lockExclusive(lockFile); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer unlock(lockFile) //nolint:errcheck

	sealed, err := f.sealer.Seal(plaintext)
	if err != nil {
		return err
	}

	return atomicfile.Write(f.path, sealed, 0600)
}
