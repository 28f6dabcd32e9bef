// Package fileinfo computes content digests and extracts Authenticode
// signer certificates from executables.
package fileinfo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// DefaultCacheSize bounds the number of remembered digests.
const DefaultCacheSize = 4096

// Inspector implements policy.FileInspector. Digests are cached by path,
// size and modification time so a binary launched repeatedly is hashed once.
type Inspector struct {
	mu       sync.Mutex
	digests  map[uint64]string
	capacity int
}

// NewInspector creates an Inspector with a digest cache of the given
// capacity. Zero or negative uses DefaultCacheSize.
func NewInspector(capacity int) *Inspector {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Inspector{
		digests:  make(map[uint64]string),
		capacity: capacity,
	}
}

// Hash returns the lowercase hex SHA-256 of the file.
func (in *Inspector) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	key := cacheKey(path, info)
	in.mu.Lock()
	cached, ok := in.digests[key]
	in.mu.Unlock()
	if ok {
		return cached, nil
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	in.mu.Lock()
	if len(in.digests) >= in.capacity {
		clear(in.digests)
	}
	in.digests[key] = sum
	in.mu.Unlock()
	return sum, nil
}

// Signer returns the Authenticode signing certificate of a PE file.
// Files that are not PE images or carry no signature return
// policy.ErrUnsigned. The certificate chain is not validated.
func (in *Inspector) Signer(path string) (policy.Signer, error) {
	f, err := os.Open(path)
	if err != nil {
		return policy.Signer{}, err
	}
	defer f.Close()

	blob, err := readWinCertificate(f)
	if err != nil {
		return policy.Signer{}, err
	}
	return signerFromPKCS7(blob)
}

func cacheKey(path string, info os.FileInfo) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(path)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatInt(info.Size(), 10))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatInt(info.ModTime().UnixNano(), 10))
	return d.Sum64()
}

var _ policy.FileInspector = (*Inspector)(nil)
