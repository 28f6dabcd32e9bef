package http

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
)

// IntakeTokenHeader carries the intake token when Authorization is not used.
const IntakeTokenHeader = "X-Sentinel-Intake-Token"

// intakeHashParams are the OWASP minimum argon2id parameters.
var intakeHashParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashIntakeToken returns the PHC-format argon2id hash of token.
func HashIntakeToken(token string) (string, error) {
	return argon2id.CreateHash(token, intakeHashParams)
}

// GenerateIntakeToken returns a random URL-safe token.
func GenerateIntakeToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate intake token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IntakeAuth verifies intake tokens against an argon2id hash. A token that
// verified once is remembered by its SHA-256 digest so the per-request
// cost stays constant.
type IntakeAuth struct {
	hash string

	mu       sync.RWMutex
	verified [][sha256.Size]byte
}

// NewIntakeAuth creates a verifier for hash.
func NewIntakeAuth(hash string) (*IntakeAuth, error) {
	if _, _, _, err := argon2id.DecodeHash(hash); err != nil {
		return nil, fmt.Errorf("invalid intake token hash: %w", err)
	}
	return &IntakeAuth{hash: hash}, nil
}

// Verify reports whether token matches the configured hash.
func (a *IntakeAuth) Verify(token string) bool {
	if a == nil || token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	a.mu.RLock()
	for _, known := range a.verified {
		if subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
			a.mu.RUnlock()
			return true
		}
	}
	a.mu.RUnlock()

	if !a.compare(token) {
		return false
	}
	a.mu.Lock()
	// The hash admits one token; the slice never grows past a few entries.
	if len(a.verified) < 4 {
		a.verified = append(a.verified, digest)
	}
	a.mu.Unlock()
	return true
}

// compare recovers from panics the argon2 package raises on hashes with
// degenerate parameters.
func (a *IntakeAuth) compare(token string) (match bool) {
	defer func() {
		if recover() != nil {
			match = false
		}
	}()
	match, err := argon2id.ComparePasswordAndHash(token, a.hash)
	return err == nil && match
}

// RequireIntakeToken rejects requests that do not carry a valid intake
// token as "Authorization: Bearer <token>" or in IntakeTokenHeader. With
// a nil auth every request is rejected.
func RequireIntakeToken(auth *IntakeAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Verify(intakeToken(r)) {
				LoggerFromContext(r.Context()).Warn("rejected intake request without a valid token",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="sentinel-agent"`)
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid intake token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func intakeToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(IntakeTokenHeader))
}
