package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrUnsigned is returned by a FileInspector when the file carries no signature.
var ErrUnsigned = errors.New("file is not signed")

// Signer identifies the certificate that signed an executable.
type Signer struct {
	// Thumbprint is the hex SHA-1 of the DER certificate.
	Thumbprint string
	// Publisher is the subject common name.
	Publisher string
}

// FileInspector extracts content-derived facts about an executable.
// Implementations may perform slow I/O; callers must not hold locks.
type FileInspector interface {
	// Hash returns the lowercase hex SHA-256 of the file content.
	Hash(path string) (string, error)
	// Signer returns the signing certificate, or ErrUnsigned.
	Signer(path string) (Signer, error)
}

// Matcher decides whether a single rule matches a process observation.
// Compiled wildcard patterns are cached per Matcher.
type Matcher struct {
	inspector FileInspector
	patterns  sync.Map // criteria -> *regexp.Regexp
}

// NewMatcher creates a Matcher. inspector may be nil, in which case
// FileHash, Certificate and Publisher rules only use values precomputed
// on the observation.
func NewMatcher(inspector FileInspector) *Matcher {
	return &Matcher{inspector: inspector}
}

// MatchProcess reports whether rule matches the observation.
// A non-nil error means the rule could not be evaluated; callers treat
// that as no match.
func (m *Matcher) MatchProcess(obs ProcessObservation, rule Rule) (bool, error) {
	switch rule.Type {
	case RuleFileHash:
		return m.matchFileHash(obs, rule.Criteria)
	case RuleCertificate:
		return m.matchCertificate(obs, rule.Criteria)
	case RulePath:
		if obs.ExecutablePath == "" {
			return false, nil
		}
		return m.matchWildcard(rule.Criteria, obs.ExecutablePath)
	case RulePublisher:
		return m.matchPublisher(obs, rule.Criteria)
	case RuleFileName:
		return m.matchFileName(obs, rule.Criteria)
	case RuleURL, RuleDomain:
		// Network rules are applied by URL sync, not per process.
		return false, nil
	default:
		return false, fmt.Errorf("unknown rule type %d", int(rule.Type))
	}
}

func (m *Matcher) matchFileHash(obs ProcessObservation, criteria string) (bool, error) {
	hash := obs.FileHash
	if hash == "" {
		if m.inspector == nil || obs.ExecutablePath == "" {
			return false, nil
		}
		var err error
		hash, err = m.inspector.Hash(obs.ExecutablePath)
		if err != nil {
			return false, fmt.Errorf("hash %s: %w", obs.ExecutablePath, err)
		}
	}
	return strings.EqualFold(hash, strings.TrimSpace(criteria)), nil
}

func (m *Matcher) matchCertificate(obs ProcessObservation, criteria string) (bool, error) {
	if obs.Signed != nil && !*obs.Signed {
		return false, nil
	}
	signer, ok, err := m.signer(obs)
	if !ok || err != nil {
		return false, err
	}
	return strings.EqualFold(compactThumbprint(signer.Thumbprint), compactThumbprint(criteria)), nil
}

func (m *Matcher) matchPublisher(obs ProcessObservation, criteria string) (bool, error) {
	if criteria == "" {
		return false, nil
	}
	publisher := obs.Publisher
	if publisher == "" {
		signer, ok, err := m.signer(obs)
		if !ok || err != nil {
			return false, err
		}
		publisher = signer.Publisher
	}
	return strings.Contains(strings.ToLower(publisher), strings.ToLower(criteria)), nil
}

func (m *Matcher) matchFileName(obs ProcessObservation, criteria string) (bool, error) {
	name := obs.Name
	if name == "" {
		name = BaseName(obs.ExecutablePath)
	}
	if name == "" {
		return false, nil
	}
	ok, err := m.matchWildcard(criteria, name)
	if ok || err != nil {
		return ok, err
	}
	// "notepad" matches "notepad.exe".
	if extension(criteria) == "" {
		if stem := strings.TrimSuffix(name, extension(name)); stem != name {
			return m.matchWildcard(criteria, stem)
		}
	}
	return false, nil
}

// signer returns the observation's signer. ok is false when the file is
// unsigned or no inspector is available.
func (m *Matcher) signer(obs ProcessObservation) (Signer, bool, error) {
	if m.inspector == nil || obs.ExecutablePath == "" {
		return Signer{}, false, nil
	}
	signer, err := m.inspector.Signer(obs.ExecutablePath)
	if errors.Is(err, ErrUnsigned) {
		return Signer{}, false, nil
	}
	if err != nil {
		return Signer{}, false, fmt.Errorf("read signature %s: %w", obs.ExecutablePath, err)
	}
	return signer, true, nil
}

func (m *Matcher) matchWildcard(criteria, value string) (bool, error) {
	if criteria == "" {
		return false, nil
	}
	if cached, ok := m.patterns.Load(criteria); ok {
		return cached.(*regexp.Regexp).MatchString(value), nil
	}
	re, err := CompileWildcard(criteria)
	if err != nil {
		return false, err
	}
	m.patterns.Store(criteria, re)
	return re.MatchString(value), nil
}

// CompileWildcard converts a pattern where * matches any run of characters
// and ? matches one character into an anchored, case-insensitive regexp.
// All other characters are literal.
func CompileWildcard(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	quoted = strings.ReplaceAll(quoted, `\?`, ".")
	re, err := regexp.Compile("(?is)^" + quoted + "$")
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

// BaseName returns the last element of a path using either separator,
// so Windows paths reported by a remote monitor resolve on any host.
func BaseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return ""
	}
	return name[i:]
}

func compactThumbprint(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "")
}
