// Package urlblock normalizes URL and domain criteria into hosts-file entries.
package urlblock

import (
	"net/url"
	"sort"
	"strings"
)

// ExtractDomain normalizes a URL or domain to a bare lowercase host:
// scheme, userinfo, path, query, port and a leading "www." are removed.
// A bare domain is read as an http URL; schemes other than http(s) and
// ws(s) are refused. It returns "" when the result is not a plausible
// domain.
func ExtractDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if !IsValidDomain(host) {
		return ""
	}
	return host
}

// IsValidDomain reports whether s contains a dot, only letters, digits,
// dots and hyphens, and neither starts nor ends with a dot or hyphen.
func IsValidDomain(s string) bool {
	if s == "" || !strings.Contains(s, ".") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
		default:
			return false
		}
	}
	first, last := s[0], s[len(s)-1]
	return first != '.' && first != '-' && last != '.' && last != '-'
}

// Normalize extracts the domain of every input, drops invalid ones and
// returns the sorted, deduplicated result. The second return value lists
// the inputs that were rejected.
func Normalize(criteria []string) (domains []string, rejected []string) {
	seen := make(map[string]struct{}, len(criteria))
	for _, c := range criteria {
		d := ExtractDomain(c)
		if d == "" {
			rejected = append(rejected, c)
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains, rejected
}
