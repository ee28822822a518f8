package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultPathPattern matches profile pages such as /profiles/12345. The first
// capture group is the profile id.
const DefaultPathPattern = `/profiles/([^/?#]+)`

const hashIDLength = 16

// Identifier recognizes profile URLs and derives stable profile ids from them.
type Identifier struct {
	pattern *regexp.Regexp
}

// NewIdentifier compiles pattern, which must contain at least one capture
// group. An empty pattern selects DefaultPathPattern.
func NewIdentifier(pattern string) (*Identifier, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPathPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile profile pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("profile pattern %q needs a capture group", pattern)
	}
	return &Identifier{pattern: re}, nil
}

// MustIdentifier is NewIdentifier for patterns known to be valid.
func MustIdentifier(pattern string) *Identifier {
	id, err := NewIdentifier(pattern)
	if err != nil {
		panic(err)
	}
	return id
}

// Pattern exposes the compiled pattern for raw-source scans.
func (i *Identifier) Pattern() *regexp.Regexp {
	return i.pattern
}

// Matches reports whether rawURL points at a profile page.
func (i *Identifier) Matches(rawURL string) bool {
	_, ok := i.pathID(rawURL)
	return ok
}

// ID returns the profile id embedded in rawURL. When the URL does not carry
// one, the id is a truncated SHA-256 of the normalized URL so repeated runs
// agree.
func (i *Identifier) ID(rawURL string) string {
	if id, ok := i.pathID(rawURL); ok {
		return id
	}
	key := rawURL
	if normalized, err := NormalizeURL(rawURL); err == nil {
		key = normalized
	}
	return "u" + hashHex(key)[:hashIDLength]
}

func (i *Identifier) pathID(rawURL string) (string, bool) {
	target := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		target = u.Path
	}
	m := i.pattern.FindStringSubmatch(target)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// NormalizeURL standardizes a URL so equivalent forms compare equal.
// It lowercases the scheme and host, removes default ports and the fragment,
// and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

func hashHex(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
