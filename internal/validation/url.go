package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// FitnessHost is the host serving Apple Fitness+ workout pages.
const FitnessHost = "fitness.apple.com"

// CanonicalRegion is the storefront every regional page variant maps to.
const CanonicalRegion = "us"

var regionPrefix = regexp.MustCompile(`^/([a-z]{2})(/.+)$`)

// WorkoutURLValidator validates workout page locators submitted by users
// before they reach the fetcher.
type WorkoutURLValidator struct {
	// AllowedHosts restricts submissions to these hosts; empty allows any public host.
	AllowedHosts []string
	// AllowLocalhost determines if localhost URLs are permitted
	AllowLocalhost bool
	// AllowPrivateIPs determines if private IP addresses are permitted
	AllowPrivateIPs bool
	// MaxLength is the maximum allowed URL length
	MaxLength int
}

// NewWorkoutURLValidator accepts only public Apple Fitness+ pages.
func NewWorkoutURLValidator() *WorkoutURLValidator {
	return &WorkoutURLValidator{
		AllowedHosts: []string{FitnessHost},
		MaxLength:    2048,
	}
}

// NewPermissiveWorkoutURLValidator accepts any host, including local test
// servers.
func NewPermissiveWorkoutURLValidator() *WorkoutURLValidator {
	return &WorkoutURLValidator{
		AllowLocalhost:  true,
		AllowPrivateIPs: true,
		MaxLength:       2048,
	}
}

// ValidateAndNormalize checks a submitted locator and returns its canonical
// form (see Normalize).
func (v *WorkoutURLValidator) ValidateAndNormalize(input string) (string, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}
	if len(input) > v.MaxLength {
		return "", fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(input, "<>\"'` ") {
		return "", fmt.Errorf("URL contains invalid characters")
	}

	if !strings.Contains(input, "://") {
		input = "https://" + input
	}

	parsed, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("URL must use http or https protocol")
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("URL must have a valid hostname")
	}
	if strings.Contains(parsed.Path, "..") {
		return "", fmt.Errorf("directory traversal patterns not allowed in URL path")
	}

	if err := v.validateHost(parsed.Hostname()); err != nil {
		return "", err
	}

	return normalizeParsed(parsed), nil
}

func (v *WorkoutURLValidator) validateHost(hostname string) error {
	hostname = strings.ToLower(hostname)

	if len(v.AllowedHosts) > 0 {
		allowed := false
		for _, h := range v.AllowedHosts {
			if hostname == h {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("host %q is not a supported workout site", hostname)
		}
	}

	if !v.AllowLocalhost && isLocalhost(hostname) {
		return fmt.Errorf("localhost URLs are not permitted")
	}

	if !v.AllowPrivateIPs {
		if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("private IP addresses are not permitted")
		}
	}

	return nil
}

// StripQuery removes the query string and fragment from a locator.
func StripQuery(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Normalize maps a locator to its canonical form: https scheme when missing,
// lower-case host, regional Fitness+ storefronts rewritten to /us/, query and
// fragment dropped and no trailing slash. Unparseable input is returned with
// only the query stripped.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return StripQuery(raw)
	}
	return normalizeParsed(parsed)
}

func normalizeParsed(u *url.URL) string {
	out := url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
		Path:   u.Path,
	}
	if out.Host == FitnessHost {
		out.Scheme = "https"
		out.Path = rewriteRegion(out.Path)
	}
	out.Path = strings.TrimRight(out.Path, "/")
	return out.String()
}

func rewriteRegion(path string) string {
	m := regionPrefix.FindStringSubmatch(path)
	if m == nil {
		return path
	}
	return "/" + CanonicalRegion + m[2]
}

// Region returns the two-letter storefront of a Fitness+ locator, or "" when
// the path carries none.
func Region(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if m := regionPrefix.FindStringSubmatch(parsed.Path); m != nil {
		return m[1]
	}
	return ""
}

// IdentityKey derives the stable cache key for a locator: hex SHA-256 of its
// canonical form. Every regional and query variant of a page yields the same key.
func IdentityKey(raw string) string {
	sum := sha256.Sum256([]byte(Normalize(raw)))
	return hex.EncodeToString(sum[:])
}

func isLocalhost(hostname string) bool {
	return hostname == "localhost" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".localhost") ||
		strings.HasPrefix(hostname, "127.")
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsUnspecified()
}
