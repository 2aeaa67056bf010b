// ABOUTME: Comparison-key normalization and target-name validation
// ABOUTME: Shared by reconciliation, discovery and the admin service

package naming

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const (
	// MaxKeyLength bounds keys derived from hosts.
	MaxKeyLength = 50

	// MaxNameLength bounds any stored target name.
	MaxNameLength = 100

	// DigitPrefix is prepended to keys that would start with a digit.
	DigitPrefix = "site_"
)

var (
	nameRegex     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	hostnameRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
	keyStrip      = regexp.MustCompile(`[^a-z0-9_]`)
)

// reservedNames collide with section names in the daemon configuration.
var reservedNames = map[string]bool{
	"targets":      true,
	"probes":       true,
	"general":      true,
	"database":     true,
	"presentation": true,
}

// Host reduces a host, domain or URL to a bare lowercase hostname.
// Scheme, userinfo, path, query and port are removed.
func Host(raw string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexAny(h, "/?#"); i >= 0 {
		h = h[:i]
	}
	if i := strings.LastIndex(h, "@"); i >= 0 {
		h = h[i+1:]
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimSuffix(strings.Trim(h, "[]"), ".")
}

// Key returns the comparison key for a host, domain or URL.
// The result is stable: Key(Key(x)) == Key(x).
func Key(raw string) string {
	k := Host(raw)
	k = strings.TrimPrefix(k, "www.")
	k = strings.NewReplacer(".", "_", "-", "_", ":", "_").Replace(k)
	k = keyStrip.ReplaceAllString(k, "")
	if k != "" && k[0] >= '0' && k[0] <= '9' {
		k = DigitPrefix + k
	}
	if len(k) > MaxKeyLength {
		k = k[:MaxKeyLength]
	}
	return k
}

// ValidateName checks that name can be used as a target identifier.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name %q exceeds %d characters", name, MaxNameLength)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("name %q must start with a letter and contain only letters, digits and underscores", name)
	}
	if reservedNames[strings.ToLower(name)] {
		return fmt.Errorf("%q is a reserved name", name)
	}
	return nil
}

// ValidateHost accepts IP literals and syntactically valid hostnames.
// No DNS resolution is attempted.
func ValidateHost(host string) error {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if len(h) > 253 {
		return fmt.Errorf("host too long (max 253 characters)")
	}
	if ip := net.ParseIP(h); ip != nil {
		if ip.IsLoopback() || ip.IsUnspecified() {
			return fmt.Errorf("loopback or unspecified address: %s", h)
		}
		return nil
	}
	if !hostnameRegex.MatchString(h) {
		return fmt.Errorf("invalid hostname format: %s", h)
	}
	return nil
}

// IsIPv6 reports whether host is an IPv6 literal.
func IsIPv6(host string) bool {
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.To4() == nil
}

// SafeLabel turns free text such as a city name into an identifier fragment.
func SafeLabel(s string) string {
	s = strings.NewReplacer(".", "", ",", "", "(", "", ")", "", " ", "_", "-", "_").Replace(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
