package utils

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

// NormalizeHostname returns the canonical form used for every blocklist lookup:
// - Trimmed and lowercased
// - A single trailing dot removed ("google.com." scans as "google.com")
// - Internationalized labels converted to their ASCII (punycode) form
func NormalizeHostname(host string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("%w: empty hostname", domain.ErrInvalidURL)
	}
	ascii, err := idna.Punycode.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	return ascii, nil
}

// HostnameFromURL parses rawURL and returns its normalized hostname.
// The URL must be absolute; "example.com" without a scheme has no host.
func HostnameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q has no hostname", domain.ErrInvalidURL, rawURL)
	}
	return NormalizeHostname(u.Hostname())
}

// HostnameFromInput accepts an absolute URL or a bare hostname. Bare input is
// checked against the IDNA lookup rules, so paths, ports and spaces are
// rejected instead of being kept verbatim.
func HostnameFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "://") {
		return HostnameFromURL(input)
	}
	host := strings.TrimSuffix(strings.ToLower(input), ".")
	if host == "" {
		return "", fmt.Errorf("%w: empty hostname", domain.ErrInvalidURL)
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	return ascii, nil
}

// IsPublicSuffix reports whether name is itself a public suffix such as
// "com" or "co.uk", i.e. nothing a user could meaningfully allow.
func IsPublicSuffix(name string) bool {
	suffix, _ := publicsuffix.PublicSuffix(name)
	return suffix == name
}

// RegistrableDomain returns the eTLD+1 of name, or name itself when it has none.
func RegistrableDomain(name string) string {
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}
