package toolsafety

import (
	"fmt"
	"net/url"

	"github.com/jarvis-labs/fabric/internal/net/ssrf"
)

// allowedSchemes is the set of URL schemes a tool is ever permitted to fetch.
var allowedSchemes = map[string]bool{"http": true, "https": true}

// CheckOutboundURL validates that a tool-initiated request is safe to make:
// the scheme must be http(s) and the host must pass ssrf.ValidatePublicHostname
// (rejecting blocked hostnames, dangerous suffixes, and any hostname that
// resolves to a private or loopback address).
func CheckOutboundURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("toolsafety: invalid URL: %w", err)
	}
	if !allowedSchemes[u.Scheme] {
		return fmt.Errorf("toolsafety: scheme %q not allowed", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("toolsafety: URL has no host")
	}
	if err := ssrf.ValidatePublicHostname(u.Hostname()); err != nil {
		return fmt.Errorf("toolsafety: %w", err)
	}
	return nil
}
