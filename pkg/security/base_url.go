// Package security validates the endpoints the sync client is allowed to talk to.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrDisallowedURL = errors.New("disallowed base URL")

// BaseURLOptions configures base URL validation.
type BaseURLOptions struct {
	// AllowHTTP permits plain HTTP. HTTPS is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback, private and link-local targets.
	AllowLocalNetworks bool
}

// ValidateBaseURL checks that rawURL can be used as the remote API root.
// IP literals are checked without DNS lookups.
func ValidateBaseURL(rawURL string, opts BaseURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid base URL")
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return errors.Wrap(ErrDisallowedURL, "http scheme is not allowed")
		}
	default:
		return errors.Wrapf(ErrDisallowedURL, "unsupported scheme %q", parsed.Scheme)
	}

	if parsed.User != nil {
		return errors.Wrap(ErrDisallowedURL, "credentials in base URL are not allowed")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return errors.Wrap(ErrDisallowedURL, "base URL must not carry a query or fragment")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Wrap(ErrDisallowedURL, "host is required")
	}

	if !opts.AllowLocalNetworks && isLocalHostname(host) {
		return errors.Wrapf(ErrDisallowedURL, "local hostname %q", host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !opts.AllowLocalNetworks {
		return errors.Wrapf(ErrDisallowedURL, "zoned address %q", host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Wrapf(ErrDisallowedURL, "address %q", host)
	}
	if !opts.AllowLocalNetworks &&
		(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
		return errors.Wrapf(ErrDisallowedURL, "local network address %q", host)
	}
	return nil
}

func isLocalHostname(host string) bool {
	return host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local")
}
