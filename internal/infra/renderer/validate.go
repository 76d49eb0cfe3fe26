package renderer

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Sentinel errors for target vetting.
var (
	ErrInvalidURL = errors.New("invalid URL")
	ErrPrivateIP  = errors.New("URL resolves to private IP")
)

// checkTarget vets a URL before the renderer touches it. Enriched posts
// carry attacker-controlled links, and the headless browser runs with the
// host's network access, so besides rejecting non-HTTP schemes the
// renderer refuses targets that land in address space it could use to
// reach internal services.
func checkTarget(rawURL string, denyPrivateIPs bool) error {
	u, err := url.Parse(rawURL)
	switch {
	case err != nil:
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	case u.Hostname() == "":
		return fmt.Errorf("%w: no hostname in %q", ErrInvalidURL, rawURL)
	}
	if !denyPrivateIPs {
		return nil
	}

	host := u.Hostname()

	// Literal addresses need no DNS round trip.
	if ip := net.ParseIP(host); ip != nil {
		if blockedAddr(ip) {
			return fmt.Errorf("%w: %s", ErrPrivateIP, host)
		}
		return nil
	}

	// Resolve and vet every address; a hostname with one public and one
	// internal A record is still a rebinding vector.
	addrs, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrInvalidURL, host, err)
	}
	for _, addr := range addrs {
		if blockedAddr(addr) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateIP, host, addr)
		}
	}
	return nil
}

// blockedAddr covers the unspecified address, loopback, RFC 1918 / ULA
// ranges, and link-local space for both address families.
func blockedAddr(ip net.IP) bool {
	return ip.IsUnspecified() ||
		ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast()
}
