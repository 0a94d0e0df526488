package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Errors
var (
	ErrInvalidURL     = errors.New("security: invalid provider URL")
	ErrInsecureScheme = errors.New("security: provider URL must use https")
	ErrBlockedHost    = errors.New("security: provider host is not allowed")
)

var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// ValidateProviderURL checks a configured outbound provider base URL.
// Unless allowPrivate is set it must be https and must not name a loopback,
// private, link-local or metadata host. Hostnames are not resolved.
func ValidateProviderURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if allowPrivate {
		return nil
	}

	if u.Scheme != "https" {
		return ErrInsecureScheme
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		if err := checkIP(ip); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBlockedHost, host, err)
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	if ip.IsLoopback() {
		return errors.New("loopback address")
	}
	if ip.IsPrivate() {
		return errors.New("private address")
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return errors.New("link-local address")
	}
	if ip.IsUnspecified() {
		return errors.New("unspecified address")
	}
	return nil
}
