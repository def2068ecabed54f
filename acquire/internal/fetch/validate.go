package fetch

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrPrivateHost is returned when a URL targets a private or loopback address.
var ErrPrivateHost = errors.New("fetch: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("fetch: only http and https schemes are allowed")

var privateRanges = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "169.254.0.0/16", "fc00::/7"} {
		_, n, err := net.ParseCIDR(cidr)
		if err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

// ValidateURL checks that rawURL uses http/https, has a host, and does not
// point to a literal private or loopback IP. Hostnames are not resolved:
// the pipeline only talks to a fixed list of public data hosts.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("fetch: empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("fetch: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("fetch: URL has no host")
	}
	if strings.EqualFold(host, "localhost") {
		return ErrPrivateHost
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return ErrPrivateHost
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return ErrPrivateHost
		}
	}
	return nil
}
