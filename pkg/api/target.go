package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
)

// ErrForbiddenTarget is returned for agent fetches aimed at the server's own
// network.
var ErrForbiddenTarget = errors.New("api: fetch target is a loopback, private, or link-local address")

// checkFetchTarget refuses URLs whose host is, or resolves to, an internal
// address. Hosts that do not resolve are left for the agent to fail on.
func checkFetchTarget(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("url has no host")
	}

	var addrs []netip.Addr
	if a, err := netip.ParseAddr(host); err == nil {
		addrs = append(addrs, a)
	} else {
		ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil
		}
		addrs = ips
	}
	for _, a := range addrs {
		if internalAddr(a.Unmap()) {
			return fmt.Errorf("%w: %s", ErrForbiddenTarget, host)
		}
	}
	return nil
}

func internalAddr(a netip.Addr) bool {
	return a.IsLoopback() || a.IsPrivate() || a.IsUnspecified() ||
		a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() || a.IsInterfaceLocalMulticast()
}
