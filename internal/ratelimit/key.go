// ABOUTME: Derives the rate-limit key for a request from its socket peer
// ABOUTME: Forwarded headers count only when the peer is a trusted proxy

package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// PeerKey returns a KeyFunc that keys on the connection's remote address.
// When the peer falls inside trusted, the nearest untrusted X-Forwarded-For
// hop (walking right to left) is used instead. trustAll believes the first
// X-Forwarded-For hop from any peer.
func PeerKey(trusted []netip.Prefix, trustAll bool) KeyFunc {
	return func(r *http.Request) string {
		peer := remoteHost(r.RemoteAddr)

		if trustAll {
			if ip := firstForwarded(r); ip != "" {
				return ip
			}
			return peer
		}

		addr, err := netip.ParseAddr(peer)
		if err != nil || !contains(trusted, addr) {
			return peer
		}

		hops := forwardedHops(r)
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(hops[i])
			if err != nil {
				// Anything left of an unparseable hop is client-controlled.
				return peer
			}
			if !contains(trusted, hop) {
				return hop.Unmap().String()
			}
		}
		if len(hops) == 0 {
			if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
				return ip.Unmap().String()
			}
		}
		return peer
	}
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func forwardedHops(r *http.Request) []string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	return hops
}

func firstForwarded(r *http.Request) string {
	if hops := forwardedHops(r); len(hops) > 0 {
		return hops[0]
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}

func contains(nets []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range nets {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
