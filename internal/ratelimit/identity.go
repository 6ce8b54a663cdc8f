package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIdentity buckets a request by network origin and declared user agent.
// It is not unique per physical user: clients behind one NAT with the same
// browser share a quota.
func ClientIdentity(r *http.Request, trustForwardedFor bool) string {
	return clientIP(r, trustForwardedFor) + ":" + r.UserAgent()
}

func clientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err == nil && host != "" {
		return host
	}
	if remote != "" {
		return remote
	}
	return "unknown"
}
