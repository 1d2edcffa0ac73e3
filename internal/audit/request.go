// ABOUTME: Extracts client IP and User-Agent from HTTP requests for audit records
// ABOUTME: Prefers the first X-Forwarded-For hop, then X-Real-IP, then the socket address

package audit

import (
	"net"
	"net/http"
	"strings"
)

// RequestInfo is the HTTP context attached to an audit event.
type RequestInfo struct {
	IP        string
	UserAgent string
}

// RequestInfoFromHTTP captures the client IP and User-Agent of r.
func RequestInfoFromHTTP(r *http.Request) RequestInfo {
	return RequestInfo{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// ClientIP extracts the client IP from proxy headers or the connection.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
