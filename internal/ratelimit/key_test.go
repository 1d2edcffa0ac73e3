// ABOUTME: Tests for rate-limit key derivation
// ABOUTME: Spoofed forwarding headers never change the key of an untrusted peer

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func keyRequest(remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents/register", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestPeerKey(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name     string
		trustAll bool
		remote   string
		headers  map[string]string
		want     string
	}{
		{"untrusted peer ignores xff", false, "203.0.113.7:5555", map[string]string{"X-Forwarded-For": "198.51.100.1"}, "203.0.113.7"},
		{"untrusted peer ignores x-real-ip", false, "203.0.113.7:5555", map[string]string{"X-Real-IP": "198.51.100.1"}, "203.0.113.7"},
		{"trusted proxy uses client hop", false, "10.1.2.3:80", map[string]string{"X-Forwarded-For": "198.51.100.1"}, "198.51.100.1"},
		{"trusted proxy skips spoofed left hops", false, "10.1.2.3:80", map[string]string{"X-Forwarded-For": "1.2.3.4, 198.51.100.1, 10.9.9.9"}, "198.51.100.1"},
		{"trusted proxy with garbage hop", false, "10.1.2.3:80", map[string]string{"X-Forwarded-For": "nonsense"}, "10.1.2.3"},
		{"trusted proxy x-real-ip", false, "10.1.2.3:80", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"trusted proxy no headers", false, "10.1.2.3:80", nil, "10.1.2.3"},
		{"trust all", true, "203.0.113.7:5555", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "198.51.100.1"},
		{"trust all without header", true, "203.0.113.7:5555", nil, "203.0.113.7"},
		{"remote without port", false, "203.0.113.7", nil, "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := PeerKey(trusted, tt.trustAll)
			assert.Equal(t, tt.want, key(keyRequest(tt.remote, tt.headers)))
		})
	}
}

func TestPeerKey_RotatingHeaderSharesBudget(t *testing.T) {
	m, _ := newTestMemory(t, 0)
	rule := Rule{Name: "register", Limit: 2, Window: time.Minute}
	handler := Middleware(m, rule, PeerKey(nil, false), rejectTooMany, testLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }))

	created := 0
	for _, spoof := range []string{"10.0.0.0", "10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, keyRequest("203.0.113.7:40000", map[string]string{"X-Forwarded-For": spoof}))
		if rec.Code == http.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 2, created)
}
