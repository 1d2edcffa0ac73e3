// ABOUTME: HTTP middleware for bearer-secret and admin-JWT authentication
// ABOUTME: Failures are handed to the caller's ErrorFunc so responses share one JSON shape

package auth

import (
	"net/http"
)

// ErrorFunc writes err as an HTTP response. The gateway supplies one that
// maps the package sentinels to status codes.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// HandlerFunc is an http.HandlerFunc that also receives the authenticated
// Identity.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, id *Identity)

// Handle adapts h for use behind Middleware.
func Handle(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, MustFromContext(r.Context()))
	})
}

// Middleware authenticates the bearer secret on every request and attaches
// the Identity to the request context.
func Middleware(authn *Authenticator, onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authn.AuthenticateHeader(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireClaimed rejects agents that have not been claimed yet.
// Must be used after Middleware.
func RequireClaimed(onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				onError(w, r, ErrMissingCredential)
				return
			}
			if !id.IsClaimed() {
				onError(w, r, ErrNotClaimed)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminMiddleware requires a valid admin JWT.
func AdminMiddleware(verifier TokenVerifier, onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				onError(w, r, ErrMissingCredential)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				onError(w, r, ErrInvalidCredential)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), subject)))
		})
	}
}
