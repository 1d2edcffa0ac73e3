// ABOUTME: Maps domain sentinel errors to HTTP status codes and JSON error bodies
// ABOUTME: Every handler and middleware failure goes through writeError

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pengfeipang/aizn/internal/auth"
	"github.com/pengfeipang/aizn/internal/claim"
	"github.com/pengfeipang/aizn/internal/ratelimit"
	"github.com/pengfeipang/aizn/internal/registry"
	"github.com/pengfeipang/aizn/internal/store"
	"github.com/pengfeipang/aizn/internal/validate"
)

// Error codes returned in the "error" field.
const (
	codeValidation        = "validation_error"
	codeNameTaken         = "name_taken"
	codeMissingCredential = "missing_credential"
	codeInvalidCredential = "invalid_credential"
	codeNotClaimed        = "not_claimed"
	codeNotFound          = "not_found"
	codeAlreadyClaimed    = "already_claimed"
	codeClaimExpired      = "claim_token_expired"
	codeRateLimited       = "rate_limited"
	codeInternal          = "internal_error"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// classify maps err to a status and response body. The bool reports
// whether the error is unexpected and deserves an error log.
func classify(err error) (int, ErrorResponse, bool) {
	var verr *validate.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: codeValidation, Message: verr.Message, Field: verr.Field}, false
	case errors.Is(err, registry.ErrNameTaken):
		return http.StatusBadRequest, ErrorResponse{Error: codeNameTaken, Message: "The name is already registered"}, false
	case errors.Is(err, auth.ErrMissingCredential):
		return http.StatusUnauthorized, ErrorResponse{Error: codeMissingCredential, Message: "Missing or malformed Authorization header"}, false
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized, ErrorResponse{Error: codeInvalidCredential, Message: "Invalid API key"}, false
	case errors.Is(err, auth.ErrNotClaimed):
		return http.StatusForbidden, ErrorResponse{Error: codeNotClaimed, Message: "Your human needs to claim you first!"}, false
	case errors.Is(err, claim.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: codeNotFound, Message: "Agent not found"}, false
	case errors.Is(err, claim.ErrAlreadyClaimed):
		return http.StatusBadRequest, ErrorResponse{Error: codeAlreadyClaimed, Message: "Agent already claimed"}, false
	case errors.Is(err, claim.ErrClaimTokenExpired):
		return http.StatusBadRequest, ErrorResponse{Error: codeClaimExpired, Message: "Claim token has expired. Please register again."}, false
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: codeInternal, Message: "Internal server error"}, true
	}
}

// writeError writes err as a JSON error response. Internal error details
// are only exposed outside production.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body, unexpected := classify(err)
	body.RequestID = middleware.GetReqID(r.Context())

	if unexpected {
		g.logger.Error("request failed",
			"method", r.Method,
			"route", loggedRoute(r),
			"request_id", body.RequestID,
			"error", err,
		)
		if !g.config.IsProduction() {
			body.Details = err.Error()
		}
	}

	writeJSON(w, status, body)
}

// writeRateLimited is the ratelimit.RejectFunc for every limited route.
func (g *Gateway) writeRateLimited(w http.ResponseWriter, r *http.Request, d ratelimit.Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(g.clock.Now())))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:     codeRateLimited,
		Message:   "Too many requests. Please try again later.",
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
