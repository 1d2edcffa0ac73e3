// ABOUTME: HTTP handlers for the public claim handshake
// ABOUTME: Provides GET /api/v1/claim/{token} and POST /api/v1/claim/confirm/{token}

package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pengfeipang/aizn/internal/audit"
	"github.com/pengfeipang/aizn/internal/claim"
)

// ClaimAgentView is the agent block of a claim info response. Description
// and expiry are omitted once the agent is claimed.
type ClaimAgentView struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ClaimInfoResponse is the JSON response for GET /api/v1/claim/{token}.
type ClaimInfoResponse struct {
	Success bool           `json:"success"`
	Agent   ClaimAgentView `json:"agent"`
}

// ConfirmClaimRequestBody is the JSON request body for POST /api/v1/claim/confirm/{token}.
type ConfirmClaimRequestBody struct {
	OwnerName  string `json:"owner_name"`
	OwnerEmail string `json:"owner_email,omitempty"`
}

// ConfirmClaimResponse is the JSON response for a successful claim.
type ConfirmClaimResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Agent   ClaimAgentView `json:"agent"`
	Owner   OwnerRef       `json:"owner"`
}

// handleClaimInfo handles GET /api/v1/claim/{token}.
func (g *Gateway) handleClaimInfo(w http.ResponseWriter, r *http.Request) {
	info, err := g.claims.GetClaimInfo(r.Context(), chi.URLParam(r, "token"), audit.RequestInfoFromHTTP(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimInfoResponse{
		Success: true,
		Agent: ClaimAgentView{
			Name:        info.Name,
			Description: info.Description,
			Status:      info.Status,
			ExpiresAt:   info.ExpiresAt,
		},
	})
}

// handleConfirmClaim handles POST /api/v1/claim/confirm/{token}.
func (g *Gateway) handleConfirmClaim(w http.ResponseWriter, r *http.Request) {
	var body ConfirmClaimRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}

	conf, err := g.claims.ConfirmClaim(r.Context(), claim.ConfirmRequest{
		Token:      chi.URLParam(r, "token"),
		OwnerName:  body.OwnerName,
		OwnerEmail: body.OwnerEmail,
	}, audit.RequestInfoFromHTTP(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ConfirmClaimResponse{
		Success: true,
		Message: fmt.Sprintf("Successfully claimed %s!", conf.Agent.Name),
		Agent: ClaimAgentView{
			Name:   conf.Agent.Name,
			Status: string(conf.Agent.Status),
		},
		Owner: OwnerRef{ID: conf.Owner.ID, Name: conf.Owner.Name},
	})
}
