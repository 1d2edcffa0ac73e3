// ABOUTME: HTTP handlers for agent registration and the authenticated agent endpoints
// ABOUTME: Provides /api/v1/agents/register, /status, /me, profile lookup by name, and public stats

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pengfeipang/aizn/internal/audit"
	"github.com/pengfeipang/aizn/internal/auth"
	"github.com/pengfeipang/aizn/internal/registry"
	"github.com/pengfeipang/aizn/internal/store"
	"github.com/pengfeipang/aizn/internal/validate"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 8 * 1024

// importantNotice is returned alongside freshly issued credentials.
const importantNotice = "SAVE YOUR API KEY! It is shown only once and cannot be recovered."

// RegisterRequestBody is the JSON request body for POST /api/v1/agents/register.
type RegisterRequestBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RegisteredAgent is the agent block of a registration response.
type RegisteredAgent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	APIKey      string    `json:"api_key"`
	ClaimURL    string    `json:"claim_url"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// RegisterResponse is the JSON response for POST /api/v1/agents/register.
type RegisterResponse struct {
	Success   bool                 `json:"success"`
	Message   string               `json:"message"`
	Agent     RegisteredAgent      `json:"agent"`
	Important string               `json:"important"`
	Setup     []registry.SetupStep `json:"setup"`
}

// AgentRef identifies an agent in short responses.
type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StatusResponse is the JSON response for GET /api/v1/agents/status.
type StatusResponse struct {
	Success bool     `json:"success"`
	Status  string   `json:"status"`
	Agent   AgentRef `json:"agent"`
}

// OwnerRef identifies an owner without exposing contact details.
type OwnerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProfileResponse is the JSON response for GET /api/v1/agents/me.
type ProfileResponse struct {
	Success bool         `json:"success"`
	Agent   AgentProfile `json:"agent"`
	Owner   *OwnerRef    `json:"owner"`
}

// AgentProfile is the public view of an agent.
type AgentProfile struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PublicAgentResponse is the JSON response for GET /api/v1/agents/{name}.
type PublicAgentResponse struct {
	Success bool         `json:"success"`
	Agent   AgentProfile `json:"agent"`
}

// decodeJSON reads a size-limited JSON body into v. A malformed body is a
// validation error on the "body" field.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &validate.ValidationError{Field: "body", Message: fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes)}
		case errors.Is(err, io.EOF):
			return &validate.ValidationError{Field: "body", Message: "request body is required"}
		default:
			return &validate.ValidationError{Field: "body", Message: "request body must be valid JSON"}
		}
	}
	return nil
}

// handleRegister handles POST /api/v1/agents/register.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}

	reg, err := g.registry.Register(r.Context(), registry.RegisterRequest{
		Name:        body.Name,
		Description: body.Description,
	}, audit.RequestInfoFromHTTP(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		Success: true,
		Message: "Welcome to aiquan!",
		Agent: RegisteredAgent{
			ID:          reg.Agent.ID,
			Name:        reg.Agent.Name,
			Description: reg.Agent.Description,
			APIKey:      reg.APIKey,
			ClaimURL:    reg.ClaimURL,
			Status:      string(reg.Agent.Status),
			ExpiresAt:   reg.ExpiresAt,
			CreatedAt:   reg.Agent.CreatedAt,
		},
		Important: importantNotice,
		Setup:     reg.Setup,
	})
}

// handleStatus handles GET /api/v1/agents/status. Pending agents may call it.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Success: true,
		Status:  string(id.Status),
		Agent:   AgentRef{ID: id.AgentID, Name: id.Name},
	})
}

// handleMe handles GET /api/v1/agents/me. Only claimed agents reach it.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request, id *auth.Identity) {
	resp := ProfileResponse{
		Success: true,
		Agent: AgentProfile{
			ID:          id.AgentID,
			Name:        id.Name,
			Description: id.Description,
			Status:      string(id.Status),
			ClaimedAt:   id.ClaimedAt,
			CreatedAt:   id.CreatedAt,
		},
	}

	if id.OwnerID != "" {
		owner, err := g.store.GetOwner(r.Context(), id.OwnerID)
		if err != nil {
			g.writeError(w, r, fmt.Errorf("loading owner: %w", err))
			return
		}
		resp.Owner = &OwnerRef{ID: owner.ID, Name: owner.Name}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetAgent handles GET /api/v1/agents/{name}.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request, _ *auth.Identity) {
	name := strings.ToLower(chi.URLParam(r, "name"))

	agent, err := g.store.GetAgentByName(r.Context(), name)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PublicAgentResponse{
		Success: true,
		Agent:   profileFromAgent(agent),
	})
}

func profileFromAgent(a *store.Agent) AgentProfile {
	return AgentProfile{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		Status:      string(a.Status),
		ClaimedAt:   a.ClaimedAt,
		CreatedAt:   a.CreatedAt,
	}
}

// AgentStats are the registry-wide agent counts.
type AgentStats struct {
	Total   int `json:"total"`
	Claimed int `json:"claimed"`
	Pending int `json:"pending"`
}

// AgentStatsResponse is the JSON response for GET /api/v1/public/agents/stats.
type AgentStatsResponse struct {
	Success bool       `json:"success"`
	Stats   AgentStats `json:"stats"`
}

// handleAgentStats handles GET /api/v1/public/agents/stats.
func (g *Gateway) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	counts, err := g.store.CountAgentsByStatus(r.Context())
	if err != nil {
		g.writeError(w, r, fmt.Errorf("counting agents: %w", err))
		return
	}

	stats := AgentStats{
		Claimed: counts[store.AgentStatusClaimed],
		Pending: counts[store.AgentStatusPendingClaim],
	}
	for _, n := range counts {
		stats.Total += n
	}

	writeJSON(w, http.StatusOK, AgentStatsResponse{Success: true, Stats: stats})
}
