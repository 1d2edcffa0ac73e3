// ABOUTME: Admin HTTP handlers guarded by an admin JWT
// ABOUTME: Provides GET /api/v1/admin/audit for querying the audit trail

package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pengfeipang/aizn/internal/auth"
	"github.com/pengfeipang/aizn/internal/store"
	"github.com/pengfeipang/aizn/internal/validate"
)

// AuditEventResponse is one audit record in the admin API.
type AuditEventResponse struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	AgentID   *string        `json:"agent_id"`
	OwnerID   *string        `json:"owner_id"`
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAuditResponse is the JSON response for GET /api/v1/admin/audit.
type ListAuditResponse struct {
	Events []AuditEventResponse `json:"events"`
	Count  int                  `json:"count"`
}

// handleListAudit handles GET /api/v1/admin/audit.
// Query: action, agent_id, owner_id, since, until (RFC3339), limit.
func (g *Gateway) handleListAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	events, err := g.store.ListAuditEvents(r.Context(), filter)
	if err != nil {
		g.writeError(w, r, fmt.Errorf("listing audit events: %w", err))
		return
	}

	g.logger.Info("audit queried", "admin", auth.AdminFromContext(r.Context()), "count", len(events))

	resp := ListAuditResponse{
		Events: make([]AuditEventResponse, 0, len(events)),
		Count:  len(events),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, AuditEventResponse{
			ID:        e.ID,
			Action:    string(e.Action),
			AgentID:   e.AgentID,
			OwnerID:   e.OwnerID,
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseAuditFilter(q url.Values) (store.AuditFilter, error) {
	var f store.AuditFilter

	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		if !store.IsValidAuditAction(action) {
			return f, &validate.ValidationError{Field: "action", Message: fmt.Sprintf("unknown audit action %q", v)}
		}
		f.Action = &action
	}
	if v := q.Get("agent_id"); v != "" {
		f.AgentID = &v
	}
	if v := q.Get("owner_id"); v != "" {
		f.OwnerID = &v
	}

	for _, tf := range []struct {
		name string
		dst  **time.Time
	}{
		{"since", &f.Since},
		{"until", &f.Until},
	} {
		v := q.Get(tf.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &validate.ValidationError{Field: tf.name, Message: "must be an RFC3339 timestamp"}
		}
		t = t.UTC()
		*tf.dst = &t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &validate.ValidationError{Field: "limit", Message: "must be a non-negative integer"}
		}
		f.Limit = n
	}

	return f, nil
}
