// ABOUTME: Audit event entity and store methods for security-relevant agent actions
// ABOUTME: Append-only records of registrations and claim activity with request metadata

package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditAgentRegister AuditAction = "agent_register"
	AuditClaimView     AuditAction = "claim_view"
	AuditClaimConfirm  AuditAction = "claim_confirm"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditAgentRegister,
	AuditClaimView,
	AuditClaimConfirm,
}

// IsValidAuditAction reports whether a is a known action.
func IsValidAuditAction(a AuditAction) bool {
	for _, v := range ValidAuditActions {
		if v == a {
			return true
		}
	}
	return false
}

// AuditEvent is a single append-only audit record.
type AuditEvent struct {
	ID        string         // ULID, sortable by creation time
	Action    AuditAction    // what happened
	AgentID   *string        // agent involved, if any
	OwnerID   *string        // owner involved, if any
	IPAddress string         // client IP as seen by the HTTP layer
	UserAgent string         // client User-Agent header
	Detail    map[string]any // additional context
	CreatedAt time.Time
}

// AuditFilter specifies filtering options for listing audit events.
type AuditFilter struct {
	Since   *time.Time
	Until   *time.Time
	Action  *AuditAction
	AgentID *string
	OwnerID *string
	Limit   int // default 100, max 1000
}

// newAuditID returns a ULID using crypto/rand entropy.
func newAuditID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// AppendAuditEvent appends a new event to the audit log.
// Generates ID and CreatedAt if not set.
func (s *sqlStore) AppendAuditEvent(ctx context.Context, e *AuditEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = newAuditID(e.CreatedAt)
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_events (id, action, agent_id, owner_id, ip_address, user_agent, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.bind(query),
		e.ID,
		string(e.Action),
		e.AgentID,
		e.OwnerID,
		e.IPAddress,
		e.UserAgent,
		detailJSON,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}

	s.logger.Debug("appended audit event", "id", e.ID, "action", e.Action)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// Parameters are cast so PostgreSQL can type the IS NULL checks.
const auditEventsQuery = `
	SELECT id, action, agent_id, owner_id, ip_address, user_agent, detail_json, created_at
	FROM audit_events
	WHERE (CAST(? AS TEXT) IS NULL OR created_at >= ?)
	  AND (CAST(? AS TEXT) IS NULL OR created_at <= ?)
	  AND (CAST(? AS TEXT) IS NULL OR action = ?)
	  AND (CAST(? AS TEXT) IS NULL OR agent_id = ?)
	  AND (CAST(? AS TEXT) IS NULL OR owner_id = ?)
	ORDER BY id DESC
	LIMIT ?
`

// ListAuditEvents returns events matching the filter, newest first.
func (s *sqlStore) ListAuditEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, error) {
	var since, until, action *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		since = &v
	}
	if f.Until != nil {
		v := formatTime(*f.Until)
		until = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		action = &v
	}

	rows, err := s.db.QueryContext(ctx, s.bind(auditEventsQuery),
		since, since,
		until, until,
		action, action,
		f.AgentID, f.AgentID,
		f.OwnerID, f.OwnerID,
		normalizeAuditLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []AuditEvent{}
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}

// scanAuditEvent scans a row into an AuditEvent.
func scanAuditEvent(scanner interface{ Scan(dest ...any) error }) (AuditEvent, error) {
	var e AuditEvent
	var action, createdAt string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&action,
		&e.AgentID,
		&e.OwnerID,
		&e.IPAddress,
		&e.UserAgent,
		&detailJSON,
		&createdAt,
	); err != nil {
		return e, fmt.Errorf("scanning audit event: %w", err)
	}

	e.Action = AuditAction(action)
	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}
