// ABOUTME: Input validation for agent names, owner names, and owner emails
// ABOUTME: Returns *ValidationError describing the offending field

package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinAgentNameLength and MaxAgentNameLength bound agent handles.
	MinAgentNameLength = 3
	MaxAgentNameLength = 30

	// MaxDescriptionLength caps the free-form agent description.
	MaxDescriptionLength = 500

	// MaxOwnerNameLength caps the owner display name.
	MaxOwnerNameLength = 100
)

var (
	agentNameRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	emailRegex     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ValidationError represents a field-level validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AgentName checks the raw name supplied at registration and returns it
// normalized to lowercase. Uniqueness is compared on the normalized form.
func AgentName(name string) (string, error) {
	if name == "" {
		return "", &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) < MinAgentNameLength || len(name) > MaxAgentNameLength {
		return "", &ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("name must be %d-%d characters", MinAgentNameLength, MaxAgentNameLength),
		}
	}
	if !agentNameRegex.MatchString(name) {
		return "", &ValidationError{
			Field:   "name",
			Message: "name can only contain letters, numbers, and underscores",
		}
	}
	return strings.ToLower(name), nil
}

// Description trims the description and enforces its length cap.
func Description(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return "", &ValidationError{
			Field:   "description",
			Message: fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength),
		}
	}
	return desc, nil
}

// OwnerName requires a non-blank display name for the claiming human.
func OwnerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: "owner_name", Message: "owner_name is required"}
	}
	if utf8.RuneCountInString(name) > MaxOwnerNameLength {
		return "", &ValidationError{
			Field:   "owner_name",
			Message: fmt.Sprintf("owner_name must be %d characters or less", MaxOwnerNameLength),
		}
	}
	return name, nil
}

// OwnerEmail validates an optional email. Empty input is allowed and
// returned as empty; anything else is lowercased.
func OwnerEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	if !emailRegex.MatchString(email) {
		return "", &ValidationError{Field: "owner_email", Message: "Invalid email format"}
	}
	return strings.ToLower(email), nil
}
