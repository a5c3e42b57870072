package skills

import (
	"fmt"
	"strings"
)

// ValidationError describes a malformed skill document. It is fatal for the
// one skill but never for discovery as a whole.
type ValidationError struct {
	// MissingFields names required frontmatter fields that were absent.
	MissingFields []string
	// Reason carries a free-form description for non-field problems.
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("invalid skill document: missing required fields: %s",
			strings.Join(e.MissingFields, ", "))
	}
	return "invalid skill document: " + e.Reason
}

// NotFoundError identifies an unknown skill, script, or reference. Surfaced
// to callers as an explicit failure, never silently treated as success.
type NotFoundError struct {
	Kind string // "skill", "script", or "reference"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}
