package models

import (
	"fmt"
	"strings"
)

// MaxQueryLength bounds the accepted query size in bytes.
const MaxQueryLength = 4000

// QueryRequest is a question together with the role of the authenticated caller.
// The role is carried for auditing only; authorization happens before the core is called.
type QueryRequest struct {
	Query string `json:"query"`
	Role  string `json:"role,omitempty"`
}

// Validate trims the query and role and rejects empty or oversized queries.
func (q *QueryRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	q.Role = strings.ToLower(strings.TrimSpace(q.Role))
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if len(q.Query) > MaxQueryLength {
		return fmt.Errorf("query exceeds %d bytes", MaxQueryLength)
	}
	if q.Role == "" {
		q.Role = "anonymous"
	}
	return nil
}
