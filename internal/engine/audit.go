package engine

import (
	"context"
	"fmt"
	"time"
)

// AuditFilter selects audit entries by alert id, host, and decision-time
// range. Zero values match everything; Limit <= 0 means no limit.
type AuditFilter struct {
	AlertID string
	Host    string
	From    time.Time
	To      time.Time
	Limit   int
}

// AuditLog is the append-only record of every decision. Append is the only
// mutator and assigns the entry's sequence number; it is total: if it fails
// the whole decision is rolled back to the caller as a hard failure. Query
// is read-only and reflects all entries appended before the query began,
// ordered by decision time.
type AuditLog interface {
	Append(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// AuditWriteError reports a failed audit append. The decision it would have
// recorded is not final; the caller must retry or escalate.
type AuditWriteError struct {
	Err error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit append failed: %v", e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }
