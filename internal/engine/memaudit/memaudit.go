// Package memaudit provides an in-memory implementation of engine.AuditLog.
package memaudit

import (
	"context"
	"strings"
	"sync"

	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/engine"
)

// Log holds audit entries in memory. Suitable for dev/testing; entries do
// not survive restarts, so the detector recovery path does not apply.
type Log struct {
	mu      sync.RWMutex
	entries []engine.AuditEntry
	seq     uint64
}

// New initializes an empty in-memory Log.
func New() *Log {
	return &Log{}
}

// Append stores a copy of the entry and assigns the next sequence number.
func (l *Log) Append(_ context.Context, e *engine.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	e.Seq = l.seq
	l.entries = append(l.entries, *e)
	return nil
}

// Query returns entries matching the filter in append order (which is
// decision-time order for entries written by one engine).
func (l *Log) Query(_ context.Context, f engine.AuditFilter) ([]engine.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []engine.AuditEntry
	for i := range l.entries {
		e := &l.entries[i]
		if f.AlertID != "" && e.Alert.ID != f.AlertID {
			continue
		}
		if f.Host != "" && !strings.EqualFold(e.Alert.Host, f.Host) {
			continue
		}
		if !f.From.IsZero() && e.Decision.DecidedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Decision.DecidedAt.After(f.To) {
			continue
		}
		out = append(out, *e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// FetchHistory implements engine.HistorySource from the audit trail:
// most recent alerts for the same host, newest first.
func (l *Log) FetchHistory(_ context.Context, al *alert.Alert, limit int) ([]alert.Alert, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []alert.Alert
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := &l.entries[i]
		if !strings.EqualFold(e.Alert.Host, al.Host) {
			continue
		}
		out = append(out, e.Alert)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
