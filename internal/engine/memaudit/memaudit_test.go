package memaudit

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/engine"
)

var t0 = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func entryFor(id, host string, decidedAt time.Time) *engine.AuditEntry {
	return &engine.AuditEntry{
		Alert: alert.Alert{
			ID:        id,
			Host:      host,
			Title:     "disk full",
			Severity:  alert.SeverityWarning,
			Timestamp: decidedAt,
		},
		Decision: engine.Decision{
			ID:        "d-" + id,
			AlertID:   id,
			Verdict:   engine.VerdictKeep,
			Reason:    engine.ReasonKeptLowConfidence,
			DecidedAt: decidedAt,
		},
		CreatedAt: decidedAt,
	}
}

func TestAppend_AssignsMonotonicSeq(t *testing.T) {
	t.Parallel()

	l := New()
	ctx := context.Background()

	for i := range 3 {
		e := entryFor("a", "h1", t0.Add(time.Duration(i)*time.Minute))
		if err := l.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if e.Seq != uint64(i+1) {
			t.Errorf("Seq = %d, want %d", e.Seq, i+1)
		}
	}
}

func TestQuery_Filters(t *testing.T) {
	t.Parallel()

	l := New()
	ctx := context.Background()

	if err := l.Append(ctx, entryFor("a-1", "web-01", t0)); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(ctx, entryFor("a-2", "db-01", t0.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(ctx, entryFor("a-3", "web-01", t0.Add(2*time.Minute))); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter engine.AuditFilter
		want   []string
	}{
		{"all", engine.AuditFilter{}, []string{"a-1", "a-2", "a-3"}},
		{"by alert id", engine.AuditFilter{AlertID: "a-2"}, []string{"a-2"}},
		{"by host case-insensitive", engine.AuditFilter{Host: "WEB-01"}, []string{"a-1", "a-3"}},
		{"from", engine.AuditFilter{From: t0.Add(time.Minute)}, []string{"a-2", "a-3"}},
		{"to", engine.AuditFilter{To: t0.Add(time.Minute)}, []string{"a-1", "a-2"}},
		{"limit", engine.AuditFilter{Limit: 2}, []string{"a-1", "a-2"}},
		{"no match", engine.AuditFilter{Host: "nope"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := l.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i, e := range got {
				if e.Alert.ID != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, e.Alert.ID, tt.want[i])
				}
			}
		})
	}
}

func TestQuery_ReturnsCopies(t *testing.T) {
	t.Parallel()

	l := New()
	ctx := context.Background()
	if err := l.Append(ctx, entryFor("a-1", "web-01", t0)); err != nil {
		t.Fatal(err)
	}

	got, err := l.Query(ctx, engine.AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	got[0].Alert.Host = "mutated"

	again, err := l.Query(ctx, engine.AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if again[0].Alert.Host != "web-01" {
		t.Error("stored entry mutated through Query result")
	}
}

func TestFetchHistory_NewestFirstSameHost(t *testing.T) {
	t.Parallel()

	l := New()
	ctx := context.Background()

	if err := l.Append(ctx, entryFor("a-1", "web-01", t0)); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(ctx, entryFor("a-2", "db-01", t0.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(ctx, entryFor("a-3", "web-01", t0.Add(2*time.Minute))); err != nil {
		t.Fatal(err)
	}

	got, err := l.FetchHistory(ctx, &alert.Alert{Host: "web-01"}, 10)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d alerts, want 2", len(got))
	}
	if got[0].ID != "a-3" || got[1].ID != "a-1" {
		t.Errorf("order = [%s %s], want [a-3 a-1]", got[0].ID, got[1].ID)
	}
}

func TestFetchHistory_Limit(t *testing.T) {
	t.Parallel()

	l := New()
	ctx := context.Background()
	for i := range 5 {
		if err := l.Append(ctx, entryFor("a", "web-01", t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.FetchHistory(ctx, &alert.Alert{Host: "web-01"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d alerts, want limit of 2", len(got))
	}
}
