package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/quell/internal/alert"
)

// mockScorer records calls and returns a preconfigured score or error.
type mockScorer struct {
	mu      sync.Mutex
	calls   int
	history []alert.Alert
	score   *SuppressionScore
	err     error
}

func (m *mockScorer) Score(_ context.Context, _ *alert.Alert, history []alert.Alert) (*SuppressionScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.history = history
	if m.err != nil {
		return nil, m.err
	}
	return m.score, nil
}

func (m *mockScorer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockAudit is an in-test audit log that can be told to fail.
type mockAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
	failErr error
}

func (m *mockAudit) Append(_ context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	e.Seq = uint64(len(m.entries) + 1)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockAudit) Query(_ context.Context, _ AuditFilter) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

type mockHistory struct {
	alerts []alert.Alert
	err    error
}

func (m *mockHistory) FetchHistory(_ context.Context, _ *alert.Alert, _ int) ([]alert.Alert, error) {
	return m.alerts, m.err
}

// stubRule matches every alert with a fixed verdict.
type stubRule struct {
	verdict Verdict
	detail  string
	err     error
}

func (r *stubRule) Name() string { return "stub" }
func (r *stubRule) Evaluate(_ context.Context, _ *alert.Alert) (Verdict, string, bool, error) {
	if r.err != nil {
		return "", "", false, r.err
	}
	return r.verdict, r.detail, true, nil
}

func rawAlert(sev, ts string) alert.RawAlert {
	return alert.RawAlert{
		ID:        "a-" + ts,
		Host:      "web-01",
		Title:     "High latency",
		Severity:  sev,
		Source:    "prometheus",
		Timestamp: ts,
	}
}

func newTestEngine(t *testing.T, scorer Scorer, history HistorySource, audit AuditLog, rules []Rule) *Engine {
	t.Helper()
	if audit == nil {
		audit = &mockAudit{}
	}
	e, err := New(DefaultConfig(), NewDetector(), scorer, history, audit, rules, log.Nop(), EngineHooks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_RequiresAudit(t *testing.T) {
	t.Parallel()

	if _, err := New(DefaultConfig(), nil, nil, nil, nil, nil, nil, EngineHooks{}); err == nil {
		t.Error("New without audit log = nil error, want error")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.CriticalAlwaysForward = false
	if _, err := New(cfg, nil, nil, nil, &mockAudit{}, nil, nil, EngineHooks{}); err == nil {
		t.Error("New with critical_always_forward=false = nil error, want error")
	}
}

func TestProcess_MlSuppress(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{score: &SuppressionScore{Probability: 0.9, Confidence: 0.95, Explanation: "recurring noise"}}
	audit := &mockAudit{}
	e := newTestEngine(t, scorer, nil, audit, nil)

	dec, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Verdict != VerdictSuppress {
		t.Errorf("verdict = %q, want %q", dec.Verdict, VerdictSuppress)
	}
	if dec.Reason != ReasonMlSuppressed {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonMlSuppressed)
	}
	if dec.Score == nil || dec.Score.Probability != 0.9 {
		t.Errorf("score = %+v, want probability 0.9", dec.Score)
	}
	if dec.ID == "" {
		t.Error("expected non-empty decision ID")
	}
	if dec.DecidedAt.IsZero() {
		t.Error("expected DecidedAt to be set")
	}

	entries, _ := audit.Query(context.Background(), AuditFilter{})
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Decision.ID != dec.ID {
		t.Errorf("audit decision id = %q, want %q", entries[0].Decision.ID, dec.ID)
	}
	if entries[0].Alert.ID != dec.AlertID {
		t.Errorf("audit alert id = %q, want %q", entries[0].Alert.ID, dec.AlertID)
	}
}

func TestProcess_CriticalKeepsWithoutScorer(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{score: &SuppressionScore{Probability: 1.0, Confidence: 1.0}}
	e := newTestEngine(t, scorer, nil, nil, nil)

	dec, err := e.Process(context.Background(), rawAlert("critical", "2026-08-30T12:00:00Z"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Verdict != VerdictKeep {
		t.Fatalf("verdict = %q, want %q", dec.Verdict, VerdictKeep)
	}
	if dec.Reason != ReasonCriticalForced {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonCriticalForced)
	}
	if scorer.callCount() != 0 {
		t.Errorf("scorer calls = %d, want 0 (short-circuit)", scorer.callCount())
	}
}

func TestProcess_LegacyCriticalAlias(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, nil, nil, nil)

	dec, err := e.Process(context.Background(), rawAlert("Sev1", "2026-08-30T12:00:00Z"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Reason != ReasonCriticalForced {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonCriticalForced)
	}
}

func TestProcess_DuplicateSkipsScorer(t *testing.T) {
	t.Parallel()

	// Alert at t=0, then the same key at t=240s with a 300s window: the
	// second must suppress as a duplicate and the scorer is never invoked.
	scorer := &mockScorer{score: &SuppressionScore{Probability: 0.1, Confidence: 0.9}}
	audit := &mockAudit{}

	cfg := DefaultConfig()
	cfg.DuplicateWindow = 300 * time.Second
	e, err := New(cfg, NewDetector(), scorer, nil, audit, nil, log.Nop(), EngineHooks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z")); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	callsAfterFirst := scorer.callCount()

	dec, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:04:00Z"))
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if dec.Verdict != VerdictSuppress {
		t.Errorf("verdict = %q, want %q", dec.Verdict, VerdictSuppress)
	}
	if dec.Reason != ReasonDuplicateSuppressed {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonDuplicateSuppressed)
	}
	if scorer.callCount() != callsAfterFirst {
		t.Errorf("scorer invoked for duplicate: calls = %d, want %d", scorer.callCount(), callsAfterFirst)
	}

	entries, _ := audit.Query(context.Background(), AuditFilter{})
	if len(entries) != 2 {
		t.Errorf("audit entries = %d, want 2 (one per processed alert)", len(entries))
	}
}

func TestProcess_ScorerUnavailableKeeps(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{err: fmt.Errorf("%w: dial tcp: timeout", ErrScoringUnavailable)}
	e := newTestEngine(t, scorer, nil, nil, nil)

	dec, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Verdict != VerdictKeep {
		t.Errorf("verdict = %q, want %q", dec.Verdict, VerdictKeep)
	}
	if dec.Reason != ReasonKeptLowConfidence {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonKeptLowConfidence)
	}
	if dec.Score != nil {
		t.Errorf("score = %+v, want nil when scorer unavailable", dec.Score)
	}
}

func TestProcess_ScorerTimeoutHonored(t *testing.T) {
	t.Parallel()

	// Scorer blocks until the engine's per-call timeout fires.
	blocking := scorerFunc(func(ctx context.Context, _ *alert.Alert, _ []alert.Alert) (*SuppressionScore, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := DefaultConfig()
	cfg.ScoreTimeout = 10 * time.Millisecond
	e, err := New(cfg, NewDetector(), blocking, nil, &mockAudit{}, nil, log.Nop(), EngineHooks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	dec, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Process took %v, want bounded by score timeout", elapsed)
	}
	if dec.Reason != ReasonKeptLowConfidence {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonKeptLowConfidence)
	}
}

type scorerFunc func(ctx context.Context, al *alert.Alert, history []alert.Alert) (*SuppressionScore, error)

func (f scorerFunc) Score(ctx context.Context, al *alert.Alert, history []alert.Alert) (*SuppressionScore, error) {
	return f(ctx, al, history)
}

func TestProcess_ValidationErrorNoAuditEntry(t *testing.T) {
	t.Parallel()

	audit := &mockAudit{}
	e := newTestEngine(t, nil, nil, audit, nil)

	raw := rawAlert("warning", "2026-08-30T12:00:00Z")
	raw.Timestamp = ""

	dec, err := e.Process(context.Background(), raw)
	if dec != nil {
		t.Error("expected nil decision on validation failure")
	}
	var verr *alert.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *alert.ValidationError", err)
	}

	entries, _ := audit.Query(context.Background(), AuditFilter{})
	if len(entries) != 0 {
		t.Errorf("audit entries = %d, want 0 for rejected alert", len(entries))
	}
}

func TestProcess_AuditFailureAborts(t *testing.T) {
	t.Parallel()

	audit := &mockAudit{failErr: errors.New("disk gone")}
	e := newTestEngine(t, nil, nil, audit, nil)

	dec, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z"))
	if dec != nil {
		t.Error("expected nil decision when audit append fails")
	}
	var aerr *AuditWriteError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want *AuditWriteError", err)
	}
}

func TestProcess_ExtraRuleForces(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{score: &SuppressionScore{Probability: 0.0, Confidence: 1.0}}
	rule := &stubRule{verdict: VerdictSuppress, detail: "ticket already open"}
	e := newTestEngine(t, scorer, nil, nil, []Rule{rule})

	dec, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Verdict != VerdictSuppress {
		t.Errorf("verdict = %q, want %q", dec.Verdict, VerdictSuppress)
	}
	if dec.Reason != ReasonRuleForced {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonRuleForced)
	}
	if dec.Detail != "ticket already open" {
		t.Errorf("detail = %q, want rule detail", dec.Detail)
	}
	if scorer.callCount() != 0 {
		t.Errorf("scorer calls = %d, want 0 when a rule decides", scorer.callCount())
	}
}

func TestProcess_RuleErrorIsSkipped(t *testing.T) {
	t.Parallel()

	rule := &stubRule{err: errors.New("ticket system down")}
	e := newTestEngine(t, nil, nil, nil, []Rule{rule})

	dec, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Reason != ReasonKeptLowConfidence {
		t.Errorf("reason = %q, want %q (failing rule skipped)", dec.Reason, ReasonKeptLowConfidence)
	}
}

func TestProcess_HistoryPassedToScorer(t *testing.T) {
	t.Parallel()

	past := alert.Alert{ID: "old-1", Host: "web-01", Title: "High latency", Severity: alert.SeverityWarning, Timestamp: t0.Add(-time.Hour)}
	scorer := &mockScorer{score: &SuppressionScore{Probability: 0.2, Confidence: 0.9}}
	e := newTestEngine(t, scorer, &mockHistory{alerts: []alert.Alert{past}}, nil, nil)

	if _, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(scorer.history) != 1 || scorer.history[0].ID != "old-1" {
		t.Errorf("scorer history = %+v, want the fetched past alert", scorer.history)
	}
}

func TestProcess_HistoryErrorAbsorbed(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{score: &SuppressionScore{Probability: 0.9, Confidence: 0.9}}
	e := newTestEngine(t, scorer, &mockHistory{err: errors.New("bq down")}, nil, nil)

	dec, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if dec.Reason != ReasonMlSuppressed {
		t.Errorf("reason = %q, want scoring to proceed without history", dec.Reason)
	}
}

func TestProcessWithConfig_Overrides(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{score: &SuppressionScore{Probability: 0.7, Confidence: 0.9}}
	e := newTestEngine(t, scorer, nil, nil, nil)

	// Default threshold 0.8 keeps a 0.7 score; a lowered threshold suppresses.
	cfg := e.Config()
	cfg.SuppressionThreshold = 0.6

	dec, err := e.ProcessWithConfig(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z"), cfg)
	if err != nil {
		t.Fatalf("ProcessWithConfig: %v", err)
	}
	if dec.Reason != ReasonMlSuppressed {
		t.Errorf("reason = %q, want %q with lowered threshold", dec.Reason, ReasonMlSuppressed)
	}
}

func TestProcessWithConfig_RejectsInvalidOverride(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, nil, nil, nil)

	cfg := e.Config()
	cfg.CriticalAlwaysForward = false
	if _, err := e.ProcessWithConfig(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z"), cfg); err == nil {
		t.Error("ProcessWithConfig with critical_always_forward=false = nil error, want error")
	}
}

func TestProcess_Concurrent(t *testing.T) {
	t.Parallel()

	audit := &mockAudit{}
	e := newTestEngine(t, nil, nil, audit, nil)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			raw := rawAlert("warning", "2026-08-30T12:00:00Z")
			raw.ID = fmt.Sprintf("conc-%d", i)
			raw.Host = fmt.Sprintf("host-%d", i)
			if _, err := e.Process(context.Background(), raw); err != nil {
				t.Errorf("Process: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, _ := audit.Query(context.Background(), AuditFilter{})
	if len(entries) != n {
		t.Errorf("audit entries = %d, want %d", len(entries), n)
	}
}

func TestProcess_HooksCalled(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		decisions int
		verdicts  []Verdict
	)
	hooks := EngineHooks{
		OnDecision: func(d *Decision, _ float64) {
			mu.Lock()
			defer mu.Unlock()
			decisions++
			verdicts = append(verdicts, d.Verdict)
		},
	}

	e, err := New(DefaultConfig(), NewDetector(), nil, nil, &mockAudit{}, nil, log.Nop(), hooks)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if decisions != 1 {
		t.Errorf("decision hook calls = %d, want 1", decisions)
	}
	if len(verdicts) != 1 || verdicts[0] != VerdictKeep {
		t.Errorf("verdicts = %v, want [keep]", verdicts)
	}
}
