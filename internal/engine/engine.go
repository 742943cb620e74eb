package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/quell/internal/alert"
)

var tracer = otel.Tracer("github.com/linnemanlabs/quell/internal/engine")

// Engine sequences normalization, duplicate detection, scoring, rule
// evaluation, and the audit append for each incoming alert.
type Engine struct {
	cfg      Config
	detector *Detector
	scorer   Scorer
	history  HistorySource
	audit    AuditLog
	rules    []Rule
	logger   log.Logger
	hooks    EngineHooks
}

// New creates an engine. The audit log is required: a decision without a
// durable audit entry is a correctness violation. Scorer, history, and
// rules are optional.
func New(cfg Config, detector *Detector, scorer Scorer, history HistorySource, audit AuditLog, rules []Rule, logger log.Logger, hooks EngineHooks) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, xerrors.New("audit log is required")
	}
	if detector == nil {
		detector = NewDetector()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		cfg:      cfg,
		detector: detector,
		scorer:   scorer,
		history:  history,
		audit:    audit,
		rules:    rules,
		logger:   logger,
		hooks:    hooks,
	}, nil
}

// Config returns a copy of the engine's configured thresholds.
func (e *Engine) Config() Config { return e.cfg }

// Process runs the full decision pipeline for one raw alert and returns the
// verdict. Normalization failures surface immediately as
// *alert.ValidationError with no audit entry; scorer failures are absorbed;
// audit failures abort and surface as *AuditWriteError.
func (e *Engine) Process(ctx context.Context, raw alert.RawAlert) (*Decision, error) {
	return e.ProcessWithConfig(ctx, raw, e.cfg)
}

// ProcessWithConfig is Process with per-call threshold overrides, letting a
// caller carry request-scoped configuration. The override is validated so a
// request can never disable the critical-alert invariant.
func (e *Engine) ProcessWithConfig(ctx context.Context, raw alert.RawAlert, cfg Config) (*Decision, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.process")
	defer span.End()

	al, err := alert.Normalize(raw)
	if err != nil {
		e.hooks.onValidationError()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("quell.alert.id", al.ID),
		attribute.String("quell.alert.host", al.Host),
		attribute.String("quell.alert.severity", al.Severity.String()),
	)

	L := e.logger.With("alert_id", al.ID, "host", al.Host, "severity", al.Severity.String())

	dup := e.detector.Check(al, cfg.DuplicateWindow)

	var score *SuppressionScore
	verdict, reason, detail := evaluate(al, dup, nil, cfg)

	// Rules 1-2 (critical, duplicate) decide without the scorer. Extra rules
	// and the scorer only run when neither applied.
	if reason == ReasonKeptLowConfidence {
		if v, d, matched := e.applyRules(ctx, al, L); matched {
			verdict, reason, detail = v, ReasonRuleForced, d
		} else {
			score = e.tryScore(ctx, al, cfg, L)
			verdict, reason, detail = evaluate(al, dup, score, cfg)
		}
	}

	dec := Decision{
		ID:        ulid.Make().String(),
		AlertID:   al.ID,
		Verdict:   verdict,
		Reason:    reason,
		Detail:    detail,
		Score:     score,
		DecidedAt: time.Now().UTC(),
	}

	entry := AuditEntry{
		Alert:     *al,
		Decision:  dec,
		CreatedAt: dec.DecidedAt,
	}
	if err := e.audit.Append(ctx, &entry); err != nil {
		e.hooks.onAuditFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "audit append failed, decision not final", "decision_id", dec.ID)
		return nil, &AuditWriteError{Err: err}
	}

	span.SetAttributes(
		attribute.String("quell.decision.verdict", string(verdict)),
		attribute.String("quell.decision.reason", string(reason)),
	)
	e.hooks.onDecision(&dec, time.Since(start).Seconds())

	L.Info(ctx, "decision",
		"decision_id", dec.ID,
		"verdict", verdict,
		"reason", reason,
		"detail", detail,
		"audit_seq", entry.Seq,
		"duration", time.Since(start).Seconds(),
	)

	return &dec, nil
}

// applyRules evaluates extra rules in order; first match wins. A failing
// rule is logged and skipped.
func (e *Engine) applyRules(ctx context.Context, al *alert.Alert, L log.Logger) (Verdict, string, bool) {
	for _, r := range e.rules {
		verdict, detail, matched, err := r.Evaluate(ctx, al)
		if err != nil {
			L.Warn(ctx, "rule evaluation failed, skipping", "rule", r.Name(), "error", err)
			continue
		}
		if matched {
			return verdict, detail, true
		}
	}
	return "", "", false
}

// tryScore fetches history and calls the scorer under the configured
// timeout. Every failure path returns nil: scorer absence must never block
// a decision.
func (e *Engine) tryScore(ctx context.Context, al *alert.Alert, cfg Config, L log.Logger) *SuppressionScore {
	if e.scorer == nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "scorer.score")
	defer span.End()

	var history []alert.Alert
	if e.history != nil {
		h, err := e.history.FetchHistory(ctx, al, cfg.HistoryLimit)
		if err != nil {
			L.Warn(ctx, "history fetch failed, scoring without context", "error", err)
		} else {
			history = h
		}
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.ScoreTimeout)
	defer cancel()

	start := time.Now()
	score, err := e.scorer.Score(sctx, al, history)
	dur := time.Since(start).Seconds()
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrScoringUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "unavailable"
		}
		e.hooks.onScorerCall(outcome, dur)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Warn(ctx, "scorer unavailable, deciding without score", "error", err, "duration", dur)
		return nil
	}

	e.hooks.onScorerCall("ok", dur)
	span.SetAttributes(
		attribute.Float64("quell.score.probability", score.Probability),
		attribute.Float64("quell.score.confidence", score.Confidence),
	)
	return score
}
