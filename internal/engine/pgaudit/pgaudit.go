// Package pgaudit provides a PostgreSQL implementation of engine.AuditLog.
package pgaudit

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/engine"
)

var tracer = otel.Tracer("github.com/linnemanlabs/quell/internal/engine/pgaudit")

//go:embed schema.sql
var schema string

// Log persists audit entries in PostgreSQL. Rows are append-only; there
// is no update or delete path.
type Log struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Log. The pool is owned by
// the caller and is not closed here.
func New(ctx context.Context, pool *pgxpool.Pool) (*Log, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Log{pool: pool}, nil
}

const auditColumns = `seq, decision_id, alert_id, host, title, severity, category, source,
	description, alert_ts, verdict, reason, detail, score, decided_at, created_at`

// Append inserts one entry and fills in its assigned sequence number.
func (l *Log) Append(ctx context.Context, e *engine.AuditEntry) error {
	ctx, span := tracer.Start(ctx, "pgaudit.Append", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	var scoreJSON []byte
	if e.Decision.Score != nil {
		var err error
		scoreJSON, err = json.Marshal(e.Decision.Score)
		if err != nil {
			return fmt.Errorf("marshal score: %w", err)
		}
	}

	err := l.pool.QueryRow(ctx,
		`INSERT INTO audit_entries (decision_id, alert_id, host, title, severity, category,
			source, description, alert_ts, verdict, reason, detail, score, decided_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 RETURNING seq`,
		e.Decision.ID, e.Alert.ID, e.Alert.Host, e.Alert.Title, e.Alert.Severity.String(),
		e.Alert.Category, e.Alert.Source, e.Alert.Description, e.Alert.Timestamp,
		string(e.Decision.Verdict), string(e.Decision.Reason), e.Decision.Detail,
		scoreJSON, e.Decision.DecidedAt, e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching the filter, ordered by decision time
// and then sequence.
func (l *Log) Query(ctx context.Context, f engine.AuditFilter) ([]engine.AuditEntry, error) {
	ctx, span := tracer.Start(ctx, "pgaudit.Query", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + auditColumns + ` FROM audit_entries`
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.AlertID != "" {
		clauses = append(clauses, "alert_id = "+arg(f.AlertID))
	}
	if f.Host != "" {
		clauses = append(clauses, "lower(host) = lower("+arg(f.Host)+")")
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "decided_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "decided_at <= "+arg(f.To))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY decided_at, seq"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []engine.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// FetchHistory implements engine.HistorySource: the most recently decided
// alerts for the same host, newest first.
func (l *Log) FetchHistory(ctx context.Context, al *alert.Alert, limit int) ([]alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgaudit.FetchHistory", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	if limit <= 0 {
		limit = 20
	}

	rows, err := l.pool.Query(ctx,
		`SELECT alert_id, host, title, severity, category, source, description, alert_ts
		 FROM audit_entries WHERE lower(host) = lower($1)
		 ORDER BY decided_at DESC, seq DESC LIMIT $2`,
		al.Host, limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out, err := scanAlerts(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// RecentAlerts returns all alerts decided within the trailing window,
// oldest first. Used to rebuild duplicate-detection state on startup.
func (l *Log) RecentAlerts(ctx context.Context, window time.Duration) ([]alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgaudit.RecentAlerts", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := l.pool.Query(ctx,
		`SELECT alert_id, host, title, severity, category, source, description, alert_ts
		 FROM audit_entries WHERE alert_ts >= $1 ORDER BY alert_ts`,
		time.Now().UTC().Add(-window),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	out, err := scanAlerts(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func scanAlerts(rows pgx.Rows) ([]alert.Alert, error) {
	var out []alert.Alert
	for rows.Next() {
		var (
			al       alert.Alert
			severity string
		)
		if err := rows.Scan(&al.ID, &al.Host, &al.Title, &severity, &al.Category,
			&al.Source, &al.Description, &al.Timestamp); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		sev, err := alert.ParseSeverity(severity)
		if err != nil {
			return nil, fmt.Errorf("alert %s: %w", al.ID, err)
		}
		al.Severity = sev
		out = append(out, al)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (*engine.AuditEntry, error) {
	var (
		e         engine.AuditEntry
		severity  string
		verdict   string
		reason    string
		scoreJSON []byte
	)
	err := row.Scan(
		&e.Seq, &e.Decision.ID, &e.Alert.ID, &e.Alert.Host, &e.Alert.Title, &severity,
		&e.Alert.Category, &e.Alert.Source, &e.Alert.Description, &e.Alert.Timestamp,
		&verdict, &reason, &e.Decision.Detail, &scoreJSON, &e.Decision.DecidedAt, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	sev, err := alert.ParseSeverity(severity)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", e.Seq, err)
	}
	e.Alert.Severity = sev
	e.Decision.Verdict = engine.Verdict(verdict)
	e.Decision.Reason = engine.Reason(reason)
	e.Decision.AlertID = e.Alert.ID

	if len(scoreJSON) > 0 {
		var score engine.SuppressionScore
		if err := json.Unmarshal(scoreJSON, &score); err != nil {
			return nil, fmt.Errorf("unmarshal score for entry %d: %w", e.Seq, err)
		}
		e.Decision.Score = &score
	}
	return &e, nil
}
