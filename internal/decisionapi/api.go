// Package decisionapi exposes the decision engine and audit log over HTTP.
package decisionapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/engine"
)

// Processor defines the decision operations the API needs.
type Processor interface {
	ProcessWithConfig(ctx context.Context, raw alert.RawAlert, cfg engine.Config) (*engine.Decision, error)
	Config() engine.Config
}

// AuditReader serves audit queries.
type AuditReader interface {
	Query(ctx context.Context, f engine.AuditFilter) ([]engine.AuditEntry, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	proc   Processor
	audit  AuditReader
}

// New creates a new API handler.
func New(logger log.Logger, proc Processor, audit AuditReader) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if proc == nil {
		panic(xerrors.New("processor is required"))
	}
	if audit == nil {
		panic(xerrors.New("audit reader is required"))
	}
	return &API{
		logger: logger,
		proc:   proc,
		audit:  audit,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleDecideAlert)
		r.Get("/audit", a.handleQueryAudit)
	})
}

func (a *API) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("quell.audit.alert_id", f.AlertID))

	entries, err := a.audit.Query(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "audit query failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func auditFilterFromQuery(r *http.Request) (engine.AuditFilter, error) {
	q := r.URL.Query()
	f := engine.AuditFilter{
		AlertID: q.Get("alert_id"),
		Host:    q.Get("host"),
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid from: %v", err)
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid to: %v", err)
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, xerrors.New("invalid limit")
		}
		f.Limit = n
	}
	return f, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
