package decisionapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/engine"
)

// decideRequest is the POST /api/v1/alerts payload: the alert fields, plus
// an optional per-request override of the decision thresholds.
type decideRequest struct {
	alert.RawAlert
	Config *configOverride `json:"config,omitempty"`
}

// configOverride carries request-scoped threshold changes. Absent fields
// keep the engine's configured values.
type configOverride struct {
	SuppressionThreshold   *float64 `json:"suppression_threshold,omitempty"`
	MinScoreConfidence     *float64 `json:"min_score_confidence,omitempty"`
	DuplicateWindowMinutes *int     `json:"duplicate_window_minutes,omitempty"`
	CriticalAlwaysForward  *bool    `json:"critical_always_forward,omitempty"`
	ScoreTimeoutSeconds    *int     `json:"score_timeout_seconds,omitempty"`
	HistoryLimit           *int     `json:"history_limit,omitempty"`
}

func (o *configOverride) apply(cfg engine.Config) engine.Config {
	if o == nil {
		return cfg
	}
	if o.SuppressionThreshold != nil {
		cfg.SuppressionThreshold = *o.SuppressionThreshold
	}
	if o.MinScoreConfidence != nil {
		cfg.MinScoreConfidence = *o.MinScoreConfidence
	}
	if o.DuplicateWindowMinutes != nil {
		cfg.DuplicateWindow = time.Duration(*o.DuplicateWindowMinutes) * time.Minute
	}
	if o.CriticalAlwaysForward != nil {
		cfg.CriticalAlwaysForward = *o.CriticalAlwaysForward
	}
	if o.ScoreTimeoutSeconds != nil {
		cfg.ScoreTimeout = time.Duration(*o.ScoreTimeoutSeconds) * time.Second
	}
	if o.HistoryLimit != nil {
		cfg.HistoryLimit = *o.HistoryLimit
	}
	return cfg
}

func (a *API) handleDecideAlert(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	cfg := req.Config.apply(a.proc.Config())
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("quell.alert.id", req.ID))

	dec, err := a.proc.ProcessWithConfig(r.Context(), req.RawAlert, cfg)
	if err != nil {
		var verr *alert.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		a.logger.Error(r.Context(), err, "decision failed", "alert_id", req.ID)
		var aerr *engine.AuditWriteError
		if errors.As(err, &aerr) {
			writeError(w, http.StatusInternalServerError, "audit log unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(attribute.String("quell.decision.verdict", string(dec.Verdict)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dec)
}
