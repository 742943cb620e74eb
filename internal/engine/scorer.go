package engine

import (
	"context"
	"errors"

	"github.com/linnemanlabs/quell/internal/alert"
)

// ErrScoringUnavailable marks scorer transport/timeout failures. The engine
// treats it as "no score available", never as a processing failure.
var ErrScoringUnavailable = errors.New("scoring unavailable")

// Scorer wraps an external suppression-likelihood source. Implementations
// issue one call per alert and map the result into a SuppressionScore;
// transport and timeout failures are reported wrapped in
// ErrScoringUnavailable.
type Scorer interface {
	Score(ctx context.Context, al *alert.Alert, history []alert.Alert) (*SuppressionScore, error)
}

// HistorySource is a narrow read-only view over past related alerts,
// supplied by an external storage collaborator for ML context.
type HistorySource interface {
	FetchHistory(ctx context.Context, al *alert.Alert, limit int) ([]alert.Alert, error)
}
