// Package predictor scores alerts against an external prediction service
// over HTTP.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/engine"
)

// Client implements engine.Scorer against a deployed suppression model.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client for the prediction endpoint.
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Request is the payload sent to the prediction service.
type Request struct {
	Host         string `json:"host"`
	Title        string `json:"title"`
	Severity     string `json:"severity"`
	Category     string `json:"category,omitempty"`
	Source       string `json:"source,omitempty"`
	HourOfDay    int    `json:"hour_of_day"`
	DayOfWeek    int    `json:"day_of_week"`
	RecentAlerts int    `json:"recent_alerts"`
}

// Response is the payload returned by the prediction service.
type Response struct {
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Score posts the alert's features and returns the model's verdict.
// Any transport or protocol failure maps to engine.ErrScoringUnavailable.
func (c *Client) Score(ctx context.Context, al *alert.Alert, history []alert.Alert) (*engine.SuppressionScore, error) {
	req := Request{
		Host:         al.Host,
		Title:        al.Title,
		Severity:     al.Severity.String(),
		Category:     al.Category,
		Source:       al.Source,
		HourOfDay:    al.Timestamp.Hour(),
		DayOfWeek:    int(al.Timestamp.Weekday()),
		RecentAlerts: len(history),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrScoringUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", engine.ErrScoringUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: predictor error %d: %s", engine.ErrScoringUnavailable, resp.StatusCode, string(respBody))
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", engine.ErrScoringUnavailable, err)
	}

	return &engine.SuppressionScore{
		Probability: clamp01(out.Probability),
		Confidence:  clamp01(out.Confidence),
		Explanation: out.Explanation,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
