// Package claude scores alerts for suppression using the Anthropic API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/engine"
)

const defaultModel = "claude-sonnet-4-5"

const systemPrompt = `You score operational alerts for suppression. Given an alert and recent
alerts from the same host, estimate the probability that a human operator would
dismiss this alert as noise (flapping, self-resolving, already being handled).

Respond with ONLY a JSON object, no prose:
{"probability": <0.0-1.0>, "confidence": <0.0-1.0>, "explanation": "<one sentence>"}`

// Scorer implements engine.Scorer on top of the Anthropic messages API.
type Scorer struct {
	client anthropic.Client
	model  string
}

// New builds a Scorer. Extra options are passed through to the SDK client,
// which is how tests point it at a local server.
func New(apiKey, model string, opts ...option.RequestOption) *Scorer {
	if model == "" {
		model = defaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Scorer{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Score asks the model for a suppression probability. Transport and parse
// failures are reported as engine.ErrScoringUnavailable so the caller falls
// back to keeping the alert.
func (s *Scorer) Score(ctx context.Context, al *alert.Alert, history []alert.Alert) (*engine.SuppressionScore, error) {
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 512,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(al, history))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrScoringUnavailable, err)
	}

	text := textContent(resp)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", engine.ErrScoringUnavailable)
	}

	score, err := parseScore(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrScoringUnavailable, err)
	}
	return score, nil
}

// buildPrompt renders the alert and its host history as the user message.
func buildPrompt(al *alert.Alert, history []alert.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert:\n  host: %s\n  title: %s\n  severity: %s\n  time: %s\n",
		al.Host, al.Title, al.Severity, al.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	if al.Category != "" {
		fmt.Fprintf(&b, "  category: %s\n", al.Category)
	}
	if al.Description != "" {
		fmt.Fprintf(&b, "  description: %s\n", al.Description)
	}

	if len(history) == 0 {
		b.WriteString("\nNo recent alerts from this host.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nRecent alerts from %s (newest first):\n", al.Host)
	for _, h := range history {
		fmt.Fprintf(&b, "  - [%s] %s (%s)\n", h.Timestamp.Format("15:04:05"), h.Title, h.Severity)
	}
	return b.String()
}

func textContent(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// parseScore extracts the JSON verdict from the model output, tolerating
// code fences and surrounding prose. Values are clamped to [0, 1].
func parseScore(text string) (*engine.SuppressionScore, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			text = text[i : j+1]
		}
	}

	var out struct {
		Probability float64 `json:"probability"`
		Confidence  float64 `json:"confidence"`
		Explanation string  `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("parse score: %w", err)
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
