package engine

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProcess_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	scorer := &mockScorer{score: &SuppressionScore{Probability: 0.9, Confidence: 0.9}}
	e := newTestEngine(t, scorer, nil, nil, nil)

	if _, err := e.Process(context.Background(), rawAlert("warning", "2026-08-30T12:00:00Z")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	spans := exporter.GetSpans()

	var gotProcess, gotScore bool
	for _, s := range spans {
		switch s.Name {
		case "engine.process":
			gotProcess = true
			var hasVerdict bool
			for _, attr := range s.Attributes {
				if string(attr.Key) == "quell.decision.verdict" && attr.Value.AsString() == "suppress" {
					hasVerdict = true
				}
			}
			if !hasVerdict {
				t.Error("engine.process span missing quell.decision.verdict=suppress")
			}
		case "scorer.score":
			gotScore = true
		}
	}
	if !gotProcess {
		t.Error("no engine.process span exported")
	}
	if !gotScore {
		t.Error("no scorer.score span exported")
	}
}
