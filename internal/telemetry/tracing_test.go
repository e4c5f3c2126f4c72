package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return exp
}

func TestLLMSpanRecordsUsageOnSuccess(t *testing.T) {
	exp := withRecorder(t)

	ctx, span := StartLLMSpan(context.Background(), "C1", "run-1", "claude-sonnet-4-5", 1)
	EndLLMSpan(span, 100, 40, "end_turn", nil)
	_ = ctx

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "llm.chat", spans[0].Name)
	require.Equal(t, codes.Unset, spans[0].Status.Code)
}

func TestLLMSpanRecordsErrorStatus(t *testing.T) {
	exp := withRecorder(t)

	_, span := StartLLMSpan(context.Background(), "C1", "run-1", "claude-sonnet-4-5", 1)
	EndLLMSpan(span, 0, 0, "", errors.New("boom"))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestToolSpanRecordsErrorFlag(t *testing.T) {
	exp := withRecorder(t)

	_, span := StartToolSpan(context.Background(), "C1", "run-1", "bash", "call_1")
	EndToolSpan(span, true, "command failed")

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status.Code)
}
