// Package telemetry wires one OTel span per LLM call and per tool call, the
// way the teacher's tracing.Collector does against its own Postgres-backed
// span store — except this core has no managed-mode database to write to, so
// spans are exported to stdout instead.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/momhq/mom/internal/telemetry"

// Init installs a stdout-exporting TracerProvider as the global provider and
// returns a shutdown func to flush and close it on exit.
func Init(ctx context.Context) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func Tracer() trace.Tracer { return otel.Tracer(scopeName) }

// Attribute keys shared between the LLM and tool spans.
var (
	AttrChannelID  = attribute.Key("mom.channel_id")
	AttrRunID      = attribute.Key("mom.run_id")
	AttrLLMModel   = attribute.Key("mom.llm.model")
	AttrLLMIter    = attribute.Key("mom.llm.iteration")
	AttrTokensIn   = attribute.Key("mom.llm.tokens_input")
	AttrTokensOut  = attribute.Key("mom.llm.tokens_output")
	AttrFinishWhy  = attribute.Key("mom.llm.finish_reason")
	AttrToolName   = attribute.Key("mom.tool.name")
	AttrToolCallID = attribute.Key("mom.tool.call_id")
	AttrToolError  = attribute.Key("mom.tool.is_error")
)

// StartLLMSpan opens a span around one provider.Chat/ChatStream call.
func StartLLMSpan(ctx context.Context, channelID, runID, model string, iteration int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "llm.chat", trace.WithAttributes(
		AttrChannelID.String(channelID),
		AttrRunID.String(runID),
		AttrLLMModel.String(model),
		AttrLLMIter.Int(iteration),
	))
}

// EndLLMSpan records usage/finish-reason (or the call's error) and closes the span.
func EndLLMSpan(span trace.Span, promptTokens, completionTokens int, finishReason string, callErr error) {
	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
	} else {
		span.SetAttributes(
			AttrTokensIn.Int(promptTokens),
			AttrTokensOut.Int(completionTokens),
			AttrFinishWhy.String(finishReason),
		)
	}
	span.End()
}

// StartToolSpan opens a span around one tool execution.
func StartToolSpan(ctx context.Context, channelID, runID, toolName, toolCallID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool."+toolName, trace.WithAttributes(
		AttrChannelID.String(channelID),
		AttrRunID.String(runID),
		AttrToolName.String(toolName),
		AttrToolCallID.String(toolCallID),
	))
}

// EndToolSpan records the error flag (and a RecordError when the tool failed) and closes the span.
func EndToolSpan(span trace.Span, isError bool, errText string) {
	span.SetAttributes(AttrToolError.Bool(isError))
	if isError {
		span.RecordError(errors.New(errText))
		span.SetStatus(codes.Error, errText)
	}
	span.End()
}
