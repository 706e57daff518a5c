// Package telemetry provides typed span constructors for the research
// orchestration engine's trace hierarchy:
//
//	workflow.step
//	  graph.research_workflow
//	    graph.node.<phase>
//	      agent.run
//	        tool.call.<name>
//	        memory.<operation>
//
// Every constructor wraps common/logger.StartSpan so span creation, trace-ID
// propagation, and slog enrichment stay in one place.
package telemetry

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/corwenfield/deepresearch/common/logger"
	"github.com/corwenfield/deepresearch/internal/model"
)

// StartWorkflowStep opens the root span for one orchestrator invocation. If
// traceID is non-empty, the span links to that remote trace instead of
// starting a fresh one, so a trigger from the external workflow engine keeps
// its distributed trace context.
func StartWorkflowStep(ctx context.Context, traceID string, sessionID uuid.UUID, userID string) *logger.SpanContext {
	attrs := trace.WithAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.String("user.id", userID),
	)
	if traceID == "" {
		return logger.StartSpan(ctx, "workflow.step", attrs)
	}
	return logger.StartSpanFromTraceID(ctx, traceID, "workflow.step", attrs)
}

// StartResearchWorkflow opens the span around a full graph run.
func StartResearchWorkflow(ctx context.Context, sessionID uuid.UUID, topic string, maxIterations int) *logger.SpanContext {
	return logger.StartSpan(ctx, "graph.research_workflow", trace.WithAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.String("research.topic", topic),
		attribute.Int("research.max_iterations", maxIterations),
	))
}

// StartGraphNode opens a span for a single node execution within the graph.
func StartGraphNode(ctx context.Context, phase model.ResearchPhase, iteration int) *logger.SpanContext {
	return logger.StartSpan(ctx, "graph.node."+string(phase), trace.WithAttributes(
		attribute.String("research.phase", string(phase)),
		attribute.Int("research.iteration", iteration),
	))
}

// StartAgentRun opens a span for one agent reasoning loop.
func StartAgentRun(ctx context.Context, task string) *logger.SpanContext {
	return logger.StartSpan(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.task", logger.Truncate(task, 200)),
	))
}

// StartToolCall opens a span for a single tool invocation, risk-tagged so
// traces make approval-gated calls visible at a glance.
func StartToolCall(ctx context.Context, toolName string, risk model.RiskLevel) *logger.SpanContext {
	return logger.StartSpan(ctx, "tool.call."+toolName, trace.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("tool.risk", string(risk)),
	))
}

// StartApprovalWait opens a span covering the suspend/resume window of a
// human approval decision.
func StartApprovalWait(ctx context.Context, approvalID uuid.UUID, risk model.RiskLevel) *logger.SpanContext {
	return logger.StartSpan(ctx, "approval.wait", trace.WithAttributes(
		attribute.String("approval.id", approvalID.String()),
		attribute.String("approval.risk", string(risk)),
	))
}

// StartMemoryOp opens a span for a Memory Store call.
func StartMemoryOp(ctx context.Context, operation string) *logger.SpanContext {
	return logger.StartSpan(ctx, "memory."+operation, trace.WithAttributes(
		attribute.String("memory.operation", operation),
	))
}
