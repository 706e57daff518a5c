package telemetry_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	otelglobal "go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	commonotel "github.com/corwenfield/deepresearch/common/otel"
	"github.com/corwenfield/deepresearch/internal/model"
	"github.com/corwenfield/deepresearch/internal/telemetry"
)

func TestSpanHierarchyRecordsExpectedNames(t *testing.T) {
	mem := commonotel.NewMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(mem))
	defer tp.Shutdown(context.Background())
	otelglobal.SetTracerProvider(tp)

	ctx := context.Background()
	sessionID := uuid.New()

	wf := telemetry.StartWorkflowStep(ctx, "", sessionID, "user-1")
	rw := telemetry.StartResearchWorkflow(wf.Context(), sessionID, "climate policy", 5)
	node := telemetry.StartGraphNode(rw.Context(), model.PhaseResearch, 1)
	agentSpan := telemetry.StartAgentRun(node.Context(), "summarize recent findings")
	tool := telemetry.StartToolCall(agentSpan.Context(), "web_search", model.RiskReversible)

	tool.End()
	agentSpan.End()
	node.End()
	rw.End()
	wf.End()

	spans := mem.Spans()
	if len(spans) != 5 {
		t.Fatalf("expected 5 spans, got %d", len(spans))
	}

	names := make(map[string]bool, len(spans))
	for _, s := range spans {
		names[s.Name()] = true
	}
	for _, want := range []string{"workflow.step", "graph.research_workflow", "graph.node.research", "agent.run", "tool.call.web_search"} {
		if !names[want] {
			t.Fatalf("expected span %q to be recorded, got %v", want, names)
		}
	}
}
