package agent_test

import (
	"context"
	"testing"

	"github.com/corwenfield/deepresearch/common/llm"
	"github.com/corwenfield/deepresearch/internal/agent"
	"github.com/corwenfield/deepresearch/internal/toolregistry"
)

type fakeAgentClient struct {
	turns []*llm.AgentResponse
	n     int
}

func (f *fakeAgentClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	resp := f.turns[f.n]
	f.n++
	return resp, nil
}

func (f *fakeAgentClient) Model() string { return "fake" }

type fakeExecutor struct{}

func (fakeExecutor) Execute(ctx context.Context, name string, arguments map[string]any) (string, error) {
	return "result for " + name, nil
}

func TestRunReturnsFinalAnswerWithoutToolCalls(t *testing.T) {
	client := &fakeAgentClient{turns: []*llm.AgentResponse{
		{Content: "the answer is 42", FinishReason: "stop"},
	}}

	reg := toolregistry.New([]toolregistry.Tool{{Name: "web_search", Description: "search"}}, nil, nil)
	runner := agent.New(client, reg, fakeExecutor{})

	resp, deferred, err := runner.Run(context.Background(), "what is the answer?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "the answer is 42" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if len(deferred) != 0 {
		t.Fatalf("expected no deferred actions, got %d", len(deferred))
	}
}

func TestRunDefersNonReversibleToolCall(t *testing.T) {
	client := &fakeAgentClient{turns: []*llm.AgentResponse{
		{
			ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "send_email", Arguments: `{"to":"x@example.com"}`}},
		},
	}}

	reg := toolregistry.New([]toolregistry.Tool{{Name: "send_email", Description: "send an email"}}, nil, nil)
	runner := agent.New(client, reg, fakeExecutor{})

	_, deferred, err := runner.Run(context.Background(), "email the summary", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deferred) != 1 {
		t.Fatalf("expected 1 deferred action, got %d", len(deferred))
	}
	if deferred[0].ToolName != "send_email" {
		t.Fatalf("unexpected deferred tool: %s", deferred[0].ToolName)
	}
}

func TestRunDefersReversibleWithDelayToolCallRatherThanExecutingInTurn(t *testing.T) {
	client := &fakeAgentClient{turns: []*llm.AgentResponse{
		{
			ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "draft_email", Arguments: `{"to":"x@example.com"}`}},
		},
	}}

	reg := toolregistry.New([]toolregistry.Tool{{Name: "draft_email", Description: "draft an email"}}, nil, nil)
	runner := agent.New(client, reg, fakeExecutor{})

	_, deferred, err := runner.Run(context.Background(), "draft a summary email", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deferred) != 1 {
		t.Fatalf("expected draft_email to be deferred for approval rather than executed in-turn, got %d deferred", len(deferred))
	}
}
