// Package agent runs a single reasoning turn: it hands the task and
// available tools to an LLM, dispatches the tool calls it requests, and
// either returns a completed answer or an honest capability gap report. It
// never executes a risky tool call itself; those are deferred back to the
// graph engine for approval gating.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corwenfield/deepresearch/common/llm"
	"github.com/corwenfield/deepresearch/internal/model"
	"github.com/corwenfield/deepresearch/internal/risk"
	"github.com/corwenfield/deepresearch/internal/toolregistry"
)

const maxParallelTools = 3
const maxTurns = 6

// maxRetries is how many times a turn's model call is retried after a
// retryable error before the error is returned.
const maxRetries = 2

// ToolExecutor dispatches one tool call and returns its result as a string.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, arguments map[string]any) (string, error)
}

// Runner drives the agent's reasoning loop for a single task.
type Runner struct {
	client   llm.AgentClient
	tools    *toolregistry.Registry
	executor ToolExecutor
}

// New creates a Runner bound to an LLM client, the tool registry it may
// consult, and the executor that carries out non-risky tool calls.
func New(client llm.AgentClient, tools *toolregistry.Registry, executor ToolExecutor) *Runner {
	return &Runner{client: client, tools: tools, executor: executor}
}

// Run executes the agent loop for task, returning a completed response, a
// gap report, or a set of deferred actions that require approval before they
// can run.
func (r *Runner) Run(ctx context.Context, task string, history []model.Message) (model.AgentResponse, []model.PlannedAction, error) {
	if gap, err := r.tools.DetectMissingTools(ctx, task); err != nil {
		slog.WarnContext(ctx, "gap detection failed, proceeding with available tools", "error", err)
	} else if gap != nil {
		return model.AgentResponse{Gap: gap}, nil, nil
	}

	messages := buildMessages(task, history)
	tools := convertTools(r.tools.ListTools())

	var deferred []model.PlannedAction
	var record []model.ToolCallRecord

	for turn := 0; turn < maxTurns; turn++ {
		var resp *llm.AgentResponse
		var err error
		for attempt := 0; ; attempt++ {
			resp, err = r.client.ChatWithTools(ctx, llm.AgentRequest{
				Messages: messages,
				Tools:    tools,
			})
			if err == nil || attempt >= maxRetries || !llm.IsRetryable(ctx, err) {
				break
			}
		}
		if err != nil {
			return model.AgentResponse{}, nil, fmt.Errorf("agent turn %d: %w", turn, err)
		}

		if len(resp.ToolCalls) == 0 {
			return model.AgentResponse{
				Content:   resp.Content,
				ToolCalls: record,
			}, deferred, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results, newDeferred := r.dispatch(ctx, resp.ToolCalls)
		deferred = append(deferred, newDeferred...)

		for _, res := range results {
			record = append(record, res.record)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    res.content,
				ToolCallID: res.id,
			})
		}

		if len(newDeferred) > 0 {
			// Risky actions were deferred; stop reasoning and let the graph
			// engine route them through approval before continuing.
			return model.AgentResponse{ToolCalls: record}, deferred, nil
		}
	}

	return model.AgentResponse{}, nil, fmt.Errorf("agent exceeded %d turns without a final answer", maxTurns)
}

type toolResult struct {
	id      string
	content string
	record  model.ToolCallRecord
}

// dispatch runs reversible tool calls in parallel and defers any
// higher-risk calls instead of executing them.
func (r *Runner) dispatch(ctx context.Context, calls []llm.ToolCall) ([]toolResult, []model.PlannedAction) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, maxParallelTools)
		results  []toolResult
		deferred []model.PlannedAction
	)

	for _, call := range calls {
		var args map[string]any
		_ = json.Unmarshal([]byte(call.Arguments), &args)

		level := risk.Categorize(call.Name, args)
		if level != model.RiskReversible {
			mu.Lock()
			deferred = append(deferred, model.PlannedAction{
				ToolName:  call.Name,
				Arguments: args,
				Risk:      level,
			})
			results = append(results, toolResult{
				id:      call.ID,
				content: fmt.Sprintf("tool %q deferred pending approval", call.Name),
				record:  model.ToolCallRecord{ToolName: call.Name, Arguments: args, StartedAt: time.Now()},
			})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(call llm.ToolCall, args map[string]any) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			output, err := r.executor.Execute(ctx, call.Name, args)
			rec := model.ToolCallRecord{
				ToolName:  call.Name,
				Arguments: args,
				Result:    output,
				StartedAt: start,
				Duration:  time.Since(start),
			}
			if err != nil {
				rec.Error = err.Error()
				output = fmt.Sprintf("tool error: %v", err)
			}

			mu.Lock()
			results = append(results, toolResult{id: call.ID, content: output, record: rec})
			mu.Unlock()
		}(call, args)
	}

	wg.Wait()
	return results, deferred
}

func buildMessages(task string, history []model.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: agentSystemPrompt,
	})
	for _, m := range history {
		messages = append(messages, llm.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	messages = append(messages, llm.Message{Role: "user", Content: task})
	return messages
}

func convertTools(tools []toolregistry.Tool) []llm.Tool {
	out := make([]llm.Tool, len(tools))
	for i, t := range tools {
		out[i] = llm.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return out
}

const agentSystemPrompt = `You are a research assistant. Use the available tools to gather
evidence before answering. If the task requires a capability none of your
tools provide, say so plainly instead of guessing or fabricating an answer.
Cite sources for every factual claim in your final response.`
