// Package orchestrator implements the single entry point the external
// workflow engine drives: Step.Run takes a topic and walks it through the
// research graph, gating every risky action on human approval and emitting
// the full span hierarchy along the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corwenfield/deepresearch/common/llm"
	"github.com/corwenfield/deepresearch/common/logger"
	"github.com/corwenfield/deepresearch/internal/agent"
	"github.com/corwenfield/deepresearch/internal/approval"
	"github.com/corwenfield/deepresearch/internal/graph"
	"github.com/corwenfield/deepresearch/internal/memory"
	"github.com/corwenfield/deepresearch/internal/model"
	"github.com/corwenfield/deepresearch/internal/report"
	"github.com/corwenfield/deepresearch/internal/telemetry"
)

// StepError wraps a failure with whether the caller (the workflow engine's
// trigger consumer) should requeue the message or send it straight to the
// dead-letter stream.
type StepError struct {
	Err       error
	Retryable bool
}

func (e *StepError) Error() string { return e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

func newRetryableError(err error) *StepError { return &StepError{Err: err, Retryable: true} }
func newFatalError(err error) *StepError     { return &StepError{Err: err, Retryable: false} }

// reportPersistError marks a failure to persist the final research report as
// a document; it is never retryable since replaying the graph would not fix
// a storage-layer problem.
type reportPersistError struct{ err error }

func (e *reportPersistError) Error() string { return e.err.Error() }
func (e *reportPersistError) Unwrap() error { return e.err }

// Request is one invocation of the research workflow.
type Request struct {
	SessionID uuid.UUID
	UserID    string
	Topic     string
	// TraceID, if set, links this run to a trace started by the external
	// workflow engine that triggered it.
	TraceID string
}

// Result is what the workflow engine receives back.
type Result struct {
	Report string
	State  model.ResearchState
}

// Step wires the Memory Store, Tool Registry-backed agent runner, Approval
// Coordinator, and structured critique model into the bounded research
// graph.
type Step struct {
	agent     *agent.Runner
	critique  llm.Client
	store     memory.Store
	approvals *approval.Coordinator
	executor  agent.ToolExecutor

	maxIterations    int
	qualityThreshold float64
	approvalTimeout  time.Duration
}

// New assembles a Step. maxIterations and qualityThreshold come from
// configuration; the graph engine itself clamps maxIterations to its own
// hard cap regardless of what is passed here.
func New(agentRunner *agent.Runner, critique llm.Client, store memory.Store, approvals *approval.Coordinator, executor agent.ToolExecutor, maxIterations int, qualityThreshold float64, approvalTimeout time.Duration) *Step {
	return &Step{
		agent:            agentRunner,
		critique:         critique,
		store:            store,
		approvals:        approvals,
		executor:         executor,
		maxIterations:    maxIterations,
		qualityThreshold: qualityThreshold,
		approvalTimeout:  approvalTimeout,
	}
}

// Run drives req through Plan -> Research -> Critique -> Refine -> Finish
// and returns the formatted report.
func (s *Step) Run(ctx context.Context, req Request) (Result, error) {
	if req.Topic == "" {
		return Result{}, newFatalError(fmt.Errorf("orchestrator: topic is required"))
	}
	if req.SessionID == uuid.Nil {
		req.SessionID = uuid.New()
	}

	wf := telemetry.StartWorkflowStep(ctx, req.TraceID, req.SessionID, req.UserID)
	defer wf.End()
	ctx = logger.WithLogFields(wf.Context(), logger.LogFields{
		SessionID: req.SessionID.String(),
		Component: "deepresearch.orchestrator",
	})

	rw := telemetry.StartResearchWorkflow(ctx, req.SessionID, req.Topic, s.maxIterations)
	defer rw.End()

	engine := graph.New(s.planNode, s.researchNode, s.critiqueNode, s.refineNode, s.finishNode)

	initial := model.ResearchState{
		SessionID:        req.SessionID,
		UserID:           req.UserID,
		Topic:            req.Topic,
		MaxIterations:    s.maxIterations,
		QualityThreshold: s.qualityThreshold,
	}

	final, err := engine.Run(rw.Context(), initial, nil)
	if err != nil {
		rw.RecordError(err)
		var persistErr *reportPersistError
		if errors.As(err, &persistErr) {
			return Result{}, newFatalError(fmt.Errorf("persisting research report: %w", persistErr.err))
		}
		return Result{}, newRetryableError(fmt.Errorf("running research graph: %w", err))
	}

	reportText := report.Format(final, req.Topic, time.Now())
	return Result{Report: reportText, State: final}, nil
}

// resolveApprovals gates every pending action the agent deferred during the
// node it just ran. Rejections and escalations are recorded as findings
// instead of silently dropped so the final report stays honest about what
// was skipped.
func (s *Step) resolveApprovals(ctx context.Context, state model.ResearchState) model.ResearchState {
	pending := state.PendingActions
	if len(pending) == 0 {
		return state
	}
	state.PendingActions = nil

	for _, action := range pending {
		approvalID := uuid.New()
		wait := telemetry.StartApprovalWait(ctx, approvalID, action.Risk)
		outcome, err := s.approvals.RequestApproval(wait.Context(), model.ApprovalRequest{
			ID:        approvalID,
			SessionID: state.SessionID,
			Action:    action,
			Risk:      action.Risk,
			Timeout:   s.approvalTimeout,
		})
		wait.End()
		if err != nil {
			state.Findings = append(state.Findings, fmt.Sprintf("approval request for %s failed: %v", action.ToolName, err))
			continue
		}

		switch outcome {
		case model.ApprovalRejected:
			state.Findings = append(state.Findings, fmt.Sprintf("action %q was rejected by a reviewer and was not executed", action.ToolName))
		case model.ApprovalEscalated:
			state.Findings = append(state.Findings, fmt.Sprintf("action %q timed out waiting for review and was not executed", action.ToolName))
		case model.ApprovalApproved:
			state = s.executeApproved(ctx, state, action)
		}
	}

	return state
}

func (s *Step) executeApproved(ctx context.Context, state model.ResearchState, action model.PlannedAction) model.ResearchState {
	tool := telemetry.StartToolCall(ctx, action.ToolName, action.Risk)
	defer tool.End()

	start := time.Now()
	output, err := s.executor.Execute(tool.Context(), action.ToolName, action.Arguments)
	rec := model.ToolCallRecord{
		ToolName:  action.ToolName,
		Arguments: action.Arguments,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		tool.RecordError(err)
		rec.Error = err.Error()
		state.Findings = append(state.Findings, fmt.Sprintf("approved action %q failed: %v", action.ToolName, err))
	} else {
		rec.Result = output
		state.Findings = append(state.Findings, output)
	}
	state.ToolCalls = append(state.ToolCalls, rec)
	return state
}

// runAgentTurn drives one agent reasoning loop for phase and folds the
// result into state: findings, sources, tool calls, gap reports, and any
// deferred actions, which are resolved before returning.
func (s *Step) runAgentTurn(ctx context.Context, state model.ResearchState, phase model.ResearchPhase, task string) (model.ResearchState, error) {
	node := telemetry.StartGraphNode(ctx, phase, state.Iteration)
	defer node.End()
	ctx = logger.WithLogFields(node.Context(), logger.LogFields{Phase: logger.Ptr(string(phase))})

	state.Phase = phase

	history, err := s.store.GetConversationHistory(ctx, state.SessionID, 20)
	if err != nil {
		slog.WarnContext(ctx, "failed to load conversation history, continuing without it", "error", err)
	}

	agentSpan := telemetry.StartAgentRun(ctx, task)
	resp, deferred, err := s.agent.Run(agentSpan.Context(), task, history)
	agentSpan.End()
	if err != nil {
		node.RecordError(err)
		return state, err
	}

	if resp.Gap != nil {
		state.GapReports = append(state.GapReports, *resp.Gap)
		return state, nil
	}

	if resp.Content != "" {
		state.Findings = append(state.Findings, resp.Content)
		if _, err := s.store.StoreMessage(ctx, model.Message{
			SessionID: state.SessionID,
			Role:      model.RoleAssistant,
			Content:   resp.Content,
			CreatedAt: time.Now(),
		}); err != nil {
			slog.WarnContext(ctx, "failed to persist agent turn", "error", err)
		}
	}
	state.Sources = append(state.Sources, resp.Sources...)
	state.ToolCalls = append(state.ToolCalls, resp.ToolCalls...)
	state.PendingActions = append(state.PendingActions, deferred...)

	state = s.resolveApprovals(ctx, state)
	return state, nil
}

func (s *Step) planNode(ctx context.Context, state model.ResearchState) (model.ResearchState, error) {
	task := fmt.Sprintf("Produce a short research plan for the topic %q: list the angles worth investigating and any tools you expect to need.", state.Topic)
	return s.runAgentTurn(ctx, state, model.PhasePlan, task)
}

func (s *Step) researchNode(ctx context.Context, state model.ResearchState) (model.ResearchState, error) {
	task := fmt.Sprintf("Research the topic %q. Findings gathered so far:\n%s\nGather new evidence and cite sources.", state.Topic, joinFindings(state.Findings))
	return s.runAgentTurn(ctx, state, model.PhaseResearch, task)
}

func (s *Step) refineNode(ctx context.Context, state model.ResearchState) (model.ResearchState, error) {
	task := fmt.Sprintf("The previous findings on %q were critiqued as follows:\n%s\nAddress the critique and gather the missing evidence.", state.Topic, state.CritiqueNotes)
	return s.runAgentTurn(ctx, state, model.PhaseRefine, task)
}

func (s *Step) finishNode(ctx context.Context, state model.ResearchState) (model.ResearchState, error) {
	node := telemetry.StartGraphNode(ctx, model.PhaseFinish, state.Iteration)
	defer node.End()
	state.Phase = model.PhaseFinish
	state.Done = true

	// An honest capability-gap refusal produces no findings worth keeping as
	// a research report; only a genuine finish persists one.
	if len(state.GapReports) > 0 {
		return state, nil
	}

	reportText := report.Format(state, state.Topic, time.Now())
	sources := make([]map[string]string, 0, len(state.Sources))
	for _, src := range state.Sources {
		sources = append(sources, map[string]string{"title": src.Title, "url": src.URL})
	}

	doc := model.Document{
		SessionID: state.SessionID,
		Content:   reportText,
		CreatedAt: time.Now(),
		Metadata: map[string]any{
			"type":       "research_report",
			"topic":      state.Topic,
			"user_id":    state.UserID,
			"iterations": state.Iteration,
			"sources":    sources,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	}

	if _, err := s.store.StoreDocument(ctx, doc); err != nil {
		node.RecordError(err)
		return state, &reportPersistError{err: err}
	}

	return state, nil
}

type critiqueOutput struct {
	Score float64 `json:"score" jsonschema_description:"Quality score from 0 to 1 for how well the findings answer the topic"`
	Notes string  `json:"notes" jsonschema_description:"What is missing or weak, to guide another research pass"`
}

func (s *Step) critiqueNode(ctx context.Context, state model.ResearchState) (model.ResearchState, error) {
	node := telemetry.StartGraphNode(ctx, model.PhaseCritique, state.Iteration)
	defer node.End()
	ctx = node.Context()

	state.Phase = model.PhaseCritique

	if s.critique == nil {
		// No structured critique model configured: accept findings as-is.
		state.CritiqueScore = s.qualityThreshold
		state.CritiqueNotes = "critique model not configured"
		return state, nil
	}

	var out critiqueOutput
	_, err := s.critique.Chat(ctx, llm.Request{
		SystemPrompt: "You are a meticulous research editor. Score the findings strictly.",
		UserPrompt:   fmt.Sprintf("Topic: %s\n\nFindings:\n%s", state.Topic, joinFindings(state.Findings)),
		SchemaName:   "research_critique",
		Schema:       llm.GenerateSchema[critiqueOutput](),
		Temperature:  llm.Temp(0),
	}, &out)
	if err != nil {
		if llm.IsRetryable(ctx, err) {
			node.RecordError(err)
			return state, fmt.Errorf("critique: %w", err)
		}
		slog.WarnContext(ctx, "critique call failed non-retryably, treating findings as unscored", "error", err)
		state.CritiqueScore = 0
		state.CritiqueNotes = "critique unavailable: " + err.Error()
		return state, nil
	}

	state.CritiqueScore = out.Score
	state.CritiqueNotes = out.Notes
	return state, nil
}

func joinFindings(findings []string) string {
	if len(findings) == 0 {
		return "(none yet)"
	}
	out := ""
	for i, f := range findings {
		out += fmt.Sprintf("%d. %s\n", i+1, f)
	}
	return out
}
