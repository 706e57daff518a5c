// Package model holds the data types shared across the research orchestration
// engine: sessions, messages, documents, and the working-memory shapes used by
// the agent runner and research graph.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Session groups a sequence of research turns under a single user.
type Session struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageRole identifies the speaker of a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// Message is a single turn of conversation persisted to the memory store.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Document is a unit of retrievable knowledge: a research finding, a source
// excerpt, or a synthesized note, embedded for semantic search.
type Document struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SourceReference points at evidence a research finding is built on.
type SourceReference struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// ToolCallRecord captures one tool invocation made during an agent turn, kept
// for traceability.
type ToolCallRecord struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// ToolGapReport is returned by the agent runner, in place of a fabricated
// answer, when the task requires a capability no registered tool provides.
type ToolGapReport struct {
	MissingCapability string   `json:"missing_capability"`
	Reason            string   `json:"reason"`
	AttemptedTools    []string `json:"attempted_tools"`
}

// AgentResponse is the outcome of one agent runner turn: either a completed
// answer, a request to run more tools, or an honest gap report.
type AgentResponse struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Gap       *ToolGapReport   `json:"gap,omitempty"`
	Sources   []SourceReference `json:"sources,omitempty"`
}

// RiskLevel classifies the blast radius of a planned tool invocation.
type RiskLevel string

const (
	RiskReversible            RiskLevel = "REVERSIBLE"
	RiskReversibleWithDelay   RiskLevel = "REVERSIBLE_WITH_DELAY"
	RiskIrreversible          RiskLevel = "IRREVERSIBLE"
)

// PlannedAction is a tool call the research graph intends to make, annotated
// with its risk classification before execution.
type PlannedAction struct {
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	Risk       RiskLevel      `json:"risk"`
	Confidence float64        `json:"confidence"`
	Rationale  string         `json:"rationale,omitempty"`
}

// ResearchPhase names a node in the bounded research state machine.
type ResearchPhase string

const (
	PhasePlan     ResearchPhase = "plan"
	PhaseResearch ResearchPhase = "research"
	PhaseCritique ResearchPhase = "critique"
	PhaseRefine   ResearchPhase = "refine"
	PhaseFinish   ResearchPhase = "finish"
)

// ResearchState is the working memory threaded through the graph engine
// across iterations of the plan/research/critique/refine cycle.
type ResearchState struct {
	SessionID        uuid.UUID
	UserID           string
	Topic            string
	Phase            ResearchPhase
	Iteration        int
	MaxIterations    int
	QualityThreshold float64
	Findings         []string
	Sources          []SourceReference
	ToolCalls        []ToolCallRecord
	GapReports       []ToolGapReport
	CritiqueScore    float64
	CritiqueNotes    string
	PendingActions   []PlannedAction
	Done             bool
}

// ResearchReport is the final Markdown-rendered deliverable of a completed
// research run.
type ResearchReport struct {
	SessionID   uuid.UUID
	Topic       string
	Summary     string
	Findings    []string
	Sources     []SourceReference
	GeneratedAt time.Time
}

// ApprovalOutcome is the three-way result of a human approval request.
type ApprovalOutcome string

const (
	ApprovalApproved  ApprovalOutcome = "approved"
	ApprovalRejected  ApprovalOutcome = "rejected"
	ApprovalEscalated ApprovalOutcome = "escalated"
)

// ApprovalRequest represents a planned action suspended pending human review.
type ApprovalRequest struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Action    PlannedAction
	Risk      RiskLevel
	CreatedAt time.Time
	Timeout   time.Duration
}
