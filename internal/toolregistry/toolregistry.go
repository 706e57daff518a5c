// Package toolregistry tracks which tools are available to the agent runner,
// detects when a task needs a capability no tool provides, and listens for
// "tools-changed" signals.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corwenfield/deepresearch/common/llm"
	"github.com/corwenfield/deepresearch/internal/model"
)

const toolsChangedChannel = "tools-changed"

// Tool describes a capability the agent runner may invoke.
type Tool struct {
	Name        string
	Description string
	Parameters  any
}

// Registry lists available tools and flags capability gaps in a task before
// the agent runner spends a turn on it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	classifier llm.Client
	sub        *redis.PubSub
}

// New creates a Registry seeded with the given tools. If rdb is non-nil the
// registry subscribes to the "tools-changed" channel and logs every message;
// the registered tool set is not reloaded or changed by those messages.
func New(initial []Tool, classifier llm.Client, rdb *redis.Client) *Registry {
	r := &Registry{
		tools:      make(map[string]Tool, len(initial)),
		classifier: classifier,
	}
	for _, t := range initial {
		r.tools[t.Name] = t
	}

	if rdb != nil {
		r.sub = rdb.Subscribe(context.Background(), toolsChangedChannel)
		go r.watchInvalidations()
	}

	return r
}

func (r *Registry) watchInvalidations() {
	ch := r.sub.Channel()
	for range ch {
		slog.Info("tool registry cache invalidated", "reason", "tools-changed signal")
	}
}

// ListTools returns the currently registered tools.
func (r *Registry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Register adds or replaces a tool in this registry and, if rdb is non-nil,
// publishes a tools-changed signal. Other registry instances only log that
// signal; they do not add the tool.
func (r *Registry) Register(ctx context.Context, rdb *redis.Client, t Tool) error {
	r.mu.Lock()
	r.tools[t.Name] = t
	r.mu.Unlock()

	if rdb == nil {
		return nil
	}
	if err := rdb.Publish(ctx, toolsChangedChannel, t.Name).Err(); err != nil {
		return fmt.Errorf("publish tools-changed: %w", err)
	}
	return nil
}

type gapAnalysis struct {
	HasGap            bool     `json:"has_gap"`
	MissingCapability string   `json:"missing_capability"`
	Reason            string   `json:"reason"`
	ConsideredTools   []string `json:"considered_tools"`
}

// DetectMissingTools asks the capability-extraction LLM whether the task can
// be completed with the currently registered tools. A nil return means no
// gap was found.
func (r *Registry) DetectMissingTools(ctx context.Context, task string) (*model.ToolGapReport, error) {
	if r.classifier == nil {
		return nil, nil
	}

	tools := r.ListTools()
	names := make([]string, len(tools))
	descriptions := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
		descriptions[i] = fmt.Sprintf("%s: %s", t.Name, t.Description)
	}

	req := llm.Request{
		SystemPrompt: "You determine whether a research task can be completed using only the " +
			"tools listed below. Respond honestly: if no combination of the available tools can " +
			"satisfy the task, report the gap instead of guessing.\n\nAvailable tools:\n" +
			strings.Join(descriptions, "\n"),
		UserPrompt:  task,
		SchemaName:  "gap_analysis",
		Schema:      llm.GenerateSchema[gapAnalysis](),
		Temperature: llm.Temp(0),
	}

	var analysis gapAnalysis
	if _, err := r.classifier.Chat(ctx, req, &analysis); err != nil {
		return nil, fmt.Errorf("detect missing tools: %w", err)
	}

	if !analysis.HasGap {
		return nil, nil
	}

	return &model.ToolGapReport{
		MissingCapability: analysis.MissingCapability,
		Reason:            analysis.Reason,
		AttemptedTools:    names,
	}, nil
}

// Close releases the pub/sub subscription, if any.
func (r *Registry) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Close()
}

// Discoverer is the external tool-discovery protocol client: it lists what a
// deployment's tool collaborators can do and carries out a call against one
// of them. Production implementations are external to this module; a
// Redis-backed one is provided for local and dev wiring.
type Discoverer interface {
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (string, error)
}

// RedisDiscoverer calls tools by publishing a request on a per-tool Redis
// list and blocking for the paired response list, a minimal RPC convention
// that keeps the core free of per-tool transport code. It doubles as an
// agent.ToolExecutor.
type RedisDiscoverer struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedisDiscoverer creates a Discoverer bound to rdb, waiting up to
// timeout for each call's response.
func NewRedisDiscoverer(rdb *redis.Client, timeout time.Duration) *RedisDiscoverer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RedisDiscoverer{rdb: rdb, timeout: timeout}
}

// ListTools reads the tool catalog a collaborator publishes to the
// "tool-catalog" hash, keyed by tool name to its JSON-encoded Tool.
func (d *RedisDiscoverer) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := d.rdb.HGetAll(ctx, "tool-catalog").Result()
	if err != nil {
		return nil, fmt.Errorf("reading tool catalog: %w", err)
	}
	tools := make([]Tool, 0, len(raw))
	for _, v := range raw {
		var t Tool
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			continue
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// CallTool implements Discoverer by pushing a call request onto
// "tool-call:<name>" and blocking for a reply on a per-request response
// list; it delegates to Execute.
func (d *RedisDiscoverer) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	return d.Execute(ctx, name, arguments)
}

// Execute is the agent.ToolExecutor entry point; CallTool delegates to it.
func (d *RedisDiscoverer) Execute(ctx context.Context, name string, arguments map[string]any) (string, error) {
	replyKey := fmt.Sprintf("tool-reply:%s:%d", name, time.Now().UnixNano())

	payload, err := json.Marshal(map[string]any{
		"reply_to":  replyKey,
		"arguments": arguments,
	})
	if err != nil {
		return "", fmt.Errorf("marshal tool call: %w", err)
	}

	if err := d.rdb.LPush(ctx, "tool-call:"+name, payload).Err(); err != nil {
		return "", fmt.Errorf("push tool call: %w", err)
	}

	result, err := d.rdb.BLPop(ctx, d.timeout, replyKey).Result()
	if err != nil {
		return "", fmt.Errorf("waiting for tool reply (tool=%s): %w", name, err)
	}
	if len(result) < 2 {
		return "", fmt.Errorf("malformed tool reply (tool=%s)", name)
	}
	return result[1], nil
}
