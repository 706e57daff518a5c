// Package approval coordinates human sign-off on risky planned actions: it
// suspends the calling goroutine, publishes a request a reviewer can act on,
// and resumes with one of three outcomes once the reviewer responds or the
// timeout escalates the request.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/corwenfield/deepresearch/internal/model"
)

const (
	defaultTimeout = 300 * time.Second
	requestChannel = "approval-requests"
	resumePrefix   = "approval-resume:"
)

// Clock abstracts time.Now and time.After for deterministic tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                  { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Coordinator suspends execution pending a human decision, backed by Redis
// pub/sub for the resume signal.
type Coordinator struct {
	rdb   *redis.Client
	clock Clock
}

// New creates a Coordinator. Pass nil clock to use the real wall clock.
func New(rdb *redis.Client, clock Clock) *Coordinator {
	if clock == nil {
		clock = realClock{}
	}
	return &Coordinator{rdb: rdb, clock: clock}
}

type resumeSignal struct {
	Outcome model.ApprovalOutcome `json:"outcome"`
	Note    string                `json:"note,omitempty"`
}

// RequestApproval publishes req for a human reviewer and blocks until a
// resume signal arrives on its dedicated channel or timeout elapses, in
// which case the request escalates.
func (c *Coordinator) RequestApproval(ctx context.Context, req model.ApprovalRequest) (model.ApprovalOutcome, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = c.clock.Now()
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	channel := resumePrefix + req.ID.String()
	sub := c.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal approval request: %w", err)
	}
	if err := c.rdb.Publish(ctx, requestChannel, payload).Err(); err != nil {
		return "", fmt.Errorf("publish approval request: %w", err)
	}

	slog.InfoContext(ctx, "approval requested",
		"approval_id", req.ID,
		"tool", req.Action.ToolName,
		"risk", req.Risk,
		"timeout", timeout)

	ch := sub.Channel()
	select {
	case msg := <-ch:
		var signal resumeSignal
		if err := json.Unmarshal([]byte(msg.Payload), &signal); err != nil {
			return "", fmt.Errorf("unmarshal resume signal: %w", err)
		}
		slog.InfoContext(ctx, "approval resumed", "approval_id", req.ID, "outcome", signal.Outcome)
		return signal.Outcome, nil

	case <-c.clock.After(timeout):
		slog.WarnContext(ctx, "approval timed out, escalating", "approval_id", req.ID, "timeout", timeout)
		return model.ApprovalEscalated, nil

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resume publishes a reviewer's decision for a pending approval request.
func (c *Coordinator) Resume(ctx context.Context, approvalID uuid.UUID, outcome model.ApprovalOutcome, note string) error {
	payload, err := json.Marshal(resumeSignal{Outcome: outcome, Note: note})
	if err != nil {
		return fmt.Errorf("marshal resume signal: %w", err)
	}

	channel := resumePrefix + approvalID.String()
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish resume signal: %w", err)
	}
	return nil
}
