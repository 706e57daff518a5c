package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/corwenfield/deepresearch/internal/approval"
	"github.com/corwenfield/deepresearch/internal/model"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRequestApprovalResumedByReviewer(t *testing.T) {
	rdb := newTestRedis(t)
	coord := approval.New(rdb, nil)

	req := model.ApprovalRequest{
		ID:      uuid.New(),
		Action:  model.PlannedAction{ToolName: "send_email"},
		Risk:    model.RiskIrreversible,
		Timeout: 2 * time.Second,
	}

	resultCh := make(chan model.ApprovalOutcome, 1)
	errCh := make(chan error, 1)
	go func() {
		outcome, err := coord.RequestApproval(context.Background(), req)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- outcome
	}()

	time.Sleep(50 * time.Millisecond)
	if err := coord.Resume(context.Background(), req.ID, model.ApprovalApproved, "looks good"); err != nil {
		t.Fatalf("resume: %v", err)
	}

	select {
	case outcome := <-resultCh:
		if outcome != model.ApprovalApproved {
			t.Fatalf("expected approved, got %s", outcome)
		}
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval result")
	}
}

type instantClock struct{ ch chan time.Time }

func (c instantClock) Now() time.Time                  { return time.Now() }
func (c instantClock) After(time.Duration) <-chan time.Time { return c.ch }

func TestRequestApprovalEscalatesOnTimeout(t *testing.T) {
	rdb := newTestRedis(t)

	fired := make(chan time.Time, 1)
	fired <- time.Now()
	coord := approval.New(rdb, instantClock{ch: fired})

	req := model.ApprovalRequest{
		ID:     uuid.New(),
		Action: model.PlannedAction{ToolName: "delete_document"},
		Risk:   model.RiskIrreversible,
	}

	outcome, err := coord.RequestApproval(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != model.ApprovalEscalated {
		t.Fatalf("expected escalated, got %s", outcome)
	}
}
