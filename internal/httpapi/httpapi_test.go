package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/corwenfield/deepresearch/internal/approval"
	"github.com/corwenfield/deepresearch/internal/httpapi"
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

type okHealthChecker struct{}

func (okHealthChecker) HealthCheck(context.Context) error { return nil }

type failingHealthChecker struct{}

func (failingHealthChecker) HealthCheck(context.Context) error { return errors.New("down") }

func TestHealthzReportsOKWhenAllDependenciesHealthy(t *testing.T) {
	router := httpapi.NewRouter(httpapi.RouterConfig{}, approval.New(newTestRedis(t), nil), okHealthChecker{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthzReportsUnavailableWhenADependencyFails(t *testing.T) {
	router := httpapi.NewRouter(httpapi.RouterConfig{}, approval.New(newTestRedis(t), nil), okHealthChecker{}, failingHealthChecker{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestDecisionEndpointResumesSuspendedApproval(t *testing.T) {
	rdb := newTestRedis(t)
	coord := approval.New(rdb, nil)
	router := httpapi.NewRouter(httpapi.RouterConfig{}, coord)

	approvalID := uuid.New()
	resultCh := make(chan model.ApprovalOutcome, 1)
	go func() {
		outcome, err := coord.RequestApproval(context.Background(), model.ApprovalRequest{
			ID:      approvalID,
			Action:  model.PlannedAction{ToolName: "send_email"},
			Risk:    model.RiskIrreversible,
			Timeout: 2 * time.Second,
		})
		if err == nil {
			resultCh <- outcome
		}
	}()

	// give RequestApproval time to subscribe before the resume fires.
	time.Sleep(50 * time.Millisecond)

	body, _ := json.Marshal(map[string]string{"outcome": string(model.ApprovalApproved), "note": "looks fine"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/approvals/"+approvalID.String()+"/decision", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case outcome := <-resultCh:
		if outcome != model.ApprovalApproved {
			t.Fatalf("expected approved, got %v", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for approval to resume")
	}
}

func TestDecisionEndpointRejectsInvalidOutcome(t *testing.T) {
	router := httpapi.NewRouter(httpapi.RouterConfig{}, approval.New(newTestRedis(t), nil))

	body, _ := json.Marshal(map[string]string{"outcome": "maybe"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/approvals/"+uuid.New().String()+"/decision", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDecisionEndpointRejectsMalformedID(t *testing.T) {
	router := httpapi.NewRouter(httpapi.RouterConfig{}, approval.New(newTestRedis(t), nil))

	body, _ := json.Marshal(map[string]string{"outcome": string(model.ApprovalApproved)})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/approvals/not-a-uuid/decision", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
