// Package httpapi is the only HTTP surface the core owns: the webhook a
// reviewer's approval UI calls to resume a suspended approval request, and a
// health check. Everything else (triggering research, streaming progress) is
// the external workflow engine's job.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/corwenfield/deepresearch/internal/approval"
	"github.com/corwenfield/deepresearch/internal/model"
)

// HealthChecker is satisfied by anything whose health gates readiness (the
// database pool, the Redis client).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouterConfig controls middleware wiring that depends on the environment.
type RouterConfig struct {
	ServiceName  string
	OTelEnabled  bool
	IsProduction bool
}

type decisionRequest struct {
	Outcome model.ApprovalOutcome `json:"outcome" binding:"required"`
	Note    string                `json:"note"`
}

// NewRouter builds the gin engine serving the approval webhook and health
// check.
func NewRouter(cfg RouterConfig, approvals *approval.Coordinator, checks ...HealthChecker) *gin.Engine {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	// OTel creates the span before Recovery catches a panic so the span
	// still records the failure.
	if cfg.OTelEnabled {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(gin.Recovery())

	router.GET("/healthz", healthHandler(checks))
	router.POST("/approvals/:id/decision", decisionHandler(approvals))

	return router
}

func healthHandler(checks []HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, check := range checks {
			if err := check.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func decisionHandler(approvals *approval.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		approvalID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approval id"})
			return
		}

		var req decisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		switch req.Outcome {
		case model.ApprovalApproved, model.ApprovalRejected:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "outcome must be approved or rejected"})
			return
		}

		if err := approvals.Resume(c.Request.Context(), approvalID, req.Outcome, req.Note); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "resumed"})
	}
}
