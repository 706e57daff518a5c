package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/corwenfield/deepresearch/common/llm"
	"github.com/corwenfield/deepresearch/common/logger"
	"github.com/corwenfield/deepresearch/common/otel"
	"github.com/corwenfield/deepresearch/core/config"
	"github.com/corwenfield/deepresearch/core/db"
	"github.com/corwenfield/deepresearch/core/redisclient"
	"github.com/corwenfield/deepresearch/internal/agent"
	"github.com/corwenfield/deepresearch/internal/approval"
	"github.com/corwenfield/deepresearch/internal/memory/postgres"
	"github.com/corwenfield/deepresearch/internal/orchestrator"
	"github.com/corwenfield/deepresearch/internal/queue"
	"github.com/corwenfield/deepresearch/internal/toolregistry"
)

// seedTools is the built-in tool catalog the registry is created with. The
// registry does not add tools from "tools-changed" signals.
var seedTools = []toolregistry.Tool{
	{Name: "web_search", Description: "search the web for sources relevant to a query"},
	{Name: "fetch_url", Description: "fetch and extract the text content of a URL"},
	{Name: "search_memory", Description: "semantic search over this session's stored documents"},
	{Name: "store_memory", Description: "store a document or finding in this session's memory"},
}

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	}

	slog.InfoContext(ctx, "deepresearch worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Redis.TriggerGroup,
		"consumer_name", cfg.Redis.TriggerConsumer)

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	redisClient, err := redisclient.New(ctx, cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	store := postgres.New(database.Pool(), cfg.VectorDimension)

	structuredClient, err := llm.New(cfg.StructuredLLM)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build structured llm client", "error", err)
		os.Exit(1)
	}

	registry := toolregistry.New(seedTools, structuredClient, redisClient)
	defer registry.Close()

	agentClient, err := newAgentClient(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build agent llm client", "error", err)
		os.Exit(1)
	}

	executor := toolregistry.NewRedisDiscoverer(redisClient, time.Duration(cfg.ToolCallTimeoutSeconds)*time.Second)
	runner := agent.New(agentClient, registry, executor)
	approvals := approval.New(redisClient, nil)

	step := orchestrator.New(
		runner,
		structuredClient,
		store,
		approvals,
		executor,
		cfg.MaxIterations,
		cfg.QualityThreshold,
		time.Duration(cfg.ApprovalTimeoutSeconds)*time.Second,
	)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Redis.TriggerStream,
		Group:        cfg.Redis.TriggerGroup,
		Consumer:     cfg.Redis.TriggerConsumer,
		DLQStream:    cfg.Redis.DLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create stream consumer", "error", err)
		os.Exit(1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go runLoop(runCtx, consumer, step, done)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")
	cancel()
	<-done

	if telemetry != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
		defer shutdownCancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

func newAgentClient(cfg config.Config) (llm.AgentClient, error) {
	switch cfg.AgentProvider {
	case "anthropic":
		return llm.NewAnthropicClient(cfg.AgentLLM)
	default:
		return llm.NewAgentClient(cfg.AgentLLM)
	}
}

const maxRequeueAttempts = 3

func runLoop(ctx context.Context, consumer *queue.RedisConsumer, step *orchestrator.Step, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := consumer.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.ErrorContext(ctx, "failed to read from stream", "error", err)
			continue
		}

		for _, msg := range messages {
			processMessage(ctx, consumer, step, msg)
		}
	}
}

func processMessage(ctx context.Context, consumer *queue.RedisConsumer, step *orchestrator.Step, msg queue.Message) {
	sessionID, err := uuid.Parse(msg.SessionID)
	if err != nil {
		sessionID = uuid.New()
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: sessionID.String(),
		Component: "deepresearch.worker",
	})

	result, err := step.Run(ctx, orchestrator.Request{
		SessionID: sessionID,
		UserID:    msg.UserID,
		Topic:     msg.Topic,
		TraceID:   msg.TraceID,
	})

	var stepErr *orchestrator.StepError
	switch {
	case err == nil:
		slog.InfoContext(ctx, "research session completed", "report_length", len(result.Report))
		if ackErr := consumer.Ack(ctx, msg); ackErr != nil {
			slog.ErrorContext(ctx, "failed to ack message", "error", ackErr)
		}
	case errors.As(err, &stepErr) && stepErr.Retryable && msg.Attempt < maxRequeueAttempts:
		slog.WarnContext(ctx, "research session failed, requeuing", "error", err, "attempt", msg.Attempt)
		if requeueErr := consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
			slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
		}
	default:
		slog.ErrorContext(ctx, "research session failed permanently", "error", err)
		if dlqErr := consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send message to dlq", "error", dlqErr)
		}
	}
}

const banner = `
██████╗ ███████╗███████╗██████╗ ██████╗ ███████╗███████╗███████╗ █████╗ ██████╗  ██████╗██╗  ██╗
██╔══██╗██╔════╝██╔════╝██╔══██╗██╔══██╗██╔════╝██╔════╝██╔════╝██╔══██╗██╔══██╗██╔════╝██║  ██║
██║  ██║█████╗  █████╗  ██████╔╝██████╔╝█████╗  ███████╗█████╗  ███████║██████╔╝██║     ███████║
██║  ██║██╔══╝  ██╔══╝  ██╔═══╝ ██╔══██╗██╔══╝  ╚════██║██╔══╝  ██╔══██║██╔══██╗██║     ██╔══██║
██████╔╝███████╗███████╗██║     ██║  ██║███████╗███████║███████╗██║  ██║██║  ██║╚██████╗██║  ██║
╚═════╝ ╚══════╝╚══════╝╚═╝     ╚═╝  ╚═╝╚══════╝╚══════╝╚══════╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝
(worker)
`
