package toolregistry_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/corwenfield/deepresearch/common/llm"
	"github.com/corwenfield/deepresearch/internal/toolregistry"
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

type fakeClient struct {
	payload []byte
}

func (f *fakeClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	if err := json.Unmarshal(f.payload, result); err != nil {
		return nil, err
	}
	return &llm.Response{}, nil
}

func (f *fakeClient) Model() string { return "fake" }

func TestDetectMissingToolsNoGap(t *testing.T) {
	client := &fakeClient{payload: []byte(`{"has_gap": false}`)}

	reg := toolregistry.New([]toolregistry.Tool{{Name: "web_search", Description: "search the web"}}, client, nil)

	gap, err := reg.DetectMissingTools(context.Background(), "find recent papers on X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gap != nil {
		t.Fatalf("expected no gap, got %+v", gap)
	}
}

func TestListToolsReturnsRegistered(t *testing.T) {
	reg := toolregistry.New([]toolregistry.Tool{
		{Name: "web_search", Description: "search the web"},
		{Name: "fetch_url", Description: "fetch a url"},
	}, nil, nil)

	tools := reg.ListTools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
}

func TestRedisDiscovererListToolsParsesCatalog(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	encoded, err := json.Marshal(toolregistry.Tool{Name: "web_search", Description: "search the web"})
	if err != nil {
		t.Fatalf("marshal tool: %v", err)
	}
	if err := rdb.HSet(ctx, "tool-catalog", "web_search", encoded).Err(); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if err := rdb.HSet(ctx, "tool-catalog", "broken", "not json").Err(); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	d := toolregistry.NewRedisDiscoverer(rdb, time.Second)
	tools, err := d.ListTools(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected 1 well-formed tool, got %d: %+v", len(tools), tools)
	}
	if tools[0].Name != "web_search" {
		t.Fatalf("expected web_search, got %q", tools[0].Name)
	}
}

func TestRedisDiscovererExecuteRoundTrips(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	d := toolregistry.NewRedisDiscoverer(rdb, 2*time.Second)

	go func() {
		call, err := rdb.BLPop(context.Background(), 2*time.Second, "tool-call:web_search").Result()
		if err != nil || len(call) < 2 {
			return
		}
		var req struct {
			ReplyTo   string         `json:"reply_to"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(call[1]), &req); err != nil {
			return
		}
		rdb.LPush(context.Background(), req.ReplyTo, "found 3 sources")
	}()

	result, err := d.CallTool(ctx, "web_search", map[string]any{"query": "llm orchestration"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "found 3 sources" {
		t.Fatalf("expected canned reply, got %q", result)
	}
}

func TestRedisDiscovererExecuteTimesOutWithoutReply(t *testing.T) {
	rdb := newTestRedis(t)
	d := toolregistry.NewRedisDiscoverer(rdb, 50*time.Millisecond)

	_, err := d.Execute(context.Background(), "web_search", nil)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}
