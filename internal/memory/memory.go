// Package memory defines the storage interface backing the research
// orchestration engine: conversation history, documents, and semantic and
// temporal retrieval over them.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/corwenfield/deepresearch/internal/model"
)

// ErrNotFound is returned when a lookup by ID finds nothing.
var ErrNotFound = errors.New("memory: not found")

// ErrValidation is returned when a caller's request violates a precondition
// the store enforces: an out-of-range top_k, an inverted time window, an
// empty message, or an unrecognized role. Wrap it with fmt.Errorf("%w: ...")
// to add detail.
var ErrValidation = errors.New("memory: validation failed")

// TemporalQuery scopes a search to a time window, optionally combined with a
// session and an exact-match metadata filter.
type TemporalQuery struct {
	SessionID *uuid.UUID
	Since     time.Time
	Until     time.Time
	Limit     int
	Filters   map[string]any
}

// Store is the Memory Store's contract: message history, document storage,
// semantic search over embeddings, and temporal queries.
type Store interface {
	StoreMessage(ctx context.Context, msg model.Message) (model.Message, error)
	GetConversationHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.Message, error)

	StoreDocument(ctx context.Context, doc model.Document) (model.Document, error)
	SemanticSearch(ctx context.Context, sessionID uuid.UUID, embedding []float32, limit int, filters map[string]any) ([]model.Document, error)
	TemporalQuery(ctx context.Context, q TemporalQuery) ([]model.Document, error)

	HealthCheck(ctx context.Context) error
}
