// Package postgres implements the memory store on PostgreSQL, using jsonb
// for message and document metadata and pgvector for semantic search.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/corwenfield/deepresearch/internal/memory"
	"github.com/corwenfield/deepresearch/internal/model"
)

// autoCreatedUser is the placeholder user_id stamped on a session the store
// creates implicitly because a message arrived for a session it had never
// seen before.
const autoCreatedUser = "auto-created"

var validRoles = map[model.MessageRole]bool{
	model.RoleUser:      true,
	model.RoleAssistant: true,
	model.RoleTool:      true,
	model.RoleSystem:    true,
}

// Store implements memory.Store on top of a pgx connection pool.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// New creates a postgres-backed memory store. dimension is the embedding
// width enforced on writes (e.g. 1536 for text-embedding-3-small).
func New(pool *pgxpool.Pool, dimension int) *Store {
	return &Store{pool: pool, dimension: dimension}
}

func (s *Store) StoreMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return model.Message{}, fmt.Errorf("%w: message content is empty", memory.ErrValidation)
	}
	if !validRoles[msg.Role] {
		return model.Message{}, fmt.Errorf("%w: unknown message role %q", memory.ErrValidation, msg.Role)
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if err := s.ensureSession(ctx, msg.SessionID); err != nil {
		return model.Message{}, err
	}

	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return model.Message{}, fmt.Errorf("marshal message metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.CreatedAt, metadata)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

// ensureSession upserts a session row for sessionID if one doesn't already
// exist, stamping it with a placeholder user so a message never fails to
// persist just because the caller skipped explicit session creation.
func (s *Store) ensureSession(ctx context.Context, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return fmt.Errorf("%w: session id is required", memory.ErrValidation)
	}

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO NOTHING
	`, sessionID, autoCreatedUser, now)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

func (s *Store) GetConversationHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, created_at, metadata
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversation history: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		var role string
		var metadata []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.MessageRole(role)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func (s *Store) StoreDocument(ctx context.Context, doc model.Document) (model.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if len(doc.Embedding) > 0 && s.dimension > 0 && len(doc.Embedding) != s.dimension {
		return model.Document{}, fmt.Errorf("%w: embedding dimension mismatch: got %d, want %d", memory.ErrValidation, len(doc.Embedding), s.dimension)
	}

	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return model.Document{}, fmt.Errorf("marshal document metadata: %w", err)
	}

	var embedding any
	if len(doc.Embedding) > 0 {
		embedding = pgvector.NewVector(doc.Embedding)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (id, session_id, content, embedding, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, doc.ID, doc.SessionID, doc.Content, embedding, doc.CreatedAt, metadata)
	if err != nil {
		return model.Document{}, fmt.Errorf("insert document: %w", err)
	}

	return doc, nil
}

const maxTopK = 1000

// SemanticSearch ranks documents in a session by cosine distance to
// embedding, optionally narrowed to documents whose metadata contains every
// key/value pair in filters.
func (s *Store) SemanticSearch(ctx context.Context, sessionID uuid.UUID, embedding []float32, topK int, filters map[string]any) ([]model.Document, error) {
	if topK < 1 || topK > maxTopK {
		return nil, fmt.Errorf("%w: top_k must be between 1 and %d, got %d", memory.ErrValidation, maxTopK, topK)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: embedding is empty", memory.ErrValidation)
	}

	query := `
		SELECT id, session_id, content, created_at, metadata
		FROM documents
		WHERE session_id = $1 AND embedding IS NOT NULL`
	args := []any{sessionID}

	if len(filters) > 0 {
		encoded, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata filters: %w", err)
		}
		args = append(args, encoded)
		query += fmt.Sprintf(" AND metadata @> $%d::jsonb", len(args))
	}

	args = append(args, pgvector.NewVector(embedding))
	query += fmt.Sprintf(" ORDER BY embedding <=> $%d", len(args))

	args = append(args, topK)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic search query: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func (s *Store) TemporalQuery(ctx context.Context, q memory.TemporalQuery) ([]model.Document, error) {
	if q.Since.After(q.Until) {
		return nil, fmt.Errorf("%w: temporal query start %s is after end %s", memory.ErrValidation, q.Since, q.Until)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, session_id, content, created_at, metadata FROM documents WHERE created_at BETWEEN $1 AND $2`
	args := []any{q.Since, q.Until}
	if q.SessionID != nil {
		args = append(args, *q.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if len(q.Filters) > 0 {
		encoded, err := json.Marshal(q.Filters)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata filters: %w", err)
		}
		args = append(args, encoded)
		query += fmt.Sprintf(" AND metadata @> $%d::jsonb", len(args))
	}
	query += " ORDER BY created_at ASC"
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("temporal query: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func scanDocuments(rows pgx.Rows) ([]model.Document, error) {
	var docs []model.Document
	for rows.Next() {
		var doc model.Document
		var metadata []byte
		if err := rows.Scan(&doc.ID, &doc.SessionID, &doc.Content, &doc.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal document metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("health check: no rows")
		}
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}
