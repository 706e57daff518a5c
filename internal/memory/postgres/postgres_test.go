package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/corwenfield/deepresearch/internal/memory"
	"github.com/corwenfield/deepresearch/internal/model"
)

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return parsed
}

func TestStoreDocumentDimensionMismatch(t *testing.T) {
	s := New(nil, 1536)

	if s.dimension != 1536 {
		t.Fatalf("expected dimension 1536, got %d", s.dimension)
	}

	_, err := s.StoreDocument(context.Background(), model.Document{
		Content:   "partial embedding",
		Embedding: make([]float32, 8),
	})
	if err == nil {
		t.Fatal("expected dimension mismatch error, got nil")
	}
	if !errors.Is(err, memory.ErrValidation) {
		t.Fatalf("expected a wrapped memory.ErrValidation, got %v", err)
	}
}

func TestSemanticSearchRejectsOutOfRangeTopK(t *testing.T) {
	s := New(nil, 1536)

	_, err := s.SemanticSearch(context.Background(), uuid.Nil, []float32{0.1}, 0, nil)
	if !errors.Is(err, memory.ErrValidation) {
		t.Fatalf("expected memory.ErrValidation for top_k=0, got %v", err)
	}

	_, err = s.SemanticSearch(context.Background(), uuid.Nil, []float32{0.1}, 1001, nil)
	if !errors.Is(err, memory.ErrValidation) {
		t.Fatalf("expected memory.ErrValidation for top_k=1001, got %v", err)
	}
}

func TestTemporalQueryRejectsInvertedWindow(t *testing.T) {
	s := New(nil, 1536)

	now := mustParseTime(t, "2026-01-02T00:00:00Z")
	earlier := mustParseTime(t, "2026-01-01T00:00:00Z")

	_, err := s.TemporalQuery(context.Background(), memory.TemporalQuery{Since: now, Until: earlier})
	if !errors.Is(err, memory.ErrValidation) {
		t.Fatalf("expected memory.ErrValidation for inverted window, got %v", err)
	}
}

func TestStoreDocumentAllowsMissingEmbedding(t *testing.T) {
	s := New(nil, 1536)

	// No embedding means no dimension check runs, so the call reaches the
	// pool and fails there instead of on validation; a nil pool panics on
	// Exec, which is the signal this test checks for to distinguish the
	// two failure paths.
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected call against nil pool to panic past validation")
		}
	}()
	_, _ = s.StoreDocument(context.Background(), model.Document{Content: "no embedding"})
}
