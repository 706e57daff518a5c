package report_test

import (
	"strings"
	"testing"
	"time"

	"github.com/corwenfield/deepresearch/internal/model"
	"github.com/corwenfield/deepresearch/internal/report"
)

func TestFormatDedupesSourcesAndPlaceholdersEmptySections(t *testing.T) {
	state := model.ResearchState{
		UserID:     "user-1",
		Iteration:  3,
		Findings:   []string{"finding one"},
		CritiqueScore: 0.9,
		Sources: []model.SourceReference{
			{URL: "https://example.com/a", Title: "A", Snippet: "a snippet"},
			{URL: "https://example.com/a", Title: "A duplicate"},
			{URL: "https://example.com/b"},
		},
	}

	out := report.Format(state, "test topic", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	if strings.Count(out, "example.com/a") != 1 {
		t.Fatalf("expected duplicate source to be deduped, got:\n%s", out)
	}
	if !strings.Contains(out, "finding one") {
		t.Fatalf("expected finding to appear in report")
	}
	if !strings.Contains(out, "- [A](https://example.com/a) — a snippet") {
		t.Fatalf("expected source line with snippet suffix, got:\n%s", out)
	}
	if !strings.Contains(out, "## Executive Summary") || !strings.Contains(out, "## Detailed Findings") {
		t.Fatalf("expected fixed section headings, got:\n%s", out)
	}
	if !strings.Contains(out, "| user_id | user-1 |") || !strings.Contains(out, "| iterations | 3 |") {
		t.Fatalf("expected metadata table with user_id and iterations, got:\n%s", out)
	}
	if !strings.Contains(out, "| source_count | 2 |") {
		t.Fatalf("expected metadata table source_count to reflect deduped sources, got:\n%s", out)
	}
	if !strings.Contains(out, "_No summary available._") {
		t.Fatalf("expected empty executive summary placeholder, got:\n%s", out)
	}
}

func TestFormatPlaceholdersWhenNoSourcesOrFindings(t *testing.T) {
	out := report.Format(model.ResearchState{}, "empty topic", time.Now())

	if !strings.Contains(out, "_No sources gathered._") {
		t.Fatalf("expected no-sources placeholder, got:\n%s", out)
	}
	if !strings.Contains(out, "_No findings gathered._") {
		t.Fatalf("expected no-findings placeholder, got:\n%s", out)
	}
	if !strings.Contains(out, "## Metadata") {
		t.Fatalf("expected metadata section, got:\n%s", out)
	}
}
