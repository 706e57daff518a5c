// Package report renders a completed research run into a deterministic
// Markdown document: fixed section order, de-duplicated sources, and an
// explicit placeholder when no sources were gathered.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/corwenfield/deepresearch/internal/model"
)

// Format renders state into the final Markdown report. generatedAt is
// accepted explicitly so rendering stays deterministic for tests.
func Format(state model.ResearchState, topic string, generatedAt time.Time) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", topic)
	fmt.Fprintf(&sb, "_Generated %s_\n\n", generatedAt.UTC().Format(time.RFC3339))

	sb.WriteString("## Executive Summary\n\n")
	if state.CritiqueNotes != "" {
		sb.WriteString(state.CritiqueNotes)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("_No summary available._\n\n")
	}

	sb.WriteString("## Detailed Findings\n\n")
	if len(state.Findings) == 0 {
		sb.WriteString("_No findings gathered._\n\n")
	} else {
		for _, f := range state.Findings {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Sources\n\n")
	sources := dedupeSources(state.Sources)
	if len(sources) == 0 {
		sb.WriteString("_No sources gathered._\n\n")
	} else {
		for _, s := range sources {
			title := s.Title
			if title == "" {
				title = s.URL
			}
			if s.Snippet != "" {
				fmt.Fprintf(&sb, "- [%s](%s) — %s\n", title, s.URL, s.Snippet)
			} else {
				fmt.Fprintf(&sb, "- [%s](%s)\n", title, s.URL)
			}
		}
		sb.WriteString("\n")
	}

	if len(state.GapReports) > 0 {
		sb.WriteString("## Capability Gaps\n\n")
		for _, g := range state.GapReports {
			fmt.Fprintf(&sb, "- **%s**: %s\n", g.MissingCapability, g.Reason)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Metadata\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("| --- | --- |\n")
	fmt.Fprintf(&sb, "| topic | %s |\n", topic)
	fmt.Fprintf(&sb, "| user_id | %s |\n", state.UserID)
	fmt.Fprintf(&sb, "| iterations | %d |\n", state.Iteration)
	fmt.Fprintf(&sb, "| quality_score | %s |\n", formatScore(state.CritiqueScore))
	fmt.Fprintf(&sb, "| source_count | %d |\n", len(sources))

	return sb.String()
}

func formatScore(score float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", score), "0"), ".")
}

// dedupeSources removes duplicate URLs, keeping the first occurrence's
// title and order.
func dedupeSources(sources []model.SourceReference) []model.SourceReference {
	seen := make(map[string]bool, len(sources))
	out := make([]model.SourceReference, 0, len(sources))
	for _, s := range sources {
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		out = append(out, s)
	}
	return out
}
