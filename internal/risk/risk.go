// Package risk classifies planned tool invocations by how hard they are to
// undo, and decides whether a classification requires a human to sign off
// before the research graph is allowed to execute it.
package risk

import "github.com/corwenfield/deepresearch/internal/model"

// confidenceThreshold is the minimum model confidence below which even a
// reversible-with-delay action is routed through approval.
const confidenceThreshold = 0.85

// reversible lists tools whose effects are trivially undone (reads, searches).
var reversible = map[string]bool{
	"web_search":      true,
	"fetch_url":       true,
	"read_document":   true,
	"semantic_search": true,
	"list_sources":    true,
	"search_memory":   true,
	"store_memory":    true,
}

// reversibleWithDelay lists tools whose effects can be undone but not
// instantly (e.g. a scheduled send, a draft that sits for review).
var reversibleWithDelay = map[string]bool{
	"draft_email":        true,
	"schedule_followup":  true,
	"save_note":          true,
	"send_email":         true,
}

// irreversible lists tools whose effects cannot be undone once executed.
var irreversible = map[string]bool{
	"post_publicly":   true,
	"delete_document": true,
	"submit_form":     true,
}

// Categorize returns the risk level for a tool call. Unknown tools fail
// closed to IRREVERSIBLE so an unrecognized capability never runs
// unsupervised.
func Categorize(toolName string, _ map[string]any) model.RiskLevel {
	switch {
	case reversible[toolName]:
		return model.RiskReversible
	case reversibleWithDelay[toolName]:
		return model.RiskReversibleWithDelay
	case irreversible[toolName]:
		return model.RiskIrreversible
	default:
		return model.RiskIrreversible
	}
}

// RequiresApproval decides whether a planned action must be suspended for
// human review before execution. IRREVERSIBLE actions always require
// approval. REVERSIBLE_WITH_DELAY actions require it only when confidence is
// below threshold. Plain REVERSIBLE actions never require it.
func RequiresApproval(riskLevel model.RiskLevel, confidence float64) bool {
	switch riskLevel {
	case model.RiskIrreversible:
		return true
	case model.RiskReversibleWithDelay:
		return confidence < confidenceThreshold
	case model.RiskReversible:
		return false
	default:
		return true
	}
}
