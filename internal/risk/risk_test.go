package risk_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/corwenfield/deepresearch/internal/model"
	"github.com/corwenfield/deepresearch/internal/risk"
)

var _ = Describe("Categorize", func() {
	DescribeTable("classifies known tools",
		func(tool string, expected model.RiskLevel) {
			Expect(risk.Categorize(tool, nil)).To(Equal(expected))
		},
		Entry("web search is reversible", "web_search", model.RiskReversible),
		Entry("memory search is reversible", "search_memory", model.RiskReversible),
		Entry("memory store is reversible", "store_memory", model.RiskReversible),
		Entry("draft email is delayed", "draft_email", model.RiskReversibleWithDelay),
		Entry("send email is delayed", "send_email", model.RiskReversibleWithDelay),
		Entry("post publicly is irreversible", "post_publicly", model.RiskIrreversible),
		Entry("unknown tool fails closed", "summon_dragon", model.RiskIrreversible),
	)
})

var _ = Describe("RequiresApproval", func() {
	DescribeTable("decides approval by risk and confidence",
		func(level model.RiskLevel, confidence float64, expected bool) {
			Expect(risk.RequiresApproval(level, confidence)).To(Equal(expected))
		},
		Entry("reversible never needs approval", model.RiskReversible, 0.99, false),
		Entry("irreversible always needs approval", model.RiskIrreversible, 0.99, true),
		Entry("delayed with high confidence skips approval", model.RiskReversibleWithDelay, 0.9, false),
		Entry("delayed with low confidence needs approval", model.RiskReversibleWithDelay, 0.5, true),
		Entry("delayed just under threshold needs approval", model.RiskReversibleWithDelay, 0.8499, true),
	)
})
