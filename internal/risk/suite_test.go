package risk_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRisk(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Risk Classifier Suite")
}
