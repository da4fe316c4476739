// Package budget estimates the token size of answer prompts. Chat backends
// use different tokenizers, so a conservative character heuristic is used:
// 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	charsPerToken = 4

	// perMessageOverhead approximates the role/formatting tokens most chat
	// APIs add around each message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default prompt budget. Eight chunks of
	// 800 words comfortably fit; larger top_k values will exceed it.
	DefaultMaxContextTokens = 12000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count of msgs.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Usage reports a prompt's estimated size against a limit.
type Usage struct {
	Estimated int
	Limit     int
}

// Over reports whether the estimate exceeds the limit. A non-positive
// limit disables the check.
func (u Usage) Over() bool {
	return u.Limit > 0 && u.Estimated > u.Limit
}

// Check estimates msgs against maxTokens. Prompts are never trimmed here:
// dropping a context passage would renumber the citations after it.
func Check(msgs []*schema.Message, maxTokens int) Usage {
	return Usage{Estimated: EstimateMessages(msgs), Limit: maxTokens}
}
