// Package pipeline runs the per-message processing unit: record the turn,
// enrich with retrieved knowledge, generate suggestions, publish the result.
package pipeline

import (
	"github.com/kkhouse/wecopilot/pkg/knowledge"
)

// Degradation reason codes attached to results produced with partial
// enrichment.
const (
	DegradedKnowledge  = "knowledge_error"
	DegradedGeneration = "generation_error"
)

// SuggestionResult is the blob placed in the mailbox and pushed to the agent
// frontend.
type SuggestionResult struct {
	SessionID        string              `json:"session_id"`
	CustomerID       string              `json:"customer_id"`
	AgentID          string              `json:"agent_id"`
	CustomerMessage  string              `json:"customer_message"`
	Suggestions      []string            `json:"suggestions"`
	KnowledgeResults []knowledge.Passage `json:"knowledge_results"`
	ContextLength    int                 `json:"context_length"`
	Timestamp        int64               `json:"timestamp"`
	Degraded         []string            `json:"degraded,omitempty"`
	Skipped          bool                `json:"skipped,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	Error            string              `json:"error,omitempty"`
}
