// Package suggest turns a customer question plus conversation context into a
// short list of reply suggestions via an LLM, with a primary/fallback provider
// pair and a line-marker output contract.
package suggest

import "context"

// Provider is a single LLM backend able to complete one prompt.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}
