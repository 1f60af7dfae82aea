// Package llm abstracts the text-completion capability consumed by the
// research pipeline: query generation, relevance scoring, block cleaning and
// grounded answer synthesis all go through the Client interface.
package llm

import "context"

// Client is the minimal completion surface the pipeline depends on.
type Client interface {
	// Complete returns a completion for a bare prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem returns a completion with a system instruction.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteJSON returns a completion constrained to a JSON object/array
	// response. Backends that support a native JSON mode use it; others
	// append an instruction and return the raw text.
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
