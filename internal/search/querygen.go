package search

import (
	"context"
	"fmt"
	"strings"

	"deepscout/internal/llm"
	"deepscout/internal/logging"
)

const queryGenSystemPrompt = `You are an expert at online research.
Your job is to turn a specific research goal into an optimized web search query.

The query must:
- use precise keywords
- be short and targeted
- not contain filler text or full sentences
- be different from any queries already tried

Respond with ONLY the query, without quotes, markdown, or explanations.`

// QueryGenerator builds search queries for a research task, avoiding
// queries that were already tried in earlier cycles.
type QueryGenerator struct {
	client llm.Client
	log    logging.Sink
}

// NewQueryGenerator creates a query generator backed by a completion client.
func NewQueryGenerator(client llm.Client, log logging.Sink) *QueryGenerator {
	return &QueryGenerator{client: client, log: log}
}

// Generate produces a new query for the task. Previously used queries are
// passed as negative examples so each cycle explores a different angle.
func (g *QueryGenerator) Generate(ctx context.Context, task string, previous []string) (string, error) {
	tried := "None."
	if len(previous) > 0 {
		tried = "\n- " + strings.Join(previous, "\n- ")
	}

	prompt := fmt.Sprintf(`Research task: %s

Queries already tried (avoid these):
%s

Generate one new, original search query.`, task, tried)

	raw, err := g.client.CompleteWithSystem(ctx, queryGenSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("query generation failed: %w", err)
	}

	query := sanitizeQuery(raw)
	if query == "" {
		return "", fmt.Errorf("query generation returned empty output")
	}

	g.log.Debugw("generated search query", "task", task, "query", query, "previous", len(previous))
	return query, nil
}

// sanitizeQuery strips quoting and markdown fences that models sometimes
// wrap around the query despite instructions.
func sanitizeQuery(raw string) string {
	q := strings.TrimSpace(raw)
	q = strings.Trim(q, "`\"'")
	// Keep only the first line if the model returned several.
	if idx := strings.IndexByte(q, '\n'); idx >= 0 {
		q = q[:idx]
	}
	return strings.TrimSpace(q)
}
