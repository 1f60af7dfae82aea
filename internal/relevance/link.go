package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"deepscout/internal/llm"
	"deepscout/internal/logging"
	"deepscout/internal/search"
)

const linkSystemPrompt = `You evaluate the relevance of search results.
Analyze the title, description and URL of a search result and judge whether
it is relevant to the research task.
Rate relevance on a scale from 0 to 1, where:
- 0 means completely irrelevant
- 0.5 means partially relevant
- 1 means highly relevant
Respond with only the decimal relevance score.`

const linkBatchSystemPrompt = `You evaluate the relevance of search results
against a research task.
Assign each result a relevance score on a scale from 0 to 1, where:
- 0 means completely irrelevant
- 0.5 means partially relevant
- 1 means highly relevant
Respond with only a JSON array of scores, one per result, in order.
Example: [0.8, 0.3, 0.9]`

// LinkEvaluator scores search results against a task using only the result
// metadata, before any page is fetched.
type LinkEvaluator struct {
	client llm.Client
	log    logging.Sink
}

// NewLinkEvaluator creates a link-level evaluator.
func NewLinkEvaluator(client llm.Client, log logging.Sink) *LinkEvaluator {
	return &LinkEvaluator{client: client, log: log}
}

// Score rates a single search result in [0,1]. A response that is not a
// number falls back to the neutral score rather than failing the cycle.
func (e *LinkEvaluator) Score(ctx context.Context, task string, result search.Result) float64 {
	prompt := fmt.Sprintf(`Research task: %s

Search result to evaluate:
Title: %s
Description: %s
URL: %s

Relevance score (0 to 1):`, task, result.Title, result.Snippet, result.URL)

	raw, err := e.client.CompleteWithSystem(ctx, linkSystemPrompt, prompt)
	if err != nil {
		e.log.Warnw("link scoring failed, using neutral score", "url", result.URL, "error", err)
		return NeutralScore
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		e.log.Warnw("unparseable link score, using neutral score", "url", result.URL, "raw", raw)
		return NeutralScore
	}
	return clamp(score)
}

// ScoreBatch rates all results in one backend call. When the response cannot
// be decoded into exactly len(results) scores, it falls back to per-item
// scoring.
func (e *LinkEvaluator) ScoreBatch(ctx context.Context, task string, results []search.Result) []float64 {
	if len(results) == 0 {
		return nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "Result %d:\nTitle: %s\nDescription: %s\nURL: %s\n\n", i+1, r.Title, r.Snippet, r.URL)
	}

	prompt := fmt.Sprintf(`Research task: %s

Search results to evaluate:
%s
Return a JSON array of relevance scores (0 to 1), one per result, in order:`, task, sb.String())

	raw, err := e.client.CompleteJSON(ctx, linkBatchSystemPrompt, prompt)
	if err != nil {
		e.log.Warnw("batch link scoring failed, falling back to per-item scoring", "error", err)
		return e.scoreEach(ctx, task, results)
	}

	scores, err := decodeScores(raw, len(results))
	if err != nil {
		e.log.Warnw("unparseable batch scores, falling back to per-item scoring", "error", err)
		return e.scoreEach(ctx, task, results)
	}
	return scores
}

func (e *LinkEvaluator) scoreEach(ctx context.Context, task string, results []search.Result) []float64 {
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = e.Score(ctx, task, r)
	}
	return scores
}

// decodeScores accepts either a bare JSON array or an object wrapping one
// (models in JSON mode often emit {"scores": [...]}), requiring exactly n
// entries. Individual non-numeric entries degrade to the neutral score.
func decodeScores(raw string, n int) ([]float64, error) {
	raw = strings.TrimSpace(raw)

	var values []json.Number
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		var wrapper map[string]json.RawMessage
		if werr := json.Unmarshal([]byte(raw), &wrapper); werr != nil {
			return nil, &ParseError{Raw: raw, Err: err}
		}
		found := false
		for _, v := range wrapper {
			var candidate []json.Number
			if json.Unmarshal(v, &candidate) == nil && len(candidate) == n {
				values = candidate
				found = true
				break
			}
		}
		if !found {
			return nil, &ParseError{Raw: raw, Err: fmt.Errorf("no %d-element score array found", n)}
		}
	}

	if len(values) != n {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("got %d scores, want %d", len(values), n)}
	}

	scores := make([]float64, n)
	for i, v := range values {
		f, err := v.Float64()
		if err != nil {
			scores[i] = NeutralScore
			continue
		}
		scores[i] = clamp(f)
	}
	return scores, nil
}
