// Package orchestrator drives the multi-cycle research loop: generate a
// query, search, gate candidates at link level, fetch through the content
// cache, clean, gate at content level, and accumulate accepted evidence.
// Accepted documents can be persisted into a retrieval index at the end of a
// run.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"deepscout/internal/cache"
	"deepscout/internal/config"
	"deepscout/internal/fetch"
	"deepscout/internal/llm"
	"deepscout/internal/logging"
	"deepscout/internal/ragstore"
	"deepscout/internal/relevance"
	"deepscout/internal/search"
)

// QueryGenerator produces a fresh search query, avoiding previous ones.
type QueryGenerator interface {
	Generate(ctx context.Context, task string, previous []string) (string, error)
}

// LinkScorer rates search results against the task without fetching them.
type LinkScorer interface {
	ScoreBatch(ctx context.Context, task string, results []search.Result) []float64
}

// ContentEvaluator judges fetched page text against the task.
type ContentEvaluator interface {
	Evaluate(ctx context.Context, task, content string) (relevance.Evaluation, error)
}

// ContentCleaner turns raw page text into clean prose.
type ContentCleaner interface {
	Clean(ctx context.Context, content, task string) (string, error)
}

// Indexer is the slice of the retrieval store the orchestrator needs.
type Indexer interface {
	Create(ctx context.Context, task string, docs []ragstore.Document, extra map[string]string) (string, error)
	Update(ctx context.Context, id, task string, docs []ragstore.Document) (int, error)
}

// Document is one piece of accepted evidence.
type Document struct {
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Text         string   `json:"text"`
	LinkScore    float64  `json:"link_score"`
	ContentScore float64  `json:"content_score"`
	KeyPoints    []string `json:"key_points,omitempty"`
	CacheFile    string   `json:"cache_file"`
}

// Options bound one research run.
type Options struct {
	MaxResults       int
	MaxCycles        int
	LinkThreshold    float64
	ContentThreshold float64
	ResultsPerQuery  int

	// Persist inserts accepted documents into the retrieval store when the
	// run completes. With IndexID set the documents accumulate into that
	// index; otherwise a new index is created.
	Persist bool
	IndexID string
}

// Outcome is the result of one research run.
type Outcome struct {
	Task      string     `json:"task"`
	Queries   []string   `json:"queries"`
	Documents []Document `json:"documents"`
	Cycles    int        `json:"cycles"`

	// IndexID is set when persistence was requested and succeeded.
	IndexID string `json:"index_id,omitempty"`
}

// Orchestrator composes the pipeline stages into the research loop.
type Orchestrator struct {
	queries   QueryGenerator
	searcher  search.Provider
	links     LinkScorer
	contents  ContentEvaluator
	cleaner   ContentCleaner
	cache     *cache.Cache
	fetcher   fetch.Fetcher
	indexes   Indexer
	client    llm.Client
	defaults  config.ResearchConfig
	log       logging.Sink
}

// New wires an orchestrator from its stages.
func New(
	queries QueryGenerator,
	searcher search.Provider,
	links LinkScorer,
	contents ContentEvaluator,
	cleaner ContentCleaner,
	contentCache *cache.Cache,
	fetcher fetch.Fetcher,
	indexes Indexer,
	client llm.Client,
	defaults config.ResearchConfig,
	log logging.Sink,
) *Orchestrator {
	return &Orchestrator{
		queries:  queries,
		searcher: searcher,
		links:    links,
		contents: contents,
		cleaner:  cleaner,
		cache:    contentCache,
		fetcher:  fetcher,
		indexes:  indexes,
		client:   client,
		defaults: defaults,
		log:      log,
	}
}

func (o *Orchestrator) options(opts Options) Options {
	if opts.MaxResults <= 0 {
		opts.MaxResults = o.defaults.MaxResults
	}
	if opts.MaxCycles <= 0 {
		opts.MaxCycles = o.defaults.MaxCycles
	}
	if opts.LinkThreshold <= 0 {
		opts.LinkThreshold = o.defaults.LinkThreshold
	}
	if opts.ContentThreshold <= 0 {
		opts.ContentThreshold = o.defaults.ContentThreshold
	}
	if opts.ResultsPerQuery <= 0 {
		opts.ResultsPerQuery = o.defaults.ResultsPerQuery
	}
	return opts
}

// Research runs the full loop for a task. The loop is greedy: it stops after
// the first cycle that accepts at least one document, or after MaxCycles
// cycles. Stage failures skip the affected page or cycle and the loop keeps
// going; a partial outcome is always returned.
func (o *Orchestrator) Research(ctx context.Context, task string, opts Options) (*Outcome, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("task is required")
	}
	opts = o.options(opts)

	o.log.Infow("research started", "task", task,
		"max_cycles", opts.MaxCycles, "max_results", opts.MaxResults)

	outcome := &Outcome{Task: task}
	visited := map[string]bool{}
	var accepted []Document

	for cycle := 1; cycle <= opts.MaxCycles; cycle++ {
		outcome.Cycles = cycle
		o.log.Infow("search cycle", "cycle", cycle, "of", opts.MaxCycles)

		query, err := o.queries.Generate(ctx, task, outcome.Queries)
		if err != nil {
			o.log.Errorw("query generation failed, ending run", "cycle", cycle, "error", err)
			break
		}
		outcome.Queries = append(outcome.Queries, query)

		results, err := o.searcher.Search(ctx, query, opts.ResultsPerQuery)
		if err != nil {
			o.log.Warnw("search failed, skipping cycle", "query", query, "error", err)
			continue
		}
		if len(results) == 0 {
			o.log.Infow("no search results", "query", query)
			continue
		}

		// Only candidates not seen earlier in this run are scored.
		var fresh []search.Result
		for _, r := range results {
			if r.URL == "" || visited[r.URL] {
				continue
			}
			visited[r.URL] = true
			fresh = append(fresh, r)
		}
		if len(fresh) == 0 {
			continue
		}

		scores := o.links.ScoreBatch(ctx, task, fresh)
		for i, candidate := range fresh {
			if len(accepted) >= opts.MaxResults {
				o.log.Infow("max results reached", "accepted", len(accepted))
				break
			}
			if scores[i] < opts.LinkThreshold {
				continue
			}
			o.log.Infow("relevant candidate", "url", candidate.URL, "link_score", scores[i])

			doc, ok := o.examine(ctx, task, candidate, scores[i], opts.ContentThreshold)
			if ok {
				accepted = append(accepted, doc)
			}
		}

		// Greedy termination: any yielding cycle ends the run.
		if len(accepted) > 0 {
			break
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].ContentScore > accepted[j].ContentScore
	})
	outcome.Documents = accepted

	if opts.Persist && len(accepted) > 0 {
		outcome.IndexID = o.persist(ctx, task, accepted, opts.IndexID)
	}

	o.log.Infow("research completed", "task", task,
		"accepted", len(accepted), "cycles", outcome.Cycles, "index_id", outcome.IndexID)
	return outcome, nil
}

// examine runs the fetch → clean → evaluate stages for one candidate.
func (o *Orchestrator) examine(ctx context.Context, task string, candidate search.Result, linkScore, threshold float64) (Document, bool) {
	content, err := o.cache.GetContent(ctx, candidate.URL, o.fetcher)
	if err != nil {
		o.log.Warnw("fetch failed, skipping page", "url", candidate.URL, "error", err)
		return Document{}, false
	}
	if strings.TrimSpace(content) == "" {
		o.log.Debugw("empty content, skipping page", "url", candidate.URL)
		return Document{}, false
	}

	cleaned, err := o.cleaner.Clean(ctx, content, task)
	if err != nil || strings.TrimSpace(cleaned) == "" {
		o.log.Warnw("cleaning failed, skipping page", "url", candidate.URL, "error", err)
		return Document{}, false
	}

	eval, err := o.contents.Evaluate(ctx, task, cleaned)
	if err != nil {
		o.log.Warnw("content evaluation failed, skipping page", "url", candidate.URL, "error", err)
		return Document{}, false
	}
	if !eval.Relevant() || eval.Score() < threshold {
		o.log.Infow("content not relevant", "url", candidate.URL, "content_score", eval.Score())
		return Document{}, false
	}

	doc := Document{
		Title:        candidate.Title,
		URL:          candidate.URL,
		Text:         cleaned,
		LinkScore:    linkScore,
		ContentScore: eval.Score(),
		CacheFile:    filepath.Base(o.cache.Path(candidate.URL)),
	}
	switch ev := eval.(type) {
	case relevance.Simple:
		doc.KeyPoints = ev.KeyPoints
	case relevance.Sectioned:
		doc.KeyPoints = ev.KeyPoints()
	}

	o.log.Infow("document accepted", "url", candidate.URL, "content_score", doc.ContentScore)
	return doc, true
}

// persist writes accepted documents into the retrieval store. An index
// failure is logged and leaves the outcome without an index id; the
// documents themselves are still returned to the caller.
func (o *Orchestrator) persist(ctx context.Context, task string, docs []Document, indexID string) string {
	stored := make([]ragstore.Document, len(docs))
	for i, d := range docs {
		stored[i] = ragstore.Document{
			Text:         d.Text,
			URL:          d.URL,
			Title:        d.Title,
			LinkScore:    d.LinkScore,
			ContentScore: d.ContentScore,
			CacheFile:    d.CacheFile,
		}
	}

	if indexID != "" {
		if _, err := o.indexes.Update(ctx, indexID, task, stored); err != nil {
			o.log.Errorw("index update failed", "id", indexID, "error", err)
			return ""
		}
		return indexID
	}

	id, err := o.indexes.Create(ctx, task, stored, nil)
	if err != nil {
		o.log.Errorw("index creation failed", "error", err)
		return ""
	}
	return id
}

// Summarize produces a short summary of a page or of raw text. URLs go
// through the content cache and cleaner first.
func (o *Orchestrator) Summarize(ctx context.Context, urlOrText string, isURL bool) (string, error) {
	content := urlOrText
	if isURL {
		fetched, err := o.cache.GetContent(ctx, urlOrText, o.fetcher)
		if err != nil {
			return "", err
		}
		cleaned, err := o.cleaner.Clean(ctx, fetched, "")
		if err != nil {
			return "", err
		}
		content = cleaned
	}

	if len(strings.TrimSpace(content)) < 50 {
		return "", fmt.Errorf("content unavailable or too short to summarize")
	}

	const maxSummaryInput = 10000
	if len(content) > maxSummaryInput {
		o.log.Debugw("truncating content for summary", "from", len(content), "to", maxSummaryInput)
		content = content[:maxSummaryInput] + "\n...[truncated]..."
	}

	summary, err := o.client.CompleteWithSystem(ctx, summarySystemPrompt,
		"Here is the content to summarize:\n\n"+content)
	if err != nil {
		return "", fmt.Errorf("summary generation failed: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

const summarySystemPrompt = `You are specialized in summarizing web content.
Create a concise but informative summary of the provided text, highlighting:
1. the key points and main information
2. relevant data and statistics, when present
3. conclusions or recommendations

The summary must be clear, objective, and keep the essence of the original
content. Structure it in paragraphs or bullet points when that improves
readability.`
