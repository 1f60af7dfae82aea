package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"deepscout/internal/cache"
	"deepscout/internal/config"
	"deepscout/internal/logging"
	"deepscout/internal/ragstore"
	"deepscout/internal/relevance"
	"deepscout/internal/search"
)

type fakeQueryGen struct {
	queries []string
	calls   int
	seen    [][]string
}

func (g *fakeQueryGen) Generate(_ context.Context, _ string, previous []string) (string, error) {
	g.seen = append(g.seen, append([]string(nil), previous...))
	q := g.queries[g.calls%len(g.queries)]
	g.calls++
	return q, nil
}

type fakeSearcher struct {
	byQuery map[string][]search.Result
}

func (s *fakeSearcher) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	return s.byQuery[query], nil
}

func (s *fakeSearcher) Name() string { return "fake" }

type fakeLinkScorer struct {
	byURL map[string]float64
}

func (l *fakeLinkScorer) ScoreBatch(_ context.Context, _ string, results []search.Result) []float64 {
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = l.byURL[r.URL]
	}
	return scores
}

type fakeContentEval struct {
	byText map[string]relevance.Simple
	calls  []string
}

func (e *fakeContentEval) Evaluate(_ context.Context, _ string, content string) (relevance.Evaluation, error) {
	e.calls = append(e.calls, content)
	if eval, ok := e.byText[content]; ok {
		return eval, nil
	}
	return relevance.Simple{}, nil
}

type passthroughCleaner struct{}

func (passthroughCleaner) Clean(_ context.Context, content, _ string) (string, error) {
	return content, nil
}

type mapFetcher struct {
	pages map[string]string
	calls []string
}

func (f *mapFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	page, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("no such page: %s", url)
	}
	return page, nil
}

func (f *mapFetcher) Name() string { return "map" }

type fakeIndexer struct {
	created [][]ragstore.Document
	updated map[string][]ragstore.Document
	fail    bool
}

func (x *fakeIndexer) Create(_ context.Context, _ string, docs []ragstore.Document, _ map[string]string) (string, error) {
	if x.fail {
		return "", fmt.Errorf("disk full")
	}
	x.created = append(x.created, docs)
	return "abcd1234", nil
}

func (x *fakeIndexer) Update(_ context.Context, id, _ string, docs []ragstore.Document) (int, error) {
	if x.fail {
		return 0, fmt.Errorf("disk full")
	}
	if x.updated == nil {
		x.updated = map[string][]ragstore.Document{}
	}
	x.updated[id] = append(x.updated[id], docs...)
	return len(docs), nil
}

func newScenario(t *testing.T) (*Orchestrator, *mapFetcher, *fakeIndexer, *fakeContentEval) {
	t.Helper()

	fetcher := &mapFetcher{pages: map[string]string{
		"https://gov.example/incentives": "state incentive programs for renewable energy in 2024",
		"https://blog.example/opinion":   "an opinion piece about energy",
		"https://energy.example/report":  "detailed 2024 renewable energy incentive report",
	}}

	searcher := &fakeSearcher{byQuery: map[string][]search.Result{
		"renewable energy incentives 2024": {
			{Title: "Gov incentives", URL: "https://gov.example/incentives"},
			{Title: "Opinion", URL: "https://blog.example/opinion"},
			{Title: "Report", URL: "https://energy.example/report"},
		},
	}}

	links := &fakeLinkScorer{byURL: map[string]float64{
		"https://gov.example/incentives": 0.9,
		"https://blog.example/opinion":   0.4,
		"https://energy.example/report":  0.8,
	}}

	contents := &fakeContentEval{byText: map[string]relevance.Simple{
		"state incentive programs for renewable energy in 2024": {IsRelevant: true, RelevanceScore: 0.6},
		"detailed 2024 renewable energy incentive report":       {IsRelevant: true, RelevanceScore: 0.85, KeyPoints: []string{"tax credits"}},
	}}

	docCache, err := cache.New(t.TempDir(), &mapFetcher{}, logging.Nop())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	indexer := &fakeIndexer{}
	o := New(
		&fakeQueryGen{queries: []string{"renewable energy incentives 2024", "green power subsidies"}},
		searcher, links, contents, passthroughCleaner{},
		docCache, fetcher, indexer, nil,
		config.ResearchConfig{MaxResults: 5, MaxCycles: 3, LinkThreshold: 0.7, ContentThreshold: 0.7, ResultsPerQuery: 10},
		logging.Nop(),
	)
	return o, fetcher, indexer, contents
}

func TestResearch_GreedySingleCycle(t *testing.T) {
	o, fetcher, indexer, _ := newScenario(t)

	outcome, err := o.Research(context.Background(), "renewable energy incentives 2024", Options{
		MaxCycles:        2,
		MaxResults:       1,
		LinkThreshold:    0.7,
		ContentThreshold: 0.7,
		Persist:          true,
	})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}

	// Only the two candidates above the link threshold are fetched.
	if len(fetcher.calls) != 2 {
		t.Fatalf("fetched %v, want the 2 link-relevant candidates", fetcher.calls)
	}
	for _, url := range fetcher.calls {
		if url == "https://blog.example/opinion" {
			t.Fatal("candidate below link threshold was fetched")
		}
	}

	// One document accepted (0.6 rejected, 0.85 accepted), run stops after
	// the yielding first cycle.
	if len(outcome.Documents) != 1 {
		t.Fatalf("accepted %d documents, want 1", len(outcome.Documents))
	}
	if outcome.Documents[0].URL != "https://energy.example/report" {
		t.Fatalf("accepted %q", outcome.Documents[0].URL)
	}
	if outcome.Documents[0].ContentScore != 0.85 {
		t.Fatalf("content score = %v", outcome.Documents[0].ContentScore)
	}
	if outcome.Cycles != 1 {
		t.Fatalf("cycles = %d, want greedy stop after 1", outcome.Cycles)
	}

	// Persistence attached the new index id.
	if outcome.IndexID != "abcd1234" {
		t.Fatalf("index id = %q", outcome.IndexID)
	}
	if len(indexer.created) != 1 || len(indexer.created[0]) != 1 {
		t.Fatalf("indexed documents = %+v", indexer.created)
	}
}

func TestResearch_VisitedURLsNotReevaluated(t *testing.T) {
	o, fetcher, _, _ := newScenario(t)

	// Make content irrelevant so every cycle re-searches with the same
	// results; visited URLs must not be fetched twice.
	o.contents = &fakeContentEval{}
	searcher := &fakeSearcher{byQuery: map[string][]search.Result{}}
	for _, q := range []string{"renewable energy incentives 2024", "green power subsidies"} {
		searcher.byQuery[q] = []search.Result{
			{Title: "Gov incentives", URL: "https://gov.example/incentives"},
		}
	}
	o.searcher = searcher

	outcome, err := o.Research(context.Background(), "renewable energy incentives 2024", Options{
		MaxCycles: 3, MaxResults: 2, LinkThreshold: 0.7, ContentThreshold: 0.7,
	})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if len(outcome.Documents) != 0 {
		t.Fatalf("accepted %d documents, want 0", len(outcome.Documents))
	}
	if outcome.Cycles != 3 {
		t.Fatalf("cycles = %d, want all 3 when nothing yields", outcome.Cycles)
	}
	if len(fetcher.calls) != 1 {
		t.Fatalf("fetch calls = %v, want the URL fetched once despite 3 cycles", fetcher.calls)
	}
}

func TestResearch_PreviousQueriesPassedAsNegatives(t *testing.T) {
	o, _, _, _ := newScenario(t)
	gen := &fakeQueryGen{queries: []string{"q1", "q2", "q3"}}
	o.queries = gen
	o.searcher = &fakeSearcher{byQuery: map[string][]search.Result{}}

	if _, err := o.Research(context.Background(), "task", Options{MaxCycles: 3}); err != nil {
		t.Fatalf("Research: %v", err)
	}

	if len(gen.seen) != 3 {
		t.Fatalf("generator called %d times, want 3", len(gen.seen))
	}
	if len(gen.seen[0]) != 0 {
		t.Fatalf("first cycle saw previous queries %v", gen.seen[0])
	}
	if len(gen.seen[2]) != 2 || gen.seen[2][0] != "q1" || gen.seen[2][1] != "q2" {
		t.Fatalf("third cycle negatives = %v", gen.seen[2])
	}
}

func TestResearch_IndexFailureKeepsDocuments(t *testing.T) {
	o, _, indexer, _ := newScenario(t)
	indexer.fail = true

	outcome, err := o.Research(context.Background(), "renewable energy incentives 2024", Options{
		MaxCycles: 2, MaxResults: 1, LinkThreshold: 0.7, ContentThreshold: 0.7, Persist: true,
	})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if len(outcome.Documents) != 1 {
		t.Fatalf("documents lost on index failure: %d", len(outcome.Documents))
	}
	if outcome.IndexID != "" {
		t.Fatalf("index id = %q, want empty on failure", outcome.IndexID)
	}
}

func TestResearch_SortedByContentScore(t *testing.T) {
	o, _, _, _ := newScenario(t)

	// Accept both fetched candidates by lowering the content threshold.
	outcome, err := o.Research(context.Background(), "renewable energy incentives 2024", Options{
		MaxCycles: 2, MaxResults: 5, LinkThreshold: 0.7, ContentThreshold: 0.5,
	})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if len(outcome.Documents) != 2 {
		t.Fatalf("accepted %d documents, want 2", len(outcome.Documents))
	}
	if outcome.Documents[0].ContentScore < outcome.Documents[1].ContentScore {
		t.Fatalf("documents not sorted by descending content score: %v, %v",
			outcome.Documents[0].ContentScore, outcome.Documents[1].ContentScore)
	}
}

func TestResearch_UpdateExistingIndex(t *testing.T) {
	o, _, indexer, _ := newScenario(t)

	outcome, err := o.Research(context.Background(), "renewable energy incentives 2024", Options{
		MaxCycles: 2, MaxResults: 1, LinkThreshold: 0.7, ContentThreshold: 0.7,
		Persist: true, IndexID: "shared01",
	})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if outcome.IndexID != "shared01" {
		t.Fatalf("index id = %q, want shared01", outcome.IndexID)
	}
	if len(indexer.updated["shared01"]) != 1 {
		t.Fatalf("updated docs = %+v", indexer.updated)
	}
	if len(indexer.created) != 0 {
		t.Fatal("Create called when IndexID was provided")
	}
}

func TestResearch_EmptyTask(t *testing.T) {
	o, _, _, _ := newScenario(t)
	if _, err := o.Research(context.Background(), "  ", Options{}); err == nil {
		t.Fatal("expected error for empty task")
	}
}

func TestSummarize_Text(t *testing.T) {
	o, _, _, _ := newScenario(t)
	o.client = &summaryClient{response: "a concise summary"}

	long := strings.Repeat("Renewable incentives grew in 2024. ", 10)
	got, err := o.Summarize(context.Background(), long, false)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "a concise summary" {
		t.Fatalf("summary = %q", got)
	}
}

func TestSummarize_TooShort(t *testing.T) {
	o, _, _, _ := newScenario(t)
	if _, err := o.Summarize(context.Background(), "tiny", false); err == nil {
		t.Fatal("expected error for too-short content")
	}
}

type summaryClient struct{ response string }

func (c *summaryClient) Complete(_ context.Context, _ string) (string, error) {
	return c.response, nil
}

func (c *summaryClient) CompleteWithSystem(_ context.Context, _, _ string) (string, error) {
	return c.response, nil
}

func (c *summaryClient) CompleteJSON(_ context.Context, _, _ string) (string, error) {
	return c.response, nil
}
