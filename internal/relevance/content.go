package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deepscout/internal/llm"
	"deepscout/internal/logging"
)

const (
	// maxContentChars bounds the text sent in one evaluation call.
	maxContentChars = 8000

	// defaultSectionSize is the per-section budget for long documents.
	defaultSectionSize = 2000
)

const contentSystemPrompt = `You are specialized in judging the relevance of
web content against a specific research task. Determine whether the provided
text is useful for building a knowledge base for that task.

Respond with a JSON object with these fields:
1. is_relevant: boolean
2. relevance_score: float (0.0-1.0, where 0 means completely irrelevant and 1 means extremely relevant)
3. reason: string (concise explanation of your judgment)
4. key_points: array of strings (key points in the content relevant to the task, at most 5)`

// Evaluation is the outcome of a content-level relevance check. It is either
// a Simple evaluation of the whole text or a Sectioned rollup of per-section
// evaluations for long documents.
type Evaluation interface {
	Relevant() bool
	Score() float64
	Summary() string
	sealed()
}

// Simple is a single-call evaluation of the whole text.
type Simple struct {
	IsRelevant     bool     `json:"is_relevant"`
	RelevanceScore float64  `json:"relevance_score"`
	Reason         string   `json:"reason"`
	KeyPoints      []string `json:"key_points"`
}

func (s Simple) Relevant() bool  { return s.IsRelevant }
func (s Simple) Score() float64  { return s.RelevanceScore }
func (s Simple) Summary() string { return s.Reason }
func (Simple) sealed()           {}

// Section is one independently evaluated slice of a long document.
type Section struct {
	Index      int
	Text       string
	Evaluation Simple
}

// Sectioned aggregates per-section evaluations. The document is relevant if
// any section is, and the rollup score is the maximum section score.
type Sectioned struct {
	Sections    []Section
	RollupScore float64
}

func (s Sectioned) Relevant() bool {
	for _, sec := range s.Sections {
		if sec.Evaluation.IsRelevant {
			return true
		}
	}
	return false
}

func (s Sectioned) Score() float64 { return s.RollupScore }

func (s Sectioned) Summary() string {
	relevant := len(s.RelevantSections())
	return fmt.Sprintf("%d/%d sections relevant", relevant, len(s.Sections))
}

func (Sectioned) sealed() {}

// RelevantSections returns the sections that passed individually.
func (s Sectioned) RelevantSections() []Section {
	var out []Section
	for _, sec := range s.Sections {
		if sec.Evaluation.IsRelevant {
			out = append(out, sec)
		}
	}
	return out
}

// KeyPoints returns the union of key points across relevant sections.
func (s Sectioned) KeyPoints() []string {
	var out []string
	seen := map[string]bool{}
	for _, sec := range s.RelevantSections() {
		for _, kp := range sec.Evaluation.KeyPoints {
			if !seen[kp] {
				seen[kp] = true
				out = append(out, kp)
			}
		}
	}
	return out
}

// ContentEvaluator judges full page text against a task.
type ContentEvaluator struct {
	client      llm.Client
	sectionSize int
	log         logging.Sink
}

// NewContentEvaluator creates a content-level evaluator.
func NewContentEvaluator(client llm.Client, log logging.Sink) *ContentEvaluator {
	return &ContentEvaluator{client: client, sectionSize: defaultSectionSize, log: log}
}

// Evaluate judges content against the task. Text within the section budget
// gets a single Simple evaluation; longer text is split into sections biased
// to break on paragraph or sentence boundaries and each section is evaluated
// independently.
func (e *ContentEvaluator) Evaluate(ctx context.Context, task, content string) (Evaluation, error) {
	if len(content) <= e.sectionSize {
		return e.evaluateOne(ctx, task, content)
	}

	sections := splitSections(content, e.sectionSize)
	e.log.Debugw("evaluating content in sections", "sections", len(sections))

	result := Sectioned{Sections: make([]Section, 0, len(sections))}
	for i, text := range sections {
		eval, err := e.evaluateOne(ctx, task, text)
		if err != nil {
			// A failed section counts as irrelevant; the rest still decide
			// whether the page survives.
			e.log.Warnw("section evaluation failed", "section", i+1, "total", len(sections), "error", err)
			eval = Simple{}
		}
		result.Sections = append(result.Sections, Section{Index: i, Text: text, Evaluation: eval})
		if eval.RelevanceScore > result.RollupScore {
			result.RollupScore = eval.RelevanceScore
		}
	}
	return result, nil
}

func (e *ContentEvaluator) evaluateOne(ctx context.Context, task, content string) (Simple, error) {
	if task == "" || content == "" {
		return Simple{Reason: "missing task or content"}, nil
	}

	preview := content
	if len(preview) > maxContentChars {
		preview = preview[:maxContentChars] + "\n...[truncated]..."
	}

	prompt := fmt.Sprintf("TASK: %s\n\nCONTENT:\n%s\n\nEvaluate the relevance of this content to the task.", task, preview)

	raw, err := e.client.CompleteJSON(ctx, contentSystemPrompt, prompt)
	if err != nil {
		return Simple{}, fmt.Errorf("content evaluation failed: %w", err)
	}

	var eval Simple
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &eval); err != nil {
		return Simple{}, &ParseError{Raw: raw, Err: err}
	}
	eval.RelevanceScore = clamp(eval.RelevanceScore)

	e.log.Debugw("content evaluated", "relevant", eval.IsRelevant, "score", eval.RelevanceScore)
	return eval, nil
}

// splitSections cuts content into pieces of at most size chars, preferring
// to break at the last paragraph or sentence boundary past the midpoint of
// each piece.
func splitSections(content string, size int) []string {
	var sections []string
	start := 0

	for start < len(content) {
		end := start + size
		if end < len(content) {
			if p := strings.LastIndex(content[start:end], "\n\n"); p > size/2 {
				end = start + p + 2
			} else if s := strings.LastIndex(content[start:end], ". "); s > size/2 {
				end = start + s + 2
			}
		} else {
			end = len(content)
		}
		if section := strings.TrimSpace(content[start:end]); section != "" {
			sections = append(sections, section)
		}
		start = end
	}

	return sections
}
