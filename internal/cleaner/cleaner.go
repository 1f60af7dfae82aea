// Package cleaner turns raw fetched text into clean prose. Long text is
// split into overlapping paragraph-aware blocks, each block is cleaned by
// the completion backend through a bounded worker pool, and the results are
// stitched back together in original order.
package cleaner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"deepscout/internal/config"
	"deepscout/internal/fetch"
	"deepscout/internal/llm"
	"deepscout/internal/logging"

	"golang.org/x/sync/errgroup"
)

const (
	defaultBlockSize = 5000
	defaultWorkers   = 5

	// Reassembly joins consecutive blocks on their longest common overlap,
	// looking at most maxJoinOverlap chars back and requiring at least
	// minJoinOverlap matching chars to merge instead of concatenating.
	maxJoinOverlap = 100
	minJoinOverlap = 10
)

const cleanSystemPrompt = `You are specialized in cleaning text extracted from web pages.
Your job is to remove non-informative elements such as:
- navigation menus
- unrelated links
- interface elements
- repeated header/footer text
- advertisements
- cookie banners
- notifications

Keep ONLY the main informative content:
- body paragraphs
- headings relevant to the topic
- informative elements like lists and quotes

Return the cleaned text as plain text, preserving paragraph structure.
Do NOT add comments or explanations.`

var (
	blankLinesPattern = regexp.MustCompile(`\n\s*\n`)
	multiSpacePattern = regexp.MustCompile(` +`)
	sentencePattern   = regexp.MustCompile(`[^.!?]*[.!?]`)
)

// Cleaner cleans page text block by block.
type Cleaner struct {
	client    llm.Client
	blockSize int
	workers   int
	log       logging.Sink
}

// New creates a cleaner from configuration.
func New(client llm.Client, cfg config.CleanerConfig, log logging.Sink) *Cleaner {
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Cleaner{client: client, blockSize: blockSize, workers: workers, log: log}
}

// Clean strips markup if the input looks like HTML, splits the text into
// blocks, cleans them concurrently and reassembles the result. The task, when
// non-empty, focuses the cleaning on content relevant to it.
func (c *Cleaner) Clean(ctx context.Context, content, task string) (string, error) {
	lower := strings.ToLower(content)
	if strings.Contains(lower, "<html") || strings.Contains(lower, "<body") {
		c.log.Debugw("input looks like HTML, stripping markup first")
		if text, err := fetch.ExtractText(content); err == nil {
			content = text
		}
	}

	blocks := c.splitBlocks(content)
	if len(blocks) == 0 {
		return "", nil
	}
	c.log.Debugw("content split into blocks", "blocks", len(blocks))

	cleaned, err := c.cleanBlocks(ctx, blocks, task)
	if err != nil {
		return "", err
	}

	return reassemble(cleaned), nil
}

// splitBlocks packs paragraphs greedily into blocks of at most blockSize
// chars. Content within 1.5x the block size stays a single block. Each new
// block starts with the last two sentences of the previous one so the
// backend sees enough context at the seam.
func (c *Cleaner) splitBlocks(content string) []string {
	if content == "" {
		return nil
	}

	content = blankLinesPattern.ReplaceAllString(content, "\n\n")
	content = multiSpacePattern.ReplaceAllString(content, " ")

	if len(content) <= c.blockSize*3/2 {
		return []string{content}
	}

	paragraphs := strings.Split(content, "\n\n")

	var blocks []string
	current := ""
	for _, para := range paragraphs {
		if len(current)+len(para) > c.blockSize && current != "" {
			blocks = append(blocks, strings.TrimSpace(current))
			current = lastSentences(current, 2) + para
		} else if current != "" {
			current += "\n\n" + para
		} else {
			current = para
		}
	}
	if strings.TrimSpace(current) != "" {
		blocks = append(blocks, strings.TrimSpace(current))
	}

	return blocks
}

// lastSentences returns the trailing n sentences of text, or empty when the
// text has fewer than n.
func lastSentences(text string, n int) string {
	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) < n {
		return ""
	}
	return strings.Join(sentences[len(sentences)-n:], "")
}

// cleanBlocks cleans blocks through a bounded pool. Completion order is
// arbitrary; each result lands at its original index so output order always
// matches input order.
func (c *Cleaner) cleanBlocks(ctx context.Context, blocks []string, task string) ([]string, error) {
	cleaned := make([]string, len(blocks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, block := range blocks {
		g.Go(func() error {
			cleaned[i] = c.cleanBlock(ctx, block, task, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cleaned, nil
}

// cleanBlock cleans one block. A block that fails cleaning is returned
// unmodified so no content is lost.
func (c *Cleaner) cleanBlock(ctx context.Context, block, task string, index int) string {
	if strings.TrimSpace(block) == "" {
		return ""
	}

	system := cleanSystemPrompt
	prompt := "Here is the text to clean, keeping only the informative content"
	if task != "" {
		system += fmt.Sprintf(`

Additionally, I am researching: %q
Focus on content relevant to this research. Keep paragraphs and sections
related to this topic first, and drop sections that are clearly irrelevant.`, task)
		prompt += fmt.Sprintf(", with particular attention to information about: %s", task)
	}
	prompt += ":\n\n" + block

	cleaned, err := c.client.CompleteWithSystem(ctx, system, prompt)
	if err != nil {
		c.log.Warnw("block cleaning failed, keeping original text", "block", index, "error", err)
		return block
	}
	return strings.TrimSpace(cleaned)
}

// reassemble joins cleaned blocks, deduplicating seam text introduced by the
// sentence overlap. Consecutive blocks merge on the longest common substring
// between the tail of the assembled text and the head of the next block;
// short or absent overlaps fall back to a paragraph break.
func reassemble(blocks []string) string {
	if len(blocks) == 0 {
		return ""
	}

	assembled := blocks[0]
	for _, block := range blocks[1:] {
		if block == "" {
			continue
		}

		window := maxJoinOverlap
		if len(assembled) < window {
			window = len(assembled)
		}
		if len(block) < window {
			window = len(block)
		}

		overlap := 0
		if window > 0 {
			tail := assembled[len(assembled)-window:]
			head := block[:window]
			for j := 1; j <= window; j++ {
				if tail[window-j:] == head[:j] {
					overlap = j
				}
			}
		}

		if overlap >= minJoinOverlap {
			assembled = assembled[:len(assembled)-overlap] + block
		} else {
			assembled += "\n\n" + block
		}
	}

	return assembled
}
