package cleaner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"deepscout/internal/config"
	"deepscout/internal/logging"
)

// blockClient cleans blocks via a per-block function, optionally delaying
// some blocks to shuffle completion order.
type blockClient struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, prompt string) (string, error)
}

func (c *blockClient) invoke(prompt string) (string, error) {
	c.mu.Lock()
	call := c.calls
	c.calls++
	c.mu.Unlock()
	return c.fn(call, prompt)
}

func (c *blockClient) Complete(_ context.Context, prompt string) (string, error) {
	return c.invoke(prompt)
}

func (c *blockClient) CompleteWithSystem(_ context.Context, _, prompt string) (string, error) {
	return c.invoke(prompt)
}

func (c *blockClient) CompleteJSON(_ context.Context, _, prompt string) (string, error) {
	return c.invoke(prompt)
}

func newCleaner(client *blockClient, workers int) *Cleaner {
	return New(client, config.CleanerConfig{BlockSize: 100, Workers: workers}, logging.Nop())
}

func TestClean_ShortContentSingleBlock(t *testing.T) {
	client := &blockClient{fn: func(_ int, _ string) (string, error) {
		return "cleaned", nil
	}}
	c := newCleaner(client, 2)

	got, err := c.Clean(context.Background(), "short text under one and a half blocks", "")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if got != "cleaned" {
		t.Fatalf("got %q", got)
	}
	if client.calls != 1 {
		t.Fatalf("backend called %d times, want 1 (single block)", client.calls)
	}
}

func TestClean_OrderPreservedUnderConcurrency(t *testing.T) {
	// Paragraphs big enough to force multiple blocks (block size 100).
	paras := []string{
		"First paragraph. " + strings.Repeat("alpha ", 20),
		"Second paragraph. " + strings.Repeat("bravo ", 20),
		"Third paragraph. " + strings.Repeat("charlie ", 20),
	}
	content := strings.Join(paras, "\n\n")

	// Delay early blocks so later blocks finish first.
	client := &blockClient{fn: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, "alpha") {
			time.Sleep(50 * time.Millisecond)
			return "BLOCK-A", nil
		}
		if strings.Contains(prompt, "bravo") {
			time.Sleep(20 * time.Millisecond)
			return "BLOCK-B", nil
		}
		return "BLOCK-C", nil
	}}
	c := newCleaner(client, 3)

	got, err := c.Clean(context.Background(), content, "")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}

	ia := strings.Index(got, "BLOCK-A")
	ib := strings.Index(got, "BLOCK-B")
	ic := strings.Index(got, "BLOCK-C")
	if ia < 0 || ib < 0 || ic < 0 {
		t.Fatalf("missing blocks in output: %q", got)
	}
	if !(ia < ib && ib < ic) {
		t.Fatalf("blocks out of order: A=%d B=%d C=%d", ia, ib, ic)
	}
}

func TestClean_FailedBlockKeptVerbatim(t *testing.T) {
	paras := []string{
		"First paragraph. " + strings.Repeat("alpha ", 20),
		"Second paragraph. " + strings.Repeat("bravo ", 20),
	}
	content := strings.Join(paras, "\n\n")

	client := &blockClient{fn: func(_ int, prompt string) (string, error) {
		if strings.Contains(prompt, "bravo") {
			return "", errors.New("rate limited")
		}
		return "CLEANED", nil
	}}
	c := newCleaner(client, 2)

	got, err := c.Clean(context.Background(), content, "")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if !strings.Contains(got, "CLEANED") {
		t.Fatalf("missing cleaned block: %q", got)
	}
	// The failed block survives unmodified.
	if !strings.Contains(got, "bravo") {
		t.Fatalf("failed block was dropped: %q", got)
	}
}

func TestClean_TaskFocusInPrompt(t *testing.T) {
	var captured string
	client := &blockClient{fn: func(_ int, prompt string) (string, error) {
		captured = prompt
		return "ok", nil
	}}
	c := newCleaner(client, 1)

	if _, err := c.Clean(context.Background(), "some text", "solar panels"); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if !strings.Contains(captured, "solar panels") {
		t.Fatalf("task missing from prompt: %q", captured)
	}
}

func TestSplitBlocks_SentenceOverlap(t *testing.T) {
	c := newCleaner(&blockClient{}, 1)

	paraA := "One sentence here. Another sentence follows. The final sentence ends." + strings.Repeat(" pad", 15)
	paraB := "Next paragraph content." + strings.Repeat(" pad", 20)
	paraC := "Last paragraph content." + strings.Repeat(" pad", 20)
	blocks := c.splitBlocks(paraA + "\n\n" + paraB + "\n\n" + paraC)

	if len(blocks) < 2 {
		t.Fatalf("got %d blocks, want at least 2", len(blocks))
	}
	// Each block after the first starts with trailing sentences of its
	// predecessor.
	if !strings.Contains(blocks[1], "Another sentence follows.") {
		t.Errorf("second block missing overlap from first: %q", blocks[1])
	}
}

func TestReassemble_MergesOnOverlap(t *testing.T) {
	blocks := []string{
		"The quick brown fox jumps over the lazy dog near the river bank.",
		"near the river bank. Then it runs into the forest.",
	}
	got := reassemble(blocks)

	if strings.Count(got, "near the river bank.") != 1 {
		t.Fatalf("overlap not deduplicated: %q", got)
	}
	if !strings.HasSuffix(got, "Then it runs into the forest.") {
		t.Fatalf("tail missing: %q", got)
	}
}

func TestReassemble_MergesAtMinimumOverlap(t *testing.T) {
	// A shared seam of exactly ten characters still merges.
	seam := "0123456789"
	blocks := []string{"first block ends with " + seam, seam + " and the rest follows."}
	got := reassemble(blocks)

	if strings.Count(got, seam) != 1 {
		t.Fatalf("ten-char overlap not deduplicated: %q", got)
	}
	if strings.Contains(got, "\n\n") {
		t.Fatalf("fell back to paragraph break: %q", got)
	}
}

func TestReassemble_MergesFullWindowOverlap(t *testing.T) {
	// A second block that repeats a full hundred-character tail collapses
	// entirely into the first.
	tail := strings.Repeat("z", 100)
	blocks := []string{"leading text " + tail, tail}
	got := reassemble(blocks)
	want := "leading text " + tail
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReassemble_ParagraphBreakWithoutOverlap(t *testing.T) {
	blocks := []string{"Completely distinct first block.", "Unrelated second block."}
	got := reassemble(blocks)
	want := "Completely distinct first block.\n\nUnrelated second block."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestClean_EmptyContent(t *testing.T) {
	c := newCleaner(&blockClient{}, 1)
	got, err := c.Clean(context.Background(), "", "task")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
