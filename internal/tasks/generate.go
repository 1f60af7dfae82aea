package tasks

import (
	"context"
	"fmt"
	"strings"

	"deepscout/internal/llm"
	"deepscout/internal/logging"
)

const generateSystemPrompt = `Act as an expert researcher. Given a request, produce an ordered list of points to investigate.
The tasks must:
- Be original and not repeat existing or similar tasks
- Be ordered logically, from the general to the specific
- Be phrased as research points
- Be independent and self-contained
- Not be numbered

Do not include time estimates or priorities.

IMPORTANT: when existing tasks are provided, the new tasks must not be semantically similar to them; explore different or complementary aspects instead. Respond with one task per line and nothing else.`

// Generator builds new research task items from a prompt, avoiding
// duplicates of what the store already holds.
type Generator struct {
	client llm.Client
	log    logging.Sink
}

func NewGenerator(client llm.Client, log logging.Sink) *Generator {
	return &Generator{client: client, log: log}
}

// Generate asks the model for research points. existing task descriptions
// are passed as negative examples.
func (g *Generator) Generate(ctx context.Context, prompt string, existing []string) ([]Item, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	user := fmt.Sprintf("Create a list of points to research for: %s", prompt)
	if len(existing) > 0 {
		user += "\n\nExisting tasks (do not duplicate):\n" + strings.Join(existing, "\n")
	}

	response, err := g.client.CompleteWithSystem(ctx, generateSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("generating tasks: %w", err)
	}

	items := parseItems(response)
	if len(items) == 0 {
		return nil, fmt.Errorf("no tasks in model response")
	}
	g.log.Infow("tasks generated", "prompt", prompt, "count", len(items))
	return items, nil
}

// parseItems turns the line-per-task response into items, stripping
// bullet markers the model sometimes adds anyway.
func parseItems(response string) []Item {
	var items []Item
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		if line == "" {
			continue
		}
		items = append(items, Item{Description: line})
	}
	return items
}
