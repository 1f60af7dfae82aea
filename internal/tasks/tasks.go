// Package tasks persists research task groups as a JSON data file and
// generates new task items from a prompt via the LLM.
package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deepscout/internal/logging"
)

// Item is one research point inside a group.
type Item struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	Notes       string `json:"notes"`
}

// Group is a list of research items that share one retrieval index.
type Group struct {
	Prompt             string `json:"prompt"`
	Items              []Item `json:"tasks"`
	ResearchInProgress bool   `json:"research_in_progress"`
	IndexID            string `json:"index_id,omitempty"`
}

// Prompt records the last prompt used for task generation.
type Prompt struct {
	Original string `json:"original"`
	Refined  string `json:"refined"`
}

// Data is the full persisted structure.
type Data struct {
	LastPrompt Prompt  `json:"last_prompt"`
	Groups     []Group `json:"tasks"`
}

const defaultGroupPrompt = "Unified task list"

// Store owns the task data file. All reads and writes go through the
// store's lock; the file on disk is the source of truth across restarts
// and external edits (see Watch).
type Store struct {
	path string
	log  logging.Sink

	mu   sync.RWMutex
	data Data

	// lastWrite marks our own saves so the watcher can skip them.
	lastWrite time.Time

	watcher *watcher
}

// NewStore loads the data file at path, creating a default structure when
// the file does not exist yet.
func NewStore(path string, log logging.Sink) (*Store, error) {
	s := &Store{path: path, log: log}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the location of the data file.
func (s *Store) Path() string { return s.path }

func defaultData() Data {
	return Data{
		Groups: []Group{{Prompt: defaultGroupPrompt, Items: []Item{}}},
	}
}

// reload replaces the in-memory state with the file contents.
func (s *Store) reload() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.data = defaultData()
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading task data: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing task data %s: %w", s.path, err)
	}
	if len(data.Groups) == 0 {
		data.Groups = defaultData().Groups
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// save writes the current state back to disk. Callers hold s.mu.
func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task data: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing task data: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing task data: %w", err)
	}
	s.lastWrite = time.Now()
	return nil
}

// Snapshot returns a deep copy of the current data.
func (s *Store) Snapshot() Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyData(s.data)
}

func copyData(d Data) Data {
	out := Data{LastPrompt: d.LastPrompt, Groups: make([]Group, len(d.Groups))}
	for i, g := range d.Groups {
		items := make([]Item, len(g.Items))
		copy(items, g.Items)
		g.Items = items
		out.Groups[i] = g
	}
	return out
}

// Group returns a copy of the group at index.
func (s *Store) Group(index int) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.data.Groups) {
		return Group{}, fmt.Errorf("group %d not found", index)
	}
	g := s.data.Groups[index]
	items := make([]Item, len(g.Items))
	copy(items, g.Items)
	g.Items = items
	return g, nil
}

// AddItem appends a task to a group and returns the new item's index.
func (s *Store) AddItem(group int, text string) (int, error) {
	if text == "" {
		return 0, fmt.Errorf("task text is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if group < 0 || group >= len(s.data.Groups) {
		return 0, fmt.Errorf("group %d not found", group)
	}
	s.data.Groups[group].Items = append(s.data.Groups[group].Items, Item{Description: text})
	if err := s.save(); err != nil {
		return 0, err
	}
	return len(s.data.Groups[group].Items) - 1, nil
}

// RemoveItem deletes a task; a group left empty is removed with it.
func (s *Store) RemoveItem(group, item int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group < 0 || group >= len(s.data.Groups) {
		return fmt.Errorf("group %d not found", group)
	}
	items := s.data.Groups[group].Items
	if item < 0 || item >= len(items) {
		return fmt.Errorf("task %d not found in group %d", item, group)
	}
	s.data.Groups[group].Items = append(items[:item], items[item+1:]...)
	if len(s.data.Groups[group].Items) == 0 {
		s.data.Groups = append(s.data.Groups[:group], s.data.Groups[group+1:]...)
	}
	return s.save()
}

// MarkCompleted flips the completed flag on one task.
func (s *Store) MarkCompleted(group, item int, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group < 0 || group >= len(s.data.Groups) {
		return fmt.Errorf("group %d not found", group)
	}
	if item < 0 || item >= len(s.data.Groups[group].Items) {
		return fmt.Errorf("task %d not found in group %d", item, group)
	}
	s.data.Groups[group].Items[item].Completed = completed
	return s.save()
}

// PendingItems lists the indices of tasks not yet completed.
func (s *Store) PendingItems(group int) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if group < 0 || group >= len(s.data.Groups) {
		return nil, fmt.Errorf("group %d not found", group)
	}
	var pending []int
	for i, item := range s.data.Groups[group].Items {
		if !item.Completed {
			pending = append(pending, i)
		}
	}
	return pending, nil
}

// SetInProgress toggles the research-in-progress flag on a group.
func (s *Store) SetInProgress(group int, inProgress bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group < 0 || group >= len(s.data.Groups) {
		return fmt.Errorf("group %d not found", group)
	}
	s.data.Groups[group].ResearchInProgress = inProgress
	return s.save()
}

// SetIndexID attaches a retrieval index id to a group.
func (s *Store) SetIndexID(group int, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group < 0 || group >= len(s.data.Groups) {
		return fmt.Errorf("group %d not found", group)
	}
	s.data.Groups[group].IndexID = id
	return s.save()
}

// AppendGenerated records the prompt and appends generated items to the
// first group, creating it when the list is empty.
func (s *Store) AppendGenerated(prompt string, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.LastPrompt = Prompt{Original: prompt, Refined: prompt}
	if len(s.data.Groups) == 0 {
		s.data.Groups = defaultData().Groups
	}
	s.data.Groups[0].Items = append(s.data.Groups[0].Items, items...)
	return s.save()
}

// Descriptions returns every task description across all groups, used as
// negative examples for generation.
func (s *Store) Descriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, g := range s.data.Groups {
		for _, item := range g.Items {
			out = append(out, item.Description)
		}
	}
	return out
}
