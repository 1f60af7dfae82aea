// Package jobs tracks background research runs over task groups. One worker
// goroutine runs per job; it owns all status mutation and publishes immutable
// snapshots through a channel, so pollers never observe partial updates.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"deepscout/internal/logging"
	"deepscout/internal/orchestrator"
	"deepscout/internal/ragstore"
	"deepscout/internal/tasks"
)

var (
	// ErrAlreadyRunning is returned when a job for the same key is active.
	ErrAlreadyRunning = errors.New("research already in progress for this group")
	// ErrNoPendingTasks is returned when every task in the group is done.
	ErrNoPendingTasks = errors.New("no tasks left to research")
)

// Key identifies one job: a research context plus a group index within it.
type Key struct {
	ContextID string
	GroupID   int
}

func (k Key) String() string {
	if k.ContextID == "" {
		return fmt.Sprintf("group-%d", k.GroupID)
	}
	return fmt.Sprintf("%s-group-%d", k.ContextID, k.GroupID)
}

// Status is the poller-visible state of a job. Snapshots are immutable;
// internal bookkeeping such as start time and total task count is not
// part of the poll response.
type Status struct {
	InProgress     bool   `json:"in_progress"`
	Completed      bool   `json:"completed"`
	CompletedTasks []int  `json:"completed_tasks"`
	CurrentTask    *int   `json:"current_task_index"`
	IndexID        string `json:"index_id,omitempty"`
}

// Researcher runs one research task. *orchestrator.Orchestrator satisfies it.
type Researcher interface {
	Research(ctx context.Context, task string, opts orchestrator.Options) (*orchestrator.Outcome, error)
}

// GroupStore is the slice of the task store a job needs. *tasks.Store
// satisfies it.
type GroupStore interface {
	Group(index int) (tasks.Group, error)
	PendingItems(index int) ([]int, error)
	MarkCompleted(group, item int, completed bool) error
	SetInProgress(group int, inProgress bool) error
	SetIndexID(group int, id string) error
}

// Indexer persists a job's accumulated documents. *ragstore.Store satisfies it.
type Indexer interface {
	Create(ctx context.Context, task string, docs []ragstore.Document, extra map[string]string) (string, error)
	Update(ctx context.Context, id, task string, docs []ragstore.Document) (int, error)
}

type job struct {
	status  atomic.Pointer[Status]
	updates chan Status
	done    chan struct{}
}

// Registry starts and tracks jobs. At most one job per key is active;
// finished jobs stay registered so their final status remains pollable.
type Registry struct {
	store   GroupStore
	runner  Researcher
	indexes Indexer
	logDir  string
	log     logging.Sink

	mu   sync.Mutex
	jobs map[Key]*job
}

func NewRegistry(store GroupStore, runner Researcher, indexes Indexer, logDir string, log logging.Sink) *Registry {
	return &Registry{
		store:   store,
		runner:  runner,
		indexes: indexes,
		logDir:  logDir,
		log:     log,
		jobs:    map[Key]*job{},
	}
}

// Start launches a background job for every unfinished task in the group.
// A second Start for the same key while the first is active fails with
// ErrAlreadyRunning.
func (r *Registry) Start(ctx context.Context, key Key) error {
	group, err := r.store.Group(key.GroupID)
	if err != nil {
		return err
	}
	pending, err := r.store.PendingItems(key.GroupID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return ErrNoPendingTasks
	}

	r.mu.Lock()
	if existing := r.jobs[key]; existing != nil && existing.status.Load().InProgress {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	j := &job{
		updates: make(chan Status),
		done:    make(chan struct{}),
	}
	j.status.Store(&Status{InProgress: true, CompletedTasks: []int{}})
	r.jobs[key] = j
	r.mu.Unlock()

	if err := r.store.SetInProgress(key.GroupID, true); err != nil {
		r.log.Warnw("could not flag group as in progress", "key", key.String(), "error", err)
	}

	// Keeper: the only writer of the published snapshot.
	go func() {
		for st := range j.updates {
			j.status.Store(&st)
		}
		close(j.done)
	}()
	go r.run(ctx, key, group, pending, j)

	return nil
}

// Status returns the latest snapshot for a key. Unknown keys report an
// idle, not-started state.
func (r *Registry) Status(key Key) Status {
	r.mu.Lock()
	j := r.jobs[key]
	r.mu.Unlock()
	if j == nil {
		return Status{CompletedTasks: []int{}}
	}
	return *j.status.Load()
}

// publish sends a defensive copy so later mutation by the worker cannot
// reach a stored snapshot.
func (j *job) publish(st Status) {
	completed := make([]int, len(st.CompletedTasks))
	copy(completed, st.CompletedTasks)
	st.CompletedTasks = completed
	if st.CurrentTask != nil {
		v := *st.CurrentTask
		st.CurrentTask = &v
	}
	j.updates <- st
}

func (r *Registry) run(ctx context.Context, key Key, group tasks.Group, pending []int, j *job) {
	defer close(j.updates)

	log := r.log
	if jobLog, closeLog, err := logging.NewJob(r.log, r.logDir, key.String()); err == nil {
		log = jobLog
		defer closeLog()
	} else {
		r.log.Warnw("job log unavailable, using parent sink", "key", key.String(), "error", err)
	}
	log.Infow("research job started", "group", group.Prompt, "pending", len(pending))

	st := Status{InProgress: true, CompletedTasks: []int{}}
	var collected []orchestrator.Document

	for _, taskIdx := range pending {
		current := taskIdx
		st.CurrentTask = &current
		j.publish(st)

		item := group.Items[taskIdx]
		log.Infow("researching task", "index", taskIdx, "task", item.Description)

		outcome, err := r.runner.Research(ctx, item.Description, orchestrator.Options{})
		if err != nil {
			// One task failing must not take down the rest of the job.
			log.Errorw("task research failed", "index", taskIdx, "error", err)
			continue
		}
		collected = append(collected, outcome.Documents...)

		if err := r.store.MarkCompleted(key.GroupID, taskIdx, true); err != nil {
			log.Warnw("could not mark task completed", "index", taskIdx, "error", err)
		}
		st.CompletedTasks = append(st.CompletedTasks, taskIdx)
		j.publish(st)
		log.Infow("task completed", "index", taskIdx, "documents", len(outcome.Documents))
	}

	if len(collected) > 0 {
		if id := r.persist(ctx, key, group, collected, log); id != "" {
			st.IndexID = id
		}
	} else {
		log.Warnw("no documents collected, skipping index")
	}

	st.InProgress = false
	st.Completed = true
	st.CurrentTask = nil
	j.publish(st)

	if err := r.store.SetInProgress(key.GroupID, false); err != nil {
		log.Warnw("could not clear in-progress flag", "error", err)
	}
	log.Infow("research job finished", "completed_tasks", len(st.CompletedTasks), "index_id", st.IndexID)
}

// persist creates or updates the group's retrieval index with everything
// the job collected and records the id on the task group.
func (r *Registry) persist(ctx context.Context, key Key, group tasks.Group, docs []orchestrator.Document, log logging.Sink) string {
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

	task := "Research for group: " + group.Prompt
	id := group.IndexID
	if id != "" {
		if _, err := r.indexes.Update(ctx, id, task, stored); err != nil {
			log.Errorw("index update failed", "id", id, "error", err)
			return ""
		}
	} else {
		created, err := r.indexes.Create(ctx, task, stored, map[string]string{"job": key.String()})
		if err != nil {
			log.Errorw("index creation failed", "error", err)
			return ""
		}
		id = created
	}

	if err := r.store.SetIndexID(key.GroupID, id); err != nil {
		log.Warnw("could not record index id on group", "id", id, "error", err)
	}
	log.Infow("job results indexed", "id", id, "documents", len(stored))
	return id
}
