package jobs

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"deepscout/internal/logging"
	"deepscout/internal/orchestrator"
	"deepscout/internal/ragstore"
	"deepscout/internal/tasks"
)

type fakeRunner struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]bool
	block chan struct{}
}

func (f *fakeRunner) Research(_ context.Context, task string, _ orchestrator.Options) (*orchestrator.Outcome, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.seen = append(f.seen, task)
	f.mu.Unlock()
	if f.fail[task] {
		return nil, errors.New("search backends unavailable")
	}
	return &orchestrator.Outcome{
		Task: task,
		Documents: []orchestrator.Document{{
			Title:        task,
			URL:          "https://example.com/" + url.PathEscape(task),
			Text:         "findings for " + task,
			ContentScore: 0.9,
		}},
	}, nil
}

func (f *fakeRunner) tasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type fakeIndexer struct {
	mu      sync.Mutex
	created [][]ragstore.Document
	updated map[string][]ragstore.Document
	fail    bool
}

func (x *fakeIndexer) Create(_ context.Context, _ string, docs []ragstore.Document, _ map[string]string) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fail {
		return "", errors.New("disk full")
	}
	x.created = append(x.created, docs)
	return "abcd1234", nil
}

func (x *fakeIndexer) Update(_ context.Context, id, _ string, docs []ragstore.Document) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fail {
		return 0, errors.New("disk full")
	}
	if x.updated == nil {
		x.updated = map[string][]ragstore.Document{}
	}
	x.updated[id] = append(x.updated[id], docs...)
	return len(docs), nil
}

func newGroupStore(t *testing.T, items ...tasks.Item) *tasks.Store {
	t.Helper()
	store, err := tasks.NewStore(filepath.Join(t.TempDir(), "data.json"), logging.Nop())
	if err != nil {
		t.Fatalf("tasks.NewStore: %v", err)
	}
	for _, item := range items {
		idx, err := store.AddItem(0, item.Description)
		if err != nil {
			t.Fatalf("AddItem: %v", err)
		}
		if item.Completed {
			if err := store.MarkCompleted(0, idx, true); err != nil {
				t.Fatalf("MarkCompleted: %v", err)
			}
		}
	}
	return store
}

func newRegistry(t *testing.T, store *tasks.Store, runner Researcher, indexes Indexer) *Registry {
	t.Helper()
	return NewRegistry(store, runner, indexes, filepath.Join(t.TempDir(), "logs"), logging.Nop())
}

func waitDone(t *testing.T, r *Registry, key Key) {
	t.Helper()
	r.mu.Lock()
	j := r.jobs[key]
	r.mu.Unlock()
	if j == nil {
		t.Fatalf("no job registered for %s", key)
	}
	select {
	case <-j.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", key)
	}
}

func TestJobRunsAllPendingTasks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	store := newGroupStore(t,
		tasks.Item{Description: "battery chemistry overview", Completed: true},
		tasks.Item{Description: "grid storage economics"},
		tasks.Item{Description: "recycling regulation"},
	)
	runner := &fakeRunner{}
	indexes := &fakeIndexer{}
	r := newRegistry(t, store, runner, indexes)
	key := Key{ContextID: "default", GroupID: 0}

	if err := r.Start(context.Background(), key); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r, key)

	st := r.Status(key)
	if st.InProgress || !st.Completed {
		t.Fatalf("final status = %+v", st)
	}
	if len(st.CompletedTasks) != 2 || st.CompletedTasks[0] != 1 || st.CompletedTasks[1] != 2 {
		t.Fatalf("completed tasks = %v", st.CompletedTasks)
	}
	if st.CurrentTask != nil {
		t.Fatalf("current task = %v after completion", *st.CurrentTask)
	}
	if st.IndexID != "abcd1234" {
		t.Fatalf("index id = %q", st.IndexID)
	}

	// The already-completed item must not be re-researched.
	if got := runner.tasks(); len(got) != 2 || got[0] != "grid storage economics" {
		t.Fatalf("researched tasks = %v", got)
	}
	if len(indexes.created) != 1 || len(indexes.created[0]) != 2 {
		t.Fatalf("indexed documents = %+v", indexes.created)
	}

	group, err := store.Group(0)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if group.ResearchInProgress {
		t.Fatal("in-progress flag still set")
	}
	if group.IndexID != "abcd1234" {
		t.Fatalf("group index id = %q", group.IndexID)
	}
	for i, item := range group.Items {
		if !item.Completed {
			t.Fatalf("item %d not marked completed", i)
		}
	}
}

func TestStartRejectsActiveDuplicate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	store := newGroupStore(t, tasks.Item{Description: "solid state prototypes"})
	runner := &fakeRunner{block: make(chan struct{})}
	r := newRegistry(t, store, runner, &fakeIndexer{})
	key := Key{ContextID: "default", GroupID: 0}

	if err := r.Start(context.Background(), key); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background(), key); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if st := r.Status(key); !st.InProgress || st.Completed {
		t.Fatalf("status while running = %+v", st)
	}

	close(runner.block)
	waitDone(t, r, key)

	// Everything completed, so a restart has nothing to do.
	if err := r.Start(context.Background(), key); !errors.Is(err, ErrNoPendingTasks) {
		t.Fatalf("Start after completion = %v, want ErrNoPendingTasks", err)
	}
}

func TestTaskFailureDoesNotStopJob(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	store := newGroupStore(t,
		tasks.Item{Description: "flaky topic"},
		tasks.Item{Description: "stable topic"},
	)
	runner := &fakeRunner{fail: map[string]bool{"flaky topic": true}}
	indexes := &fakeIndexer{}
	r := newRegistry(t, store, runner, indexes)
	key := Key{GroupID: 0}

	if err := r.Start(context.Background(), key); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r, key)

	st := r.Status(key)
	if !st.Completed {
		t.Fatalf("job did not complete: %+v", st)
	}
	if len(st.CompletedTasks) != 1 || st.CompletedTasks[0] != 1 {
		t.Fatalf("completed tasks = %v", st.CompletedTasks)
	}

	group, err := store.Group(0)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if group.Items[0].Completed {
		t.Fatal("failed task marked completed")
	}
	if !group.Items[1].Completed {
		t.Fatal("successful task not marked completed")
	}
	if len(indexes.created) != 1 || len(indexes.created[0]) != 1 {
		t.Fatalf("indexed documents = %+v", indexes.created)
	}
}

func TestExistingIndexIsUpdated(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	store := newGroupStore(t, tasks.Item{Description: "hydrogen pipelines"})
	if err := store.SetIndexID(0, "shared01"); err != nil {
		t.Fatalf("SetIndexID: %v", err)
	}
	indexes := &fakeIndexer{}
	r := newRegistry(t, store, &fakeRunner{}, indexes)
	key := Key{GroupID: 0}

	if err := r.Start(context.Background(), key); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r, key)

	if st := r.Status(key); st.IndexID != "shared01" {
		t.Fatalf("index id = %q, want the existing one", st.IndexID)
	}
	if len(indexes.updated["shared01"]) != 1 {
		t.Fatalf("updated docs = %+v", indexes.updated)
	}
	if len(indexes.created) != 0 {
		t.Fatal("a new index was created despite an existing one")
	}
}

func TestIndexFailureStillCompletesJob(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	store := newGroupStore(t, tasks.Item{Description: "offshore wind permitting"})
	r := newRegistry(t, store, &fakeRunner{}, &fakeIndexer{fail: true})
	key := Key{GroupID: 0}

	if err := r.Start(context.Background(), key); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r, key)

	st := r.Status(key)
	if !st.Completed {
		t.Fatalf("job did not complete: %+v", st)
	}
	if st.IndexID != "" {
		t.Fatalf("index id = %q, want empty on failure", st.IndexID)
	}
}

func TestStartValidation(t *testing.T) {
	store := newGroupStore(t, tasks.Item{Description: "done already", Completed: true})
	r := newRegistry(t, store, &fakeRunner{}, &fakeIndexer{})

	if err := r.Start(context.Background(), Key{GroupID: 7}); err == nil {
		t.Fatal("unknown group accepted")
	}
	if err := r.Start(context.Background(), Key{GroupID: 0}); !errors.Is(err, ErrNoPendingTasks) {
		t.Fatalf("Start = %v, want ErrNoPendingTasks", err)
	}
}

func TestStatusUnknownKey(t *testing.T) {
	r := newRegistry(t, newGroupStore(t), &fakeRunner{}, &fakeIndexer{})
	st := r.Status(Key{ContextID: "nope", GroupID: 3})
	if st.InProgress || st.Completed || len(st.CompletedTasks) != 0 || st.CurrentTask != nil {
		t.Fatalf("unknown key status = %+v", st)
	}
}

func TestKeyString(t *testing.T) {
	if got := (Key{GroupID: 2}).String(); got != "group-2" {
		t.Fatalf("Key.String() = %q", got)
	}
	if got := (Key{ContextID: "default", GroupID: 0}).String(); got != "default-group-0" {
		t.Fatalf("Key.String() = %q", got)
	}
}
