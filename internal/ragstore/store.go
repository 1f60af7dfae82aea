// Package ragstore persists accepted evidence documents as retrieval
// indices. Each index lives in its own directory holding a SQLite database
// of embedded chunks plus a metadata.json describing the index. Indices
// support create, incremental update and grounded querying.
package ragstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deepscout/internal/embedding"
	"deepscout/internal/llm"
	"deepscout/internal/logging"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	chunkSize    = 512
	chunkOverlap = 50

	// Query falls back to the best few chunks when nothing clears the
	// threshold, so a non-empty index never answers with zero sources.
	fallbackSources = 3
)

// ErrNotFound is returned when an index id does not exist.
var ErrNotFound = errors.New("index not found")

// Document is one piece of evidence accepted into an index.
type Document struct {
	Text         string
	URL          string
	Title        string
	LinkScore    float64
	ContentScore float64
	CacheFile    string
}

// CacheReference ties an indexed document back to its content cache entry.
type CacheReference struct {
	URL       string `json:"url"`
	CacheFile string `json:"cache_file"`
	Title     string `json:"title"`
}

// Metadata describes an index on disk.
type Metadata struct {
	ID              string            `json:"id"`
	Task            string            `json:"task"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at,omitempty"`
	NumDocuments    int               `json:"num_documents"`
	CacheReferences []CacheReference  `json:"cache_references"`
	Extra           map[string]string `json:"metadata,omitempty"`
}

// Source is one retrieved chunk backing a query response.
type Source struct {
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	CacheFile string  `json:"cache_file"`
}

// QueryResult is a grounded answer with the chunks it was built from.
type QueryResult struct {
	Query    string   `json:"query"`
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
	Task     string   `json:"task"`
	IndexID  string   `json:"index_id"`
}

// Store manages retrieval indices under a root directory.
type Store struct {
	dir    string
	engine embedding.Engine
	client llm.Client
	log    logging.Sink
}

// New creates a store rooted at dir.
func New(dir string, engine embedding.Engine, client llm.Client, log logging.Sink) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	return &Store{dir: dir, engine: engine, client: client, log: log}, nil
}

func (s *Store) indexDir(id string) string {
	return filepath.Join(s.dir, "index_"+id)
}

// newID returns a short index id, the first 8 hex chars of a UUID.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create builds a new index from documents and returns its id. Documents
// with empty text are skipped; an input with no usable documents is an
// error.
func (s *Store) Create(ctx context.Context, task string, docs []Document, extra map[string]string) (string, error) {
	usable := withContent(docs)
	if len(usable) == 0 {
		return "", errors.New("no documents with content to index")
	}

	id := newID()
	dir := s.indexDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create index dir: %w", err)
	}

	db, err := openIndexDB(filepath.Join(dir, "index.db"))
	if err != nil {
		return "", err
	}
	defer db.Close()

	// A URL is referenced at most once per index, even when the input
	// carries duplicates.
	seen := make(map[string]bool, len(usable))
	refs := make([]CacheReference, 0, len(usable))
	for _, doc := range usable {
		if seen[doc.URL] {
			s.log.Debugw("skipping duplicate URL in batch", "id", id, "url", doc.URL)
			continue
		}
		seen[doc.URL] = true
		if err := s.indexDocument(ctx, db, doc); err != nil {
			return "", err
		}
		refs = append(refs, CacheReference{URL: doc.URL, CacheFile: doc.CacheFile, Title: doc.Title})
	}

	meta := Metadata{
		ID:              id,
		Task:            task,
		CreatedAt:       time.Now(),
		NumDocuments:    len(refs),
		CacheReferences: refs,
		Extra:           extra,
	}
	if err := s.writeMetadata(dir, meta); err != nil {
		return "", err
	}

	s.log.Infow("retrieval index created", "id", id, "documents", len(refs))
	return id, nil
}

// Update adds documents to an existing index, skipping any URL the index
// already references. A missing index is created under the given id rather
// than failing, so callers can accumulate into a well-known index.
func (s *Store) Update(ctx context.Context, id, task string, docs []Document) (int, error) {
	dir := s.indexDir(id)
	meta, err := s.readMetadata(dir)
	if errors.Is(err, ErrNotFound) {
		meta, err = s.initEmpty(id)
	}
	if err != nil {
		return 0, err
	}

	existing := make(map[string]bool, len(meta.CacheReferences))
	for _, ref := range meta.CacheReferences {
		existing[ref.URL] = true
	}

	var fresh []Document
	for _, doc := range withContent(docs) {
		if existing[doc.URL] {
			s.log.Debugw("skipping already indexed URL", "id", id, "url", doc.URL)
			continue
		}
		existing[doc.URL] = true
		fresh = append(fresh, doc)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	db, err := openIndexDB(filepath.Join(dir, "index.db"))
	if err != nil {
		return 0, err
	}
	defer db.Close()

	for _, doc := range fresh {
		if err := s.indexDocument(ctx, db, doc); err != nil {
			return 0, err
		}
		meta.CacheReferences = append(meta.CacheReferences, CacheReference{
			URL: doc.URL, CacheFile: doc.CacheFile, Title: doc.Title,
		})
	}

	meta.NumDocuments += len(fresh)
	meta.UpdatedAt = time.Now()
	if meta.Task == "" {
		meta.Task = task
	} else if task != "" && !strings.Contains(meta.Task, task) {
		meta.Task = meta.Task + " + " + task
	}
	if err := s.writeMetadata(dir, meta); err != nil {
		return 0, err
	}

	s.log.Infow("retrieval index updated", "id", id, "added", len(fresh), "documents", meta.NumDocuments)
	return len(fresh), nil
}

// Query retrieves the topK nearest chunks, keeps those at or above
// threshold (falling back to the best three when none qualify), and
// synthesizes a grounded answer from only the retrieved text.
func (s *Store) Query(ctx context.Context, id, query string, topK int, threshold float64) (*QueryResult, error) {
	dir := s.indexDir(id)
	meta, err := s.readMetadata(dir)
	if err != nil {
		return nil, err
	}

	db, err := openIndexDB(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if topK <= 0 {
		topK = 5
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ranked, err := rankChunks(db, queryVec, topK)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return &QueryResult{
			Query:   query,
			Task:    meta.Task,
			IndexID: id,
		}, nil
	}

	var sources []Source
	for _, src := range ranked {
		if src.Score >= threshold {
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		// Never answer with zero sources from a non-empty index.
		n := fallbackSources
		if n > len(ranked) {
			n = len(ranked)
		}
		sources = ranked[:n]
		s.log.Infow("no chunks above threshold, using best available", "id", id, "threshold", threshold, "sources", n)
	}

	response, err := s.synthesize(ctx, query, sources)
	if err != nil {
		return nil, err
	}

	return &QueryResult{
		Query:    query,
		Response: response,
		Sources:  sources,
		Task:     meta.Task,
		IndexID:  id,
	}, nil
}

// List returns metadata for every index under the store root.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index root: %w", err)
	}

	var out []Metadata
	for _, de := range entries {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), "index_") {
			continue
		}
		meta, err := s.readMetadata(filepath.Join(s.dir, de.Name()))
		if err != nil {
			s.log.Warnw("skipping index with unreadable metadata", "dir", de.Name(), "error", err)
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// Get returns the metadata for one index.
func (s *Store) Get(id string) (Metadata, error) {
	return s.readMetadata(s.indexDir(id))
}

// initEmpty creates an index shell under a caller-chosen id.
func (s *Store) initEmpty(id string) (Metadata, error) {
	dir := s.indexDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Metadata{}, fmt.Errorf("create index dir: %w", err)
	}
	db, err := openIndexDB(filepath.Join(dir, "index.db"))
	if err != nil {
		return Metadata{}, err
	}
	db.Close()

	meta := Metadata{ID: id, CreatedAt: time.Now()}
	if err := s.writeMetadata(dir, meta); err != nil {
		return Metadata{}, err
	}
	s.log.Infow("empty retrieval index initialized", "id", id)
	return meta, nil
}

func (s *Store) readMetadata(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) writeMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// synthesize builds an answer from retrieved chunks only, instructing the
// backend to say so when the context is insufficient.
func (s *Store) synthesize(ctx context.Context, query string, sources []Source) (string, error) {
	texts := make([]string, len(sources))
	for i, src := range sources {
		texts[i] = src.Content
	}

	prompt := fmt.Sprintf(`Based on the following information, answer the question.
Include only facts present in the provided data and do not add information that is not there.
If the provided information is not sufficient to answer, say so clearly.

INFORMATION:
%s

QUESTION: %s

ANSWER:`, strings.Join(texts, "\n\n---\n\n"), query)

	response, err := s.client.CompleteWithSystem(ctx,
		"You are a research assistant that answers questions based only on the provided data.",
		prompt)
	if err != nil {
		return "", fmt.Errorf("answer synthesis failed: %w", err)
	}
	return strings.TrimSpace(response), nil
}

func withContent(docs []Document) []Document {
	var out []Document
	for _, d := range docs {
		if strings.TrimSpace(d.Text) != "" {
			out = append(out, d)
		}
	}
	return out
}
