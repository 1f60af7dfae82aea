package ragstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"deepscout/internal/embedding"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	title TEXT,
	cache_file TEXT,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding TEXT,
	link_score REAL,
	content_score REAL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chunks_url ON chunks(url);
`

// openIndexDB opens (or creates) one index database with the pragmas tuned
// for single-writer use.
func openIndexDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return db, nil
}

// indexDocument chunks a document, embeds the chunks in one batch and
// inserts them.
func (s *Store) indexDocument(ctx context.Context, db *sql.DB, doc Document) error {
	chunks := chunkText(doc.Text, chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := s.engine.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.URL, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO chunks
		(url, title, cache_file, chunk_index, content, embedding, link_score, content_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		encoded, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		if _, err := stmt.Exec(doc.URL, doc.Title, doc.CacheFile, i, chunk, string(encoded), doc.LinkScore, doc.ContentScore); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

// rankChunks scans every embedded chunk, scores it against the query vector
// and returns the topK by cosine similarity.
func rankChunks(db *sql.DB, queryVec []float32, topK int) ([]Source, error) {
	rows, err := db.Query(`SELECT url, title, cache_file, content, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	var scored []Source
	for rows.Next() {
		var src Source
		var encoded string
		if err := rows.Scan(&src.URL, &src.Title, &src.CacheFile, &src.Content, &encoded); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}

		var vec []float32
		if err := json.Unmarshal([]byte(encoded), &vec); err != nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		src.Score = sim
		scored = append(scored, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// chunkText splits text into chunks of at most size chars with the given
// overlap, preferring sentence boundaries for the cut.
func chunkText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else if cut := strings.LastIndex(text[start:end], ". "); cut > size/2 {
			end = start + cut + 2
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(text) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}
