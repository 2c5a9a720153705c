// Package knowledge implements the retrieval backend: documents are chunked
// into a SQLite FTS5 index and answered from via the generative model,
// constrained to the retrieved context.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Document is an indexed source document.
type Document struct {
	ID         string
	Name       string
	Size       int64
	ChunkCount int
	CreatedAt  time.Time
}

// Chunk is one indexed slice of a document.
type Chunk struct {
	DocumentID string
	ChunkIndex int
	Content    string
}

// SearchResult is a ranked full-text hit.
type SearchResult struct {
	DocName    string
	ChunkIndex int
	Content    string
	Score      float64 // bm25 rank, lower is better
}

// Store persists documents and serves ranked full-text search over their
// chunks.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		size        INTEGER DEFAULT 0,
		chunk_count INTEGER DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		document_id UNINDEXED,
		chunk_index UNINDEXED
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// AddDocument stores a document and its chunks in one transaction. Adding
// an id that already exists replaces the previous version.
func (s *Store) AddDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, name, size, chunk_count) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.Size, len(chunks)); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks_fts (content, document_id, chunk_index) VALUES (?, ?, ?)`,
			c.Content, c.DocumentID, c.ChunkIndex); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return tx.Commit()
}

// Search returns the topK best-ranked chunks for query. An empty or
// symbol-only query yields no results.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.name, c.chunk_index, c.content, bm25(chunks_fts) AS score
		FROM chunks_fts c
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?`, match, topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.DocName, &r.ChunkIndex, &r.Content, &r.Score); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountDocuments reports how many documents are indexed.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// ftsQuery turns free text into a safe FTS5 match expression: each word is
// quoted and the words are OR-ed, so user punctuation can never change the
// query syntax.
func ftsQuery(query string) string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + w + `"`
	}
	return strings.Join(quoted, " OR ")
}
