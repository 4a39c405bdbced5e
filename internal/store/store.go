package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store wraps the knowledge base database: the chunk index (pgvector) and the
// document registry.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of vectors stored
// in the pgvector column.
const DefaultEmbeddingDimensions = 1536

// MetadataSourceKey is the metadata field linking a chunk back to its owning
// registry entry. It must always equal the registered file name.
const MetadataSourceKey = "source"

// ErrDuplicateDocument is returned when registering a file name that already
// has a registry row.
var ErrDuplicateDocument = errors.New("document already registered")

// ChunkRecord is one chunk to be stored in the index.
type ChunkRecord struct {
	Content  string
	Metadata map[string]interface{}
	Vector   []float32
}

// ChunkMatch is a similarity search hit.
type ChunkMatch struct {
	ID         int64
	Content    string
	Metadata   map[string]interface{}
	Similarity float64
}

// Document is a registry row for one ingested source file.
type Document struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// NewWithDSN opens a Postgres connection pool and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// UpsertChunks stores a batch of chunks. The batch is written in a single
// transaction: either every chunk in it lands or none do, so a failed batch
// never leaves half-written rows behind.
func (s *Store) UpsertChunks(ctx context.Context, chunks []ChunkRecord) (err error) {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO documents (content, metadata, embedding)
VALUES ($1,$2,$3::vector)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Content) == "" {
			return fmt.Errorf("chunk content must not be empty")
		}
		meta := chunk.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		if src, _ := meta[MetadataSourceKey].(string); strings.TrimSpace(src) == "" {
			return fmt.Errorf("chunk metadata requires a %s entry", MetadataSourceKey)
		}
		vectorLiteral, err := encodeVectorLiteral(chunk.Vector)
		if err != nil {
			return err
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, chunk.Content, metaBytes, vectorLiteral); err != nil {
			return err
		}
	}
	return nil
}

// SearchChunks returns up to k chunks nearest to the query vector, most
// similar first. Ties are broken by insertion order, so repeated searches over
// a fixed index return the same ranking. An empty source matches all chunks;
// otherwise only chunks whose metadata source equals it are considered.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, k int, source string) ([]ChunkMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if k <= 0 {
		k = 4
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content, metadata, embedding <=> $1::vector AS distance
FROM documents
WHERE ($2 = '' OR metadata->>'source' = $2)
ORDER BY embedding <=> $1::vector, id
LIMIT $3
`, vecLiteral, source, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []ChunkMatch
	for rows.Next() {
		var (
			m         ChunkMatch
			metaBytes []byte
			distance  float64
		)
		if err := rows.Scan(&m.ID, &m.Content, &metaBytes, &distance); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &m.Metadata)
		}
		m.Similarity = 1 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteChunksBySource removes every chunk whose metadata source equals
// source and reports how many rows went away. Used for cascading delete ahead
// of removing the registry row.
func (s *Store) DeleteChunksBySource(ctx context.Context, source string) (int64, error) {
	if strings.TrimSpace(source) == "" {
		return 0, fmt.Errorf("source must not be empty")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE metadata->>'source' = $1`, source)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountChunksBySource counts chunks linked to one registered file.
func (s *Store) CountChunksBySource(ctx context.Context, source string) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE metadata->>'source' = $1`, source,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// OrphanChunkSources lists sources that still have chunks but no registry
// row. These are left over when registration fails after chunks were stored;
// the sweep removes them.
func (s *Store) OrphanChunkSources(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT d.metadata->>'source'
FROM documents d
LEFT JOIN uploaded_documents u ON u.name = d.metadata->>'source'
WHERE u.id IS NULL
ORDER BY 1
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var src sql.NullString
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		if src.Valid && src.String != "" {
			sources = append(sources, src.String)
		}
	}
	return sources, rows.Err()
}

// DocumentExists reports whether a file name is already registered. It is the
// single source of truth gating ingestion of that name.
func (s *Store) DocumentExists(ctx context.Context, name string) (bool, error) {
	var exists int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM uploaded_documents WHERE name = $1`, name,
	).Scan(&exists)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}

// RegisterDocument inserts a registry row for a newly ingested file. A name
// collision, whether seen up front or lost in a race to the unique index,
// returns ErrDuplicateDocument.
func (s *Store) RegisterDocument(ctx context.Context, name, author string) (Document, error) {
	if strings.TrimSpace(name) == "" {
		return Document{}, fmt.Errorf("document name must not be empty")
	}
	if strings.TrimSpace(author) == "" {
		author = "Unknown"
	}
	var doc Document
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO uploaded_documents (name, author, created_at)
VALUES ($1,$2,NOW())
RETURNING id, name, author, created_at
`, name, author).Scan(&doc.ID, &doc.Name, &doc.Author, &doc.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Document{}, ErrDuplicateDocument
		}
		return Document{}, err
	}
	return doc, nil
}

// ListDocuments returns all registry rows, most recent first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, name, author, created_at
FROM uploaded_documents
ORDER BY id DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Author, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentAuthor edits the author on an existing registry row.
func (s *Store) UpdateDocumentAuthor(ctx context.Context, name, author string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE uploaded_documents SET author = $2 WHERE name = $1`, name, author)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteDocument removes the registry row only. Callers must delete the
// document's chunks first so no chunk outlives its registry entry.
func (s *Store) DeleteDocument(ctx context.Context, name string) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM uploaded_documents WHERE name = $1`, name)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
