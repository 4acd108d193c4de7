package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// SearchResult is one chunk matched by a library-scoped vector search.
type SearchResult struct {
	VectorID   string
	Content    string
	ChunkIndex int
	SourceID   string
	SourceName string

	// Distance is the cosine distance to the query vector, lower is closer.
	Distance float64
}

// SearchLibrary finds the limit chunks closest to embedding among all
// Sources of the library, ordered by ascending cosine distance.
func (s *Store) SearchLibrary(ctx context.Context, libraryID string, embedding []float32, limit int) ([]SearchResult, error) {
	const q = `
		SELECT v.id, v.content, v.chunk_index, s.id, s.name,
		       v.embedding <=> $1 AS distance
		FROM   "Vectors" v
		JOIN   "Sources" s ON v.file_id = s.id
		WHERE  s.library_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), libraryID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search library: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchResult, error) {
		var r SearchResult
		err := row.Scan(&r.VectorID, &r.Content, &r.ChunkIndex, &r.SourceID, &r.SourceName, &r.Distance)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: collect search results: %w", err)
	}
	return results, nil
}

// Document is the consolidated text of one Source.
type Document struct {
	SourceID string
	Name     string
	Content  string
}

// LibraryDocuments fetches all Sources of a library and joins each one's
// chunks in chunk-index order into a single content string. Sources without
// vectors are skipped.
func (s *Store) LibraryDocuments(ctx context.Context, libraryID string) ([]Document, error) {
	const q = `
		SELECT s.id, s.name, v.content
		FROM   "Sources" s
		JOIN   "Vectors" v ON v.file_id = s.id
		WHERE  s.library_id = $1
		ORDER  BY s.id, v.chunk_index`

	rows, err := s.pool.Query(ctx, q, libraryID)
	if err != nil {
		return nil, fmt.Errorf("store: library documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	var parts []string
	flush := func() {
		if len(docs) > 0 {
			docs[len(docs)-1].Content = strings.Join(parts, " ")
		}
		parts = nil
	}
	for rows.Next() {
		var sourceID, name, content string
		if err := rows.Scan(&sourceID, &name, &content); err != nil {
			return nil, fmt.Errorf("store: scan document row: %w", err)
		}
		if len(docs) == 0 || docs[len(docs)-1].SourceID != sourceID {
			flush()
			docs = append(docs, Document{SourceID: sourceID, Name: name})
		}
		parts = append(parts, content)
	}
	flush()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: library documents: %w", err)
	}
	return docs, nil
}

// LibraryVectors returns every chunk (with embedding) of every Source in the
// library. The podcast generator clusters these.
func (s *Store) LibraryVectors(ctx context.Context, libraryID string) ([]Vector, error) {
	const q = `
		SELECT v.id, v.file_id, v.embedding, v.content, v.chunk_index
		FROM   "Vectors" v
		JOIN   "Sources" s ON v.file_id = s.id
		WHERE  s.library_id = $1
		ORDER  BY v.file_id, v.chunk_index`

	rows, err := s.pool.Query(ctx, q, libraryID)
	if err != nil {
		return nil, fmt.Errorf("store: library vectors: %w", err)
	}
	return collectVectors(rows)
}
