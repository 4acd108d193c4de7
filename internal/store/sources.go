package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// Source is an uploaded document record.
type Source struct {
	ID        string
	LibraryID string
	Name      string
	Type      string
	URL       string
	Size      int64
	JobKey    string
	Status    string

	IngestorType    string
	IngestorVersion string

	ReingestionStatus      string
	ReingestionStartedAt   *time.Time
	ReingestionCompletedAt *time.Time
}

// Vector is one chunk of a Source with its embedding.
type Vector struct {
	ID         string
	FileID     string
	Embedding  []float32
	Content    string
	ChunkIndex int
}

// GetSource loads one Source row.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	const q = `
		SELECT id, library_id, name, type, url, size, job_key, status,
		       COALESCE(ingestor_type, ''), COALESCE(ingestor_version, ''),
		       COALESCE(reingestion_status, ''),
		       reingestion_started_at, reingestion_completed_at
		FROM   "Sources"
		WHERE  id = $1`

	var src Source
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&src.ID, &src.LibraryID, &src.Name, &src.Type, &src.URL, &src.Size,
		&src.JobKey, &src.Status, &src.IngestorType, &src.IngestorVersion,
		&src.ReingestionStatus, &src.ReingestionStartedAt, &src.ReingestionCompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get source: %w", err)
	}
	return &src, nil
}

// ReplaceVectors atomically swaps a Source's vectors for a new set and marks
// the Source completed with the given ingestor stamps. Existing rows are
// deleted first so re-ingest replaces rather than appends.
func (s *Store) ReplaceVectors(ctx context.Context, sourceID string, vectors []Vector, ingestorType, ingestorVersion string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM "Vectors" WHERE file_id = $1`, sourceID); err != nil {
		return fmt.Errorf("store: delete vectors: %w", err)
	}
	for _, v := range vectors {
		_, err := tx.Exec(ctx, `
			INSERT INTO "Vectors" (id, file_id, embedding, content, chunk_index)
			VALUES ($1, $2, $3, $4, $5)`,
			v.ID, sourceID, pgvector.NewVector(v.Embedding), v.Content, v.ChunkIndex)
		if err != nil {
			return fmt.Errorf("store: insert vector %s: %w", v.ID, err)
		}
	}
	_, err = tx.Exec(ctx, `
		UPDATE "Sources"
		SET    status = $2, ingestor_type = $3, ingestor_version = $4
		WHERE  id = $1`,
		sourceID, StatusCompleted, ingestorType, ingestorVersion)
	if err != nil {
		return fmt.Errorf("store: update source: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// UpdateSourceStatus sets only the processing status of a Source.
func (s *Store) UpdateSourceStatus(ctx context.Context, sourceID, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE "Sources" SET status = $2 WHERE id = $1`, sourceID, status)
	if err != nil {
		return fmt.Errorf("store: update source status: %w", err)
	}
	return nil
}

// SourceVectors returns a Source's vectors ordered by chunk index. The
// re-ingestion worker uses them as the chunk corpus to re-embed.
func (s *Store) SourceVectors(ctx context.Context, sourceID string) ([]Vector, error) {
	const q = `
		SELECT id, file_id, embedding, content, chunk_index
		FROM   "Vectors"
		WHERE  file_id = $1
		ORDER  BY chunk_index`

	rows, err := s.pool.Query(ctx, q, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: source vectors: %w", err)
	}
	return collectVectors(rows)
}

// UpdateVectorEmbeddings rewrites the embeddings of existing vector rows in
// one transaction, leaving content and ordering untouched.
func (s *Store) UpdateVectorEmbeddings(ctx context.Context, vectors []Vector) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range vectors {
		tag, err := tx.Exec(ctx,
			`UPDATE "Vectors" SET embedding = $2 WHERE id = $1`,
			v.ID, pgvector.NewVector(v.Embedding))
		if err != nil {
			return fmt.Errorf("store: update vector %s: %w", v.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: vector %s", ErrNotFound, v.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// SetReingestionStarted stamps the re-ingestion start on a Source.
func (s *Store) SetReingestionStarted(ctx context.Context, sourceID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE "Sources"
		SET    reingestion_status = 'IN_PROGRESS', reingestion_started_at = $2
		WHERE  id = $1`, sourceID, at)
	if err != nil {
		return fmt.Errorf("store: set reingestion started: %w", err)
	}
	return nil
}

// SetReingestionResult records the final re-ingestion status and completion
// time on a Source.
func (s *Store) SetReingestionResult(ctx context.Context, sourceID, status string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE "Sources"
		SET    reingestion_status = $2, reingestion_completed_at = $3
		WHERE  id = $1`, sourceID, status, at)
	if err != nil {
		return fmt.Errorf("store: set reingestion result: %w", err)
	}
	return nil
}

func collectVectors(rows pgx.Rows) ([]Vector, error) {
	vectors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Vector, error) {
		var (
			v   Vector
			vec pgvector.Vector
		)
		if err := row.Scan(&v.ID, &v.FileID, &vec, &v.Content, &v.ChunkIndex); err != nil {
			return Vector{}, err
		}
		v.Embedding = vec.Slice()
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: collect vectors: %w", err)
	}
	return vectors, nil
}
