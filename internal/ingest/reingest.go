package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fylr-ai/fylr/internal/broker"
	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/store"
)

// Re-ingestion stage names.
const (
	StageStartingReingest = "STARTING_REINGEST"
	StageFetchingChunks   = "FETCHING_CHUNKS"
	StageSkipped          = "SKIPPED"
)

// ReingestStore is the slice of the store the re-ingestion worker needs.
type ReingestStore interface {
	GetSource(ctx context.Context, id string) (*store.Source, error)
	SourceVectors(ctx context.Context, sourceID string) ([]store.Vector, error)
	UpdateVectorEmbeddings(ctx context.Context, vectors []store.Vector) error
	SetReingestionStarted(ctx context.Context, sourceID string, at time.Time) error
	SetReingestionResult(ctx context.Context, sourceID, status string, at time.Time) error
}

// reingestMessage is the wire shape of a re-ingestion job.
type reingestMessage struct {
	SourceID             string `json:"sourceId"`
	JobKey               string `json:"jobKey"`
	TargetEmbeddingModel string `json:"targetEmbeddingModel"`
}

func (m *reingestMessage) validate() error {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"sourceId", m.SourceID},
		{"jobKey", m.JobKey},
		{"targetEmbeddingModel", m.TargetEmbeddingModel},
	} {
		if f.val == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("message missing required fields: %v", missing)
	}
	return nil
}

// Reingester re-embeds the stored chunks of an already-ingested Source with a
// new embedding model, updating vectors in place.
type Reingester struct {
	Store    ReingestStore
	Embedder Embedder
	Events   Events
	Metrics  *observe.Metrics

	// Now is the clock; tests override it. Nil means time.Now.
	Now func() time.Time
}

func (r *Reingester) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Handle processes one re-ingestion delivery. A Source whose ingest and
// re-ingest are both already COMPLETED is skipped and acked, making
// redeliveries idempotent.
func (r *Reingester) Handle(ctx context.Context, d amqp.Delivery) error {
	log := observe.Logger(ctx)

	var msg reingestMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return fmt.Errorf("reingest: decode message: %w", err)
	}
	if err := msg.validate(); err != nil {
		if msg.JobKey != "" {
			r.Events.Error(ctx, broker.JobKey(msg.JobKey), StageFailed, err.Error())
		}
		return fmt.Errorf("reingest: %w", err)
	}

	key := broker.JobKey(msg.JobKey)
	log = log.With("source_id", msg.SourceID, "job_key", msg.JobKey)

	src, err := r.Store.GetSource(ctx, msg.SourceID)
	if err != nil {
		return r.fail(ctx, key, "", fmt.Errorf("load source: %w", err))
	}
	if src.Status == store.StatusCompleted && src.ReingestionStatus == store.StatusCompleted {
		log.Info("source already re-ingested, skipping")
		r.Events.Publish(ctx, key, StageSkipped, "source already re-ingested", nil)
		return nil
	}

	r.Events.Publish(ctx, key, StageStartingReingest, "re-ingestion started", map[string]any{
		"targetModel": msg.TargetEmbeddingModel,
	})
	if err := r.Store.SetReingestionStarted(ctx, msg.SourceID, r.now()); err != nil {
		return r.fail(ctx, key, msg.SourceID, fmt.Errorf("mark started: %w", err))
	}

	r.Events.Publish(ctx, key, StageFetchingChunks, "loading stored chunks", nil)
	vectors, err := r.Store.SourceVectors(ctx, msg.SourceID)
	if err != nil {
		return r.fail(ctx, key, msg.SourceID, fmt.Errorf("load chunks: %w", err))
	}
	if len(vectors) == 0 {
		return r.fail(ctx, key, msg.SourceID, errors.New("source has no stored chunks to re-embed"))
	}

	r.Events.Publish(ctx, key, StageVectorizing, fmt.Sprintf("re-embedding %d chunks", len(vectors)), nil)
	start := time.Now()
	inputs := make([]string, len(vectors))
	for i, v := range vectors {
		inputs[i] = v.Content
	}
	resp, err := r.Embedder.Embed(ctx, msg.TargetEmbeddingModel, inputs)
	if err != nil {
		return r.fail(ctx, key, msg.SourceID, fmt.Errorf("embed: %w", err))
	}
	embeddings := resp.Vectors()
	if len(embeddings) != len(vectors) {
		return r.fail(ctx, key, msg.SourceID,
			fmt.Errorf("embedding count mismatch: got %d vectors for %d chunks", len(embeddings), len(vectors)))
	}
	r.Metrics.RecordIngestStage(ctx, StageVectorizing, time.Since(start).Seconds())

	r.Events.Publish(ctx, key, StageSaving, "updating vectors", nil)
	for i := range vectors {
		vectors[i].Embedding = embeddings[i]
	}
	if err := r.Store.UpdateVectorEmbeddings(ctx, vectors); err != nil {
		return r.fail(ctx, key, msg.SourceID, fmt.Errorf("save: %w", err))
	}
	if err := r.Store.SetReingestionResult(ctx, msg.SourceID, store.StatusCompleted, r.now()); err != nil {
		return r.fail(ctx, key, msg.SourceID, fmt.Errorf("mark completed: %w", err))
	}

	r.Events.Publish(ctx, key, StageCompleted, "re-ingestion completed", map[string]any{
		"chunks": len(vectors),
	})
	r.Metrics.RecordIngestJob(ctx, StageCompleted)
	log.Info("re-ingestion completed", "chunks", len(vectors))
	return nil
}

// fail records the failed re-ingestion and returns the error so the delivery
// is dead-lettered.
func (r *Reingester) fail(ctx context.Context, routingKey, sourceID string, err error) error {
	r.Events.Error(ctx, routingKey, StageFailed, err.Error())
	if sourceID != "" {
		if uerr := r.Store.SetReingestionResult(ctx, sourceID, store.StatusFailed, r.now()); uerr != nil {
			observe.Logger(ctx).Error("failed to mark reingestion failed", "source_id", sourceID, "err", uerr)
		}
	}
	r.Metrics.RecordIngestJob(ctx, StageFailed)
	return fmt.Errorf("reingest: %w", err)
}
