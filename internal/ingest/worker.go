// Package ingest implements the document ingestion workers: the initial
// fetch→extract→chunk→embed→persist pipeline and the re-ingestion variant
// that re-embeds stored chunks with a new model.
//
// Both workers consume AMQP deliveries with prefetch 1 and publish a status
// event per pipeline stage. A nil return from a handler acks the message;
// any error dead-letters it.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fylr-ai/fylr/internal/broker"
	"github.com/fylr-ai/fylr/internal/chunk"
	"github.com/fylr-ai/fylr/internal/extract"
	"github.com/fylr-ai/fylr/internal/gatewayclient"
	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/store"
)

// Pipeline stage names carried in status events.
const (
	StageStarting    = "STARTING"
	StageFetching    = "FETCHING"
	StageParsing     = "PARSING"
	StageVectorizing = "VECTORIZING"
	StageSaving      = "SAVING"
	StageCompleted   = "COMPLETED"
	StageFailed      = "FAILED"
)

// SourceStore is the slice of the store the ingestion worker needs.
type SourceStore interface {
	ReplaceVectors(ctx context.Context, sourceID string, vectors []store.Vector, ingestorType, ingestorVersion string) error
	UpdateSourceStatus(ctx context.Context, sourceID, status string) error
}

// ObjectFetcher reads uploaded documents from object storage.
type ObjectFetcher interface {
	FetchUserFile(ctx context.Context, key string) ([]byte, error)
}

// Embedder requests embeddings from the AI Gateway.
type Embedder interface {
	Embed(ctx context.Context, fullModel string, inputs []string) (*gatewayclient.EmbeddingsResponse, error)
}

// Events publishes status updates for a job.
type Events interface {
	Publish(ctx context.Context, routingKey, stage, message string, extra map[string]any)
	Error(ctx context.Context, routingKey, stage, message string)
}

// jobMessage is the wire shape of an ingestion job.
type jobMessage struct {
	SourceID       string `json:"sourceId"`
	S3Key          string `json:"s3Key"`
	MimeType       string `json:"mimeType"`
	JobKey         string `json:"jobKey"`
	EmbeddingModel string `json:"embeddingModel"`
}

func (m *jobMessage) validate() error {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"sourceId", m.SourceID},
		{"s3Key", m.S3Key},
		{"mimeType", m.MimeType},
		{"jobKey", m.JobKey},
		{"embeddingModel", m.EmbeddingModel},
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

// Worker is the initial-ingestion pipeline.
type Worker struct {
	Store      SourceStore
	Objects    ObjectFetcher
	Embedder   Embedder
	Events     Events
	Extractors *extract.Manager
	Chunks     chunk.Config
	Metrics    *observe.Metrics

	// IngestorType and IngestorVersion are stamped onto completed Sources.
	IngestorType    string
	IngestorVersion string
}

// Handle processes one ingestion delivery through the full pipeline.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) error {
	log := observe.Logger(ctx)

	var msg jobMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return fmt.Errorf("ingest: decode message: %w", err)
	}
	if err := msg.validate(); err != nil {
		// Poison message. Emit a failure event when a job key exists; the
		// nack routes the body to the DLQ either way.
		if msg.JobKey != "" {
			w.Events.Error(ctx, broker.JobKey(msg.JobKey), StageFailed, err.Error())
		}
		w.Metrics.RecordIngestJob(ctx, StageFailed)
		return fmt.Errorf("ingest: %w", err)
	}

	key := broker.JobKey(msg.JobKey)
	log = log.With("source_id", msg.SourceID, "job_key", msg.JobKey)
	log.Info("ingest job started", "mime_type", msg.MimeType)
	w.Events.Publish(ctx, key, StageStarting, "ingestion started", nil)

	w.Events.Publish(ctx, key, StageFetching, "fetching document from storage", nil)
	start := time.Now()
	data, err := w.Objects.FetchUserFile(ctx, msg.S3Key)
	if err != nil {
		return w.fail(ctx, key, msg.SourceID, fmt.Errorf("fetch %s: %w", msg.S3Key, err))
	}
	w.Metrics.RecordIngestStage(ctx, StageFetching, time.Since(start).Seconds())

	w.Events.Publish(ctx, key, StageParsing, "extracting text", nil)
	start = time.Now()
	text, err := w.Extractors.Extract(msg.MimeType, msg.S3Key, data)
	if err != nil {
		return w.fail(ctx, key, msg.SourceID, fmt.Errorf("extract: %w", err))
	}
	chunks := chunk.Split(text, w.Chunks)
	if len(chunks) == 0 {
		return w.fail(ctx, key, msg.SourceID, errors.New("document produced no chunks"))
	}
	w.Metrics.RecordIngestStage(ctx, StageParsing, time.Since(start).Seconds())

	w.Events.Publish(ctx, key, StageVectorizing, fmt.Sprintf("embedding %d chunks", len(chunks)), nil)
	start = time.Now()
	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = c.Text
	}
	resp, err := w.Embedder.Embed(ctx, msg.EmbeddingModel, inputs)
	if err != nil {
		return w.fail(ctx, key, msg.SourceID, fmt.Errorf("embed: %w", err))
	}
	vectors := resp.Vectors()
	if len(vectors) != len(chunks) {
		return w.fail(ctx, key, msg.SourceID,
			fmt.Errorf("embedding count mismatch: got %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	w.Metrics.RecordIngestStage(ctx, StageVectorizing, time.Since(start).Seconds())

	w.Events.Publish(ctx, key, StageSaving, "persisting vectors", nil)
	start = time.Now()
	rows := make([]store.Vector, len(chunks))
	for i, c := range chunks {
		rows[i] = store.Vector{
			ID:         fmt.Sprintf("vec_%s_%d", msg.SourceID, i),
			FileID:     msg.SourceID,
			Embedding:  vectors[i],
			Content:    c.Text,
			ChunkIndex: c.StartIndex,
		}
	}
	if err := w.Store.ReplaceVectors(ctx, msg.SourceID, rows, w.IngestorType, w.IngestorVersion); err != nil {
		return w.fail(ctx, key, msg.SourceID, fmt.Errorf("save: %w", err))
	}
	w.Metrics.RecordIngestStage(ctx, StageSaving, time.Since(start).Seconds())
	w.Metrics.ChunksEmbedded.Add(ctx, int64(len(rows)))

	w.Events.Publish(ctx, key, StageCompleted, "ingestion completed", map[string]any{
		"chunks": len(rows),
	})
	w.Metrics.RecordIngestJob(ctx, StageCompleted)
	log.Info("ingest job completed", "chunks", len(rows))
	return nil
}

// fail marks the Source failed, publishes the failure event, and returns the
// error so the delivery is dead-lettered.
func (w *Worker) fail(ctx context.Context, routingKey, sourceID string, err error) error {
	w.Events.Error(ctx, routingKey, StageFailed, err.Error())
	if sourceID != "" {
		if uerr := w.Store.UpdateSourceStatus(ctx, sourceID, store.StatusFailed); uerr != nil {
			observe.Logger(ctx).Error("failed to mark source failed", "source_id", sourceID, "err", uerr)
		}
	}
	w.Metrics.RecordIngestJob(ctx, StageFailed)
	return fmt.Errorf("ingest: %w", err)
}
