package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/fylr-ai/fylr/internal/chunk"
	"github.com/fylr-ai/fylr/internal/extract"
	"github.com/fylr-ai/fylr/internal/gatewayclient"
	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/store"
)

type fakeStore struct {
	source *store.Source

	replaced        []store.Vector
	replacedSource  string
	statusUpdates   []string
	sourceVectors   []store.Vector
	updatedVectors  []store.Vector
	reingestStarted bool
	reingestResults []string

	replaceErr error
}

func (f *fakeStore) ReplaceVectors(_ context.Context, sourceID string, vectors []store.Vector, _, _ string) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replacedSource = sourceID
	f.replaced = vectors
	return nil
}

func (f *fakeStore) UpdateSourceStatus(_ context.Context, _, status string) error {
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

func (f *fakeStore) GetSource(_ context.Context, id string) (*store.Source, error) {
	if f.source == nil {
		return nil, store.ErrNotFound
	}
	return f.source, nil
}

func (f *fakeStore) SourceVectors(_ context.Context, _ string) ([]store.Vector, error) {
	return f.sourceVectors, nil
}

func (f *fakeStore) UpdateVectorEmbeddings(_ context.Context, vectors []store.Vector) error {
	f.updatedVectors = vectors
	return nil
}

func (f *fakeStore) SetReingestionStarted(_ context.Context, _ string, _ time.Time) error {
	f.reingestStarted = true
	return nil
}

func (f *fakeStore) SetReingestionResult(_ context.Context, _, status string, _ time.Time) error {
	f.reingestResults = append(f.reingestResults, status)
	return nil
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) FetchUserFile(_ context.Context, _ string) ([]byte, error) {
	return f.data, f.err
}

type fakeEmbedder struct {
	calls  [][]string
	models []string
	err    error

	// short forces a response with one vector fewer than requested.
	short bool
}

func (f *fakeEmbedder) Embed(_ context.Context, fullModel string, inputs []string) (*gatewayclient.EmbeddingsResponse, error) {
	f.calls = append(f.calls, inputs)
	f.models = append(f.models, fullModel)
	if f.err != nil {
		return nil, f.err
	}
	n := len(inputs)
	if f.short && n > 0 {
		n--
	}
	resp := &gatewayclient.EmbeddingsResponse{Provider: "jina", Model: "jina-clip-v2"}
	for i := 0; i < n; i++ {
		resp.Data = append(resp.Data, gatewayclient.EmbeddingData{
			Index:     i,
			Embedding: []float32{float32(i), 1, 2},
		})
	}
	return resp, nil
}

type publishedEvent struct {
	key   string
	stage string
	extra map[string]any
	isErr bool
}

type fakeEvents struct {
	events []publishedEvent
}

func (f *fakeEvents) Publish(_ context.Context, routingKey, stage, _ string, extra map[string]any) {
	f.events = append(f.events, publishedEvent{key: routingKey, stage: stage, extra: extra})
}

func (f *fakeEvents) Error(_ context.Context, routingKey, stage, _ string) {
	f.events = append(f.events, publishedEvent{key: routingKey, stage: stage, isErr: true})
}

func (f *fakeEvents) stages() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.stage
	}
	return out
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestWorker(t *testing.T, st *fakeStore, fetcher *fakeFetcher, emb *fakeEmbedder, ev *fakeEvents) *Worker {
	t.Helper()
	return &Worker{
		Store:           st,
		Objects:         fetcher,
		Embedder:        emb,
		Events:          ev,
		Extractors:      extract.DefaultManager(),
		Chunks:          chunk.DefaultConfig(),
		Metrics:         testMetrics(t),
		IngestorType:    "text-go",
		IngestorVersion: "1.0.0",
	}
}

func ingestBody(t *testing.T) []byte {
	t.Helper()
	return []byte(`{"sourceId":"s1","s3Key":"k1","mimeType":"text/markdown","jobKey":"j1","embeddingModel":"ts@v@jina/jina-clip-v2"}`)
}

func TestWorker_MarkdownIngest(t *testing.T) {
	// 2500 bytes of plain text paragraphs: expect three chunks.
	para := strings.Repeat("lorem ipsum dolor sit amet ", 18) // ~486 bytes
	text := strings.Join([]string{para, para, para, para, para}, "\n\n")

	st := &fakeStore{}
	emb := &fakeEmbedder{}
	ev := &fakeEvents{}
	w := newTestWorker(t, st, &fakeFetcher{data: []byte(text)}, emb, ev)

	err := w.Handle(context.Background(), amqp.Delivery{Body: ingestBody(t)})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if st.replacedSource != "s1" {
		t.Errorf("replaced source = %q", st.replacedSource)
	}
	if len(st.replaced) != 3 {
		t.Fatalf("vectors = %d, want 3", len(st.replaced))
	}
	for i, v := range st.replaced {
		if v.FileID != "s1" {
			t.Errorf("vector %d file id = %q", i, v.FileID)
		}
		if len(v.Embedding) != 3 {
			t.Errorf("vector %d embedding dim = %d", i, len(v.Embedding))
		}
	}
	// Chunk indices are byte offsets into the original text and must ascend.
	for i := 1; i < len(st.replaced); i++ {
		if st.replaced[i].ChunkIndex <= st.replaced[i-1].ChunkIndex {
			t.Errorf("chunk indices not ascending: %d then %d",
				st.replaced[i-1].ChunkIndex, st.replaced[i].ChunkIndex)
		}
	}

	// One batched embedding call with the pinned model.
	if len(emb.calls) != 1 {
		t.Fatalf("embed calls = %d, want 1", len(emb.calls))
	}
	if emb.models[0] != "ts@v@jina/jina-clip-v2" {
		t.Errorf("embed model = %q", emb.models[0])
	}

	want := []string{StageStarting, StageFetching, StageParsing, StageVectorizing, StageSaving, StageCompleted}
	got := ev.stages()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d = %q, want %q", i, got[i], want[i])
		}
	}
	for _, e := range ev.events {
		if e.key != "job.j1.status" {
			t.Errorf("routing key = %q, want job.j1.status", e.key)
		}
	}
}

func TestWorker_PoisonMessage(t *testing.T) {
	st := &fakeStore{}
	ev := &fakeEvents{}
	w := newTestWorker(t, st, &fakeFetcher{}, &fakeEmbedder{}, ev)

	err := w.Handle(context.Background(), amqp.Delivery{Body: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected error for empty message")
	}
	if len(st.replaced) != 0 || len(st.statusUpdates) != 0 {
		t.Error("poison message must not touch the store")
	}
}

func TestWorker_UnsupportedMime(t *testing.T) {
	st := &fakeStore{}
	emb := &fakeEmbedder{}
	ev := &fakeEvents{}
	w := newTestWorker(t, st, &fakeFetcher{data: []byte("data")}, emb, ev)

	body := []byte(`{"sourceId":"s1","s3Key":"k1","mimeType":"application/x-unknown","jobKey":"j1","embeddingModel":"m"}`)
	err := w.Handle(context.Background(), amqp.Delivery{Body: body})
	if err == nil {
		t.Fatal("expected error for unsupported mime type")
	}
	if len(emb.calls) != 0 {
		t.Error("no embedding call may happen before parsing succeeds")
	}
	if len(st.statusUpdates) != 1 || st.statusUpdates[0] != store.StatusFailed {
		t.Errorf("status updates = %v, want [FAILED]", st.statusUpdates)
	}
	last := ev.events[len(ev.events)-1]
	if last.stage != StageFailed || !last.isErr {
		t.Errorf("last event = %+v, want FAILED error event", last)
	}
}

func TestWorker_EmbeddingCountMismatch(t *testing.T) {
	st := &fakeStore{}
	emb := &fakeEmbedder{short: true}
	ev := &fakeEvents{}
	text := strings.Repeat("word ", 600) // two chunks
	w := newTestWorker(t, st, &fakeFetcher{data: []byte(text)}, emb, ev)

	err := w.Handle(context.Background(), amqp.Delivery{Body: ingestBody(t)})
	if err == nil {
		t.Fatal("expected error for embedding count mismatch")
	}
	if len(st.replaced) != 0 {
		t.Error("no rows may be written on a count mismatch")
	}
	if len(st.statusUpdates) != 1 || st.statusUpdates[0] != store.StatusFailed {
		t.Errorf("status updates = %v, want [FAILED]", st.statusUpdates)
	}
}

func TestWorker_EmptyExtraction(t *testing.T) {
	st := &fakeStore{}
	ev := &fakeEvents{}
	w := newTestWorker(t, st, &fakeFetcher{data: []byte("   \n\t ")}, &fakeEmbedder{}, ev)

	err := w.Handle(context.Background(), amqp.Delivery{Body: ingestBody(t)})
	if err == nil {
		t.Fatal("expected error for whitespace-only document")
	}
	if len(st.statusUpdates) != 1 || st.statusUpdates[0] != store.StatusFailed {
		t.Errorf("status updates = %v, want [FAILED]", st.statusUpdates)
	}
}

func TestWorker_FetchFailure(t *testing.T) {
	st := &fakeStore{}
	ev := &fakeEvents{}
	w := newTestWorker(t, st, &fakeFetcher{err: errors.New("bucket gone")}, &fakeEmbedder{}, ev)

	err := w.Handle(context.Background(), amqp.Delivery{Body: ingestBody(t)})
	if err == nil {
		t.Fatal("expected error when the fetch fails")
	}
	got := ev.stages()
	if got[len(got)-1] != StageFailed {
		t.Errorf("stages = %v, want FAILED last", got)
	}
}

func reingestBody() []byte {
	return []byte(`{"sourceId":"s1","jobKey":"j2","targetEmbeddingModel":"ts2@v@jina/jina-clip-v2"}`)
}

func TestReingester_UpdatesVectorsInPlace(t *testing.T) {
	st := &fakeStore{
		source: &store.Source{ID: "s1", Status: store.StatusCompleted},
		sourceVectors: []store.Vector{
			{ID: "vec_s1_0", FileID: "s1", Content: "first", ChunkIndex: 0},
			{ID: "vec_s1_1", FileID: "s1", Content: "second", ChunkIndex: 900},
		},
	}
	emb := &fakeEmbedder{}
	ev := &fakeEvents{}
	r := &Reingester{Store: st, Embedder: emb, Events: ev, Metrics: testMetrics(t)}

	err := r.Handle(context.Background(), amqp.Delivery{Body: reingestBody()})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if !st.reingestStarted {
		t.Error("reingestion start not stamped")
	}
	if len(st.updatedVectors) != 2 {
		t.Fatalf("updated vectors = %d, want 2", len(st.updatedVectors))
	}
	if st.updatedVectors[0].ID != "vec_s1_0" || st.updatedVectors[0].Content != "first" {
		t.Errorf("vector identity changed: %+v", st.updatedVectors[0])
	}
	if len(st.updatedVectors[0].Embedding) == 0 {
		t.Error("embedding not replaced")
	}
	if len(st.reingestResults) != 1 || st.reingestResults[0] != store.StatusCompleted {
		t.Errorf("reingest results = %v", st.reingestResults)
	}
	if emb.models[0] != "ts2@v@jina/jina-clip-v2" {
		t.Errorf("embed model = %q", emb.models[0])
	}

	want := []string{StageStartingReingest, StageFetchingChunks, StageVectorizing, StageSaving, StageCompleted}
	got := ev.stages()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReingester_SkipsCompletedSource(t *testing.T) {
	st := &fakeStore{
		source: &store.Source{
			ID:                "s1",
			Status:            store.StatusCompleted,
			ReingestionStatus: store.StatusCompleted,
		},
	}
	emb := &fakeEmbedder{}
	ev := &fakeEvents{}
	r := &Reingester{Store: st, Embedder: emb, Events: ev, Metrics: testMetrics(t)}

	err := r.Handle(context.Background(), amqp.Delivery{Body: reingestBody()})
	if err != nil {
		t.Fatalf("Handle must ack an already re-ingested source, got %v", err)
	}
	if len(emb.calls) != 0 {
		t.Error("skipped source must not be re-embedded")
	}
	if len(ev.events) != 1 || ev.events[0].stage != StageSkipped {
		t.Errorf("events = %+v, want single SKIPPED", ev.events)
	}
}

func TestReingester_FailureMarksResult(t *testing.T) {
	st := &fakeStore{
		source: &store.Source{ID: "s1", Status: store.StatusCompleted},
		// No stored vectors: the pipeline must fail at FETCHING_CHUNKS.
	}
	ev := &fakeEvents{}
	r := &Reingester{Store: st, Embedder: &fakeEmbedder{}, Events: ev, Metrics: testMetrics(t)}

	err := r.Handle(context.Background(), amqp.Delivery{Body: reingestBody()})
	if err == nil {
		t.Fatal("expected error for source without chunks")
	}
	if len(st.reingestResults) != 1 || st.reingestResults[0] != store.StatusFailed {
		t.Errorf("reingest results = %v, want [FAILED]", st.reingestResults)
	}
}
