package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/fylr-ai/fylr/internal/broker"
	"github.com/fylr-ai/fylr/internal/cluster"
	"github.com/fylr-ai/fylr/internal/gatewayclient"
	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/store"
	"github.com/fylr-ai/fylr/internal/wav"
)

// Podcast generation stages published on the status exchange.
const (
	StageClustering    = "CLUSTERING"
	StageSegmentFailed = "SEGMENT_FAILED"
	StageScripting     = "SCRIPTING"
	StageSynthesizing  = "SYNTHESIZING"
	StageUploading     = "UPLOADING"
)

// Prompt types the podcast generator addresses through the gateway.
const (
	segmentPromptType  = "podcast_segment"
	combinerPromptType = "podcast_script_combiner"
)

// maxGroupChunks caps how many chunks of one cluster feed a segment call.
const maxGroupChunks = 15

// defaultTTSProvider serves speech synthesis when none is configured.
const defaultTTSProvider = "elevenlabs"

// Segment is the structured outline one cluster of chunks condenses into.
type Segment struct {
	Title    string   `json:"title"`
	Keynotes []string `json:"keynotes"`
	Facts    []string `json:"facts"`
}

// Validate enforces the segment contract the prompt asks the model for.
func (s *Segment) Validate() error {
	var errs []error
	if l := len(s.Title); l < 15 || l > 80 {
		errs = append(errs, fmt.Errorf("title length %d outside [15, 80]", l))
	}
	if l := len(s.Keynotes); l < 2 || l > 7 {
		errs = append(errs, fmt.Errorf("%d keynotes outside [2, 7]", l))
	}
	for i, k := range s.Keynotes {
		if l := len(k); l < 10 || l > 100 {
			errs = append(errs, fmt.Errorf("keynote %d length %d outside [10, 100]", i, l))
		}
	}
	if l := len(s.Facts); l < 2 || l > 5 {
		errs = append(errs, fmt.Errorf("%d facts outside [2, 5]", l))
	}
	for i, f := range s.Facts {
		if l := len(f); l < 10 || l > 150 {
			errs = append(errs, fmt.Errorf("fact %d length %d outside [10, 150]", i, l))
		}
	}
	return errors.Join(errs...)
}

// PodcastSession is the transactional slice of the store the podcast
// generator writes through.
type PodcastSession interface {
	GetPodcast(ctx context.Context, id string) (*store.Podcast, error)
	SetPodcastEpisodeResult(ctx context.Context, episodeID, content, audioKey string) error
	SetPodcastGenerated(ctx context.Context, podcastID, state string) error
}

// PodcastStore opens podcast sessions and serves the library's chunk
// embeddings.
type PodcastStore interface {
	WithPodcastSession(ctx context.Context, fn func(sess PodcastSession) error) error
	LibraryVectors(ctx context.Context, libraryID string) ([]store.Vector, error)
}

// Uploader stores finished podcast audio.
type Uploader interface {
	UploadPodcast(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// PodcastGenerator turns a library into a two-host audio episode: chunks are
// clustered into themes, each theme is condensed into a structured segment,
// the segments are combined into a dialogue script, and every line is
// synthesised and stitched into one WAV.
type PodcastGenerator struct {
	Store   PodcastStore
	Chat    ChatClient
	Speech  SpeechClient
	Objects Uploader
	Events  Events
	Metrics *observe.Metrics

	// TTSProvider defaults to "elevenlabs" when empty.
	TTSProvider string

	// HostAVoice and HostBVoice are the provider voice ids per speaker.
	HostAVoice string
	HostBVoice string

	// Pacing is the pause between consecutive TTS calls, spacing requests
	// out below provider rate limits. Zero disables pacing.
	Pacing time.Duration
}

func (g *PodcastGenerator) EntityType() string { return "podcast" }

// Generate runs the podcast pipeline. Any failure past clustering aborts the
// whole job; a partially synthesised episode is never stitched or uploaded.
func (g *PodcastGenerator) Generate(ctx context.Context, id string) error {
	key := broker.EntityKey(g.EntityType(), id)
	start := time.Now()

	err := g.Store.WithPodcastSession(ctx, func(sess PodcastSession) error {
		pod, err := sess.GetPodcast(ctx, id)
		if err != nil {
			return err
		}
		if len(pod.Episodes) == 0 {
			return fmt.Errorf("podcast %s has no episode", id)
		}
		episode := pod.Episodes[0]
		g.Events.Publish(ctx, key, StageStarting, "podcast generation started", nil)

		vectors, err := g.Store.LibraryVectors(ctx, pod.LibraryID)
		if err != nil {
			return err
		}
		if len(vectors) == 0 {
			return fmt.Errorf("library %s has no vectors", pod.LibraryID)
		}

		g.Events.Publish(ctx, key, StageClustering, "grouping chunks",
			map[string]any{"chunks": len(vectors)})
		groups, err := groupVectors(vectors)
		if err != nil {
			return err
		}

		segments := g.buildSegments(ctx, key, pod.Title, groups)
		if len(segments) == 0 {
			return errors.New("no cluster produced a valid segment")
		}

		g.Events.Publish(ctx, key, StageScripting, "combining segments",
			map[string]any{"segments": len(segments)})
		lines, err := g.combineScript(ctx, pod.Title, segments)
		if err != nil {
			return err
		}

		g.Events.Publish(ctx, key, StageSynthesizing, "synthesising speech",
			map[string]any{"lines": len(lines)})
		clips, err := g.synthesize(ctx, lines)
		if err != nil {
			return err
		}

		payload, err := wav.Stitch(clips, wav.DefaultGap)
		if err != nil {
			return err
		}

		g.Events.Publish(ctx, key, StageUploading, "uploading audio", nil)
		audioKey := fmt.Sprintf("%s/%s.wav", pod.ID, uuid.NewString())
		if _, err := g.Objects.UploadPodcast(ctx, audioKey, payload, "audio/wav"); err != nil {
			return err
		}

		script := FormatScript(lines)
		if err := sess.SetPodcastEpisodeResult(ctx, episode.ID, script, audioKey); err != nil {
			return err
		}
		if err := sess.SetPodcastGenerated(ctx, id, store.StatusCompleted); err != nil {
			return err
		}
		g.Events.Publish(ctx, key, StageCompleted, "podcast generated",
			map[string]any{"audioKey": audioKey})
		return nil
	})

	if g.Metrics != nil {
		g.Metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("entity", g.EntityType())))
	}
	return err
}

// MarkFailed records the FAILED state outside the rolled-back pipeline
// transaction.
func (g *PodcastGenerator) MarkFailed(ctx context.Context, id string) error {
	return g.Store.WithPodcastSession(ctx, func(sess PodcastSession) error {
		return sess.SetPodcastGenerated(ctx, id, store.StatusFailed)
	})
}

// groupVectors clusters the chunk embeddings and buckets the chunks by label.
func groupVectors(vectors []store.Vector) ([][]store.Vector, error) {
	embeddings := make([][]float32, len(vectors))
	for i, v := range vectors {
		embeddings[i] = v.Embedding
	}
	res, err := cluster.Cluster(embeddings, cluster.DefaultConfig())
	if err != nil {
		return nil, err
	}

	groups := make([][]store.Vector, res.K)
	for i, label := range res.Labels {
		groups[label] = append(groups[label], vectors[i])
	}
	return groups, nil
}

// buildSegments condenses each cluster into a structured segment. Clusters
// whose segment call fails or validates badly are reported and skipped.
func (g *PodcastGenerator) buildSegments(ctx context.Context, key, title string, groups [][]store.Vector) []Segment {
	var segments []Segment
	for i, group := range groups {
		if len(group) == 0 {
			continue
		}
		seg, err := g.segment(ctx, title, group)
		if err != nil {
			observe.Logger(ctx).Warn("podcast segment failed", "cluster", i, "err", err)
			g.Events.Error(ctx, key, StageSegmentFailed,
				fmt.Sprintf("cluster %d: %s", i, err))
			continue
		}
		segments = append(segments, *seg)
	}
	return segments
}

// segment runs one podcast_segment call over a cluster's chunks.
func (g *PodcastGenerator) segment(ctx context.Context, title string, group []store.Vector) (*Segment, error) {
	if len(group) > maxGroupChunks {
		group = group[:maxGroupChunks]
	}
	contents := make([]string, len(group))
	for i, v := range group {
		contents[i] = v.Content
	}

	resp, err := g.Chat.Chat(ctx, chatPromptRequest(segmentPromptType, map[string]any{
		"podcast_title":   title,
		"context_content": strings.Join(contents, "\n\n"),
	}))
	if err != nil {
		return nil, err
	}

	var seg Segment
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content())), &seg); err != nil {
		return nil, fmt.Errorf("parse segment response: %w", err)
	}
	if err := seg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segment: %w", err)
	}
	return &seg, nil
}

// combineScript turns the segments into a parsed two-host dialogue.
func (g *PodcastGenerator) combineScript(ctx context.Context, title string, segments []Segment) ([]ScriptLine, error) {
	outline, err := json.Marshal(segments)
	if err != nil {
		return nil, fmt.Errorf("marshal segments: %w", err)
	}

	resp, err := g.Chat.Chat(ctx, chatPromptRequest(combinerPromptType, map[string]any{
		"podcast_title": title,
		"segments":      string(outline),
	}))
	if err != nil {
		return nil, fmt.Errorf("combiner call: %w", err)
	}

	lines, dropped := ParseScript(resp.Content())
	if dropped > 0 {
		observe.Logger(ctx).Warn("script lines dropped", "dropped", dropped, "kept", len(lines))
	}
	if len(lines) == 0 {
		return nil, errors.New("combined script contains no dialogue lines")
	}
	return lines, nil
}

// synthesize converts every script line into a decoded clip. A single TTS
// failure aborts the job.
func (g *PodcastGenerator) synthesize(ctx context.Context, lines []ScriptLine) ([]*wav.Clip, error) {
	provider := g.TTSProvider
	if provider == "" {
		provider = defaultTTSProvider
	}

	clips := make([]*wav.Clip, 0, len(lines))
	for i, line := range lines {
		if i > 0 && g.Pacing > 0 {
			if err := sleepCtx(ctx, g.Pacing); err != nil {
				return nil, err
			}
		}

		voice := g.HostAVoice
		if line.Speaker == HostB {
			voice = g.HostBVoice
		}
		data, _, err := g.Speech.Speak(ctx, gatewayclient.TTSRequest{
			Provider: provider,
			Text:     line.Text,
			Voice:    voice,
		})
		if err != nil {
			return nil, fmt.Errorf("synthesise line %d: %w", i, err)
		}
		clip, err := wav.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode line %d audio: %w", i, err)
		}
		clips = append(clips, clip)
	}
	return clips, nil
}

// stripCodeFence unwraps a ```json fenced block if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
