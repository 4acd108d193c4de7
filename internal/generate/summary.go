package generate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/fylr-ai/fylr/internal/broker"
	"github.com/fylr-ai/fylr/internal/observe"
	"github.com/fylr-ai/fylr/internal/store"
)

// Summary generation stages published on the status exchange.
const (
	StageStarting        = "STARTING"
	StageEpisodeComplete = "EPISODE_COMPLETE"
	StageEpisodeFailed   = "EPISODE_FAILED"
	StageCompleted       = "COMPLETED"
)

// Prompt types the summary generator addresses through the gateway.
const (
	keywordsPromptType = "summary_keywords"
	episodePromptType  = "episode_summary"
)

const (
	// searchKeywords caps how many extracted keywords drive vector searches.
	searchKeywords = 3

	// searchLimit is the per-keyword search result count.
	searchLimit = 5

	// contextChunks caps the deduplicated chunks fed to the synthesis call.
	contextChunks = 10
)

// SummarySession is the transactional slice of the store the summary
// generator writes through.
type SummarySession interface {
	GetSummary(ctx context.Context, id string) (*store.Summary, error)
	SetSummaryEpisodeContent(ctx context.Context, episodeID, content string) error
	SetSummaryGenerated(ctx context.Context, summaryID, state string) error
}

// SummaryStore opens summary sessions and serves library-scoped search.
type SummaryStore interface {
	WithSummarySession(ctx context.Context, fn func(sess SummarySession) error) error
	SearchLibrary(ctx context.Context, libraryID string, embedding []float32, limit int) ([]store.SearchResult, error)
}

// SummaryGenerator writes one text summary per episode of a Summary entity.
// Each episode gets its own retrieval pass: keywords are extracted from the
// episode's title and focus, the top chunks for those keywords are gathered
// from the library, and a synthesis call turns them into the episode text.
type SummaryGenerator struct {
	Store    SummaryStore
	Chat     ChatClient
	Embedder Embedder
	Events   Events
	Metrics  *observe.Metrics
}

func (g *SummaryGenerator) EntityType() string { return "summary" }

// Generate runs the summary pipeline. Individual episode failures are
// published and skipped; the job only fails when no episode produced content.
func (g *SummaryGenerator) Generate(ctx context.Context, id string) error {
	key := broker.EntityKey(g.EntityType(), id)
	start := time.Now()

	err := g.Store.WithSummarySession(ctx, func(sess SummarySession) error {
		sum, err := sess.GetSummary(ctx, id)
		if err != nil {
			return err
		}
		if len(sum.Episodes) == 0 {
			return fmt.Errorf("summary %s has no episodes", id)
		}
		g.Events.Publish(ctx, key, StageStarting, "summary generation started",
			map[string]any{"episodes": len(sum.Episodes)})

		produced := 0
		for _, ep := range sum.Episodes {
			content, err := g.episodeContent(ctx, sum.LibraryID, ep)
			if err != nil {
				observe.Logger(ctx).Warn("episode summary failed",
					"summary", id, "episode", ep.ID, "err", err)
				g.Events.Error(ctx, key, StageEpisodeFailed,
					fmt.Sprintf("episode %s: %s", ep.ID, err))
				continue
			}
			if err := sess.SetSummaryEpisodeContent(ctx, ep.ID, content); err != nil {
				return err
			}
			g.Events.Publish(ctx, key, StageEpisodeComplete, ep.Title,
				map[string]any{"episodeId": ep.ID})
			produced++
		}

		if produced == 0 {
			return errors.New("no episode produced content")
		}
		if err := sess.SetSummaryGenerated(ctx, id, store.StatusCompleted); err != nil {
			return err
		}
		g.Events.Publish(ctx, key, StageCompleted, "summary generated",
			map[string]any{"episodesCompleted": produced})
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
func (g *SummaryGenerator) MarkFailed(ctx context.Context, id string) error {
	return g.Store.WithSummarySession(ctx, func(sess SummarySession) error {
		return sess.SetSummaryGenerated(ctx, id, store.StatusFailed)
	})
}

// episodeContent produces the text for one episode.
func (g *SummaryGenerator) episodeContent(ctx context.Context, libraryID string, ep store.Episode) (string, error) {
	keywords, err := g.extractKeywords(ctx, ep)
	if err != nil {
		return "", err
	}

	results, err := g.searchChunks(ctx, libraryID, keywords)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", errors.New("no relevant chunks found")
	}

	resp, err := g.Chat.Chat(ctx, chatPromptRequest(episodePromptType, map[string]any{
		"episode_title":   ep.Title,
		"focus":           ep.Focus,
		"context_content": formatContext(results),
	}))
	if err != nil {
		return "", fmt.Errorf("synthesis call: %w", err)
	}
	content := strings.TrimSpace(resp.Content())
	if content == "" {
		return "", errors.New("synthesis returned empty content")
	}
	return content, nil
}

// extractKeywords asks the LLM for search keywords describing the episode.
func (g *SummaryGenerator) extractKeywords(ctx context.Context, ep store.Episode) ([]string, error) {
	resp, err := g.Chat.Chat(ctx, chatPromptRequest(keywordsPromptType, map[string]any{
		"episode_title": ep.Title,
		"focus":         ep.Focus,
	}))
	if err != nil {
		return nil, fmt.Errorf("keyword call: %w", err)
	}
	keywords := parseKeywords(resp.Content())
	if len(keywords) == 0 {
		return nil, errors.New("keyword call returned no usable keywords")
	}
	if len(keywords) > searchKeywords {
		keywords = keywords[:searchKeywords]
	}
	return keywords, nil
}

// searchChunks embeds each keyword, searches the library, and returns the
// closest chunks deduplicated across keywords.
func (g *SummaryGenerator) searchChunks(ctx context.Context, libraryID string, keywords []string) ([]store.SearchResult, error) {
	seen := make(map[string]struct{})
	var merged []store.SearchResult
	for _, kw := range keywords {
		emb, err := g.Embedder.Embed(ctx, "", []string{kw})
		if err != nil {
			return nil, fmt.Errorf("embed keyword %q: %w", kw, err)
		}
		vectors := emb.Vectors()
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("embed keyword %q: empty embedding", kw)
		}
		results, err := g.Store.SearchLibrary(ctx, libraryID, vectors[0], searchLimit)
		if err != nil {
			return nil, fmt.Errorf("search keyword %q: %w", kw, err)
		}
		for _, r := range results {
			if _, ok := seen[r.VectorID]; ok {
				continue
			}
			seen[r.VectorID] = struct{}{}
			merged = append(merged, r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})
	if len(merged) > contextChunks {
		merged = merged[:contextChunks]
	}
	return merged, nil
}

// formatContext renders search results as named document blocks for the
// synthesis prompt.
func formatContext(results []store.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<document name='%s'>\n%s\n</document>", r.SourceName, r.Content)
	}
	return b.String()
}

// parseKeywords splits an LLM keyword listing into clean keyword strings.
// The model is asked for a short list but may answer with bullets, numbering,
// or a comma-separated line.
func parseKeywords(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == ','
	})

	seen := make(map[string]struct{})
	var out []string
	for _, f := range fields {
		kw := strings.TrimSpace(f)
		kw = strings.TrimLeft(kw, "-*0123456789.) ")
		kw = strings.Trim(kw, `"'`)
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower := strings.ToLower(kw)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, kw)
	}
	return out
}
