package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Episode is one child unit of a Summary or Podcast.
type Episode struct {
	ID      string
	Title   string
	Focus   string
	Content string

	// AudioKey is set on podcast episodes after upload.
	AudioKey string
}

// Summary is a text-generation job over a library.
type Summary struct {
	ID        string
	LibraryID string
	Title     string
	Length    int64
	Generated string
	Episodes  []Episode
}

// Podcast is an audio-generation job over a library.
type Podcast struct {
	ID        string
	LibraryID string
	Title     string
	Length    int64
	Generated string
	Episodes  []Episode
}

// GetSummary loads a Summary with its episodes.
func (sess *Session) GetSummary(ctx context.Context, id string) (*Summary, error) {
	const q = `
		SELECT id, library_id, title, length, COALESCE(generated, '')
		FROM   "Summary"
		WHERE  id = $1`

	var sum Summary
	err := sess.tx.QueryRow(ctx, q, id).Scan(&sum.ID, &sum.LibraryID, &sum.Title, &sum.Length, &sum.Generated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: summary %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get summary: %w", err)
	}

	sum.Episodes, err = sess.episodes(ctx, `
		SELECT id, title, COALESCE(focus, ''), content, ''
		FROM   "SummaryEpisode"
		WHERE  summary_id = $1
		ORDER  BY created_at`, id)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// GetPodcast loads a Podcast with its episodes.
func (sess *Session) GetPodcast(ctx context.Context, id string) (*Podcast, error) {
	const q = `
		SELECT id, library_id, title, length, COALESCE(generated, '')
		FROM   "Podcast"
		WHERE  id = $1`

	var pod Podcast
	err := sess.tx.QueryRow(ctx, q, id).Scan(&pod.ID, &pod.LibraryID, &pod.Title, &pod.Length, &pod.Generated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: podcast %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get podcast: %w", err)
	}

	pod.Episodes, err = sess.episodes(ctx, `
		SELECT id, title, COALESCE(focus, ''), content, COALESCE(audio_key, '')
		FROM   "PodcastEpisode"
		WHERE  podcast_id = $1
		ORDER  BY created_at`, id)
	if err != nil {
		return nil, err
	}
	return &pod, nil
}

func (sess *Session) episodes(ctx context.Context, q, parentID string) ([]Episode, error) {
	rows, err := sess.tx.Query(ctx, q, parentID)
	if err != nil {
		return nil, fmt.Errorf("store: load episodes: %w", err)
	}
	episodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Episode, error) {
		var e Episode
		err := row.Scan(&e.ID, &e.Title, &e.Focus, &e.Content, &e.AudioKey)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: collect episodes: %w", err)
	}
	return episodes, nil
}

// SetSummaryEpisodeContent persists generated text on a summary episode.
func (sess *Session) SetSummaryEpisodeContent(ctx context.Context, episodeID, content string) error {
	return sess.exec(ctx,
		`UPDATE "SummaryEpisode" SET content = $2 WHERE id = $1`, episodeID, content)
}

// SetSummaryGenerated records the final state of a summary job.
func (sess *Session) SetSummaryGenerated(ctx context.Context, summaryID, state string) error {
	return sess.exec(ctx,
		`UPDATE "Summary" SET generated = $2 WHERE id = $1`, summaryID, state)
}

// SetPodcastEpisodeResult persists the script and audio key on a podcast
// episode.
func (sess *Session) SetPodcastEpisodeResult(ctx context.Context, episodeID, content, audioKey string) error {
	return sess.exec(ctx,
		`UPDATE "PodcastEpisode" SET content = $2, audio_key = $3 WHERE id = $1`,
		episodeID, content, audioKey)
}

// SetPodcastGenerated records the final state of a podcast job.
func (sess *Session) SetPodcastGenerated(ctx context.Context, podcastID, state string) error {
	return sess.exec(ctx,
		`UPDATE "Podcast" SET generated = $2 WHERE id = $1`, podcastID, state)
}

func (sess *Session) exec(ctx context.Context, q string, args ...any) error {
	tag, err := sess.tx.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("store: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no row updated", ErrNotFound)
	}
	return nil
}
