package generate

import (
	"context"

	"github.com/fylr-ai/fylr/internal/store"
)

// DB adapts *store.Store to the generator store interfaces. SearchLibrary and
// LibraryVectors are promoted from the embedded store.
type DB struct {
	*store.Store
}

func (d DB) WithSummarySession(ctx context.Context, fn func(sess SummarySession) error) error {
	return d.Store.WithSession(ctx, func(sess *store.Session) error {
		return fn(sess)
	})
}

func (d DB) WithPodcastSession(ctx context.Context, fn func(sess PodcastSession) error) error {
	return d.Store.WithSession(ctx, func(sess *store.Session) error {
		return fn(sess)
	})
}
