// Package vector stores chunk embeddings and answers nearest-neighbour queries.
package vector

import (
	"context"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/models"
	"go.uber.org/zap"
)

// Store persists entries and searches them by cosine similarity. Search is
// safe to call concurrently with itself and with Upsert.
type Store interface {
	// Upsert appends entries. If any vector's dimension differs from the
	// store's, nothing is written and the error is DimensionMismatch.
	Upsert(ctx context.Context, entries []models.Entry) error
	// Search returns up to k hits, best first. Ties go to the earlier entry.
	Search(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error)
	// Persist flushes to durable storage. Calling it twice is harmless.
	Persist(ctx context.Context) error
	// Reset deletes every entry, for a full corpus rebuild.
	Reset(ctx context.Context) error
	Count() int
	// Dimensions is 0 until the first entry fixes it.
	Dimensions() int
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	reloadInterval time.Duration
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReloadInterval sets how often a DiskStore checks whether another
// process has rewritten its files (default 1s). 0 checks on every Count and
// Search; a negative value disables the check.
func WithReloadInterval(d time.Duration) Option {
	return func(o *options) { o.reloadInterval = d }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), reloadInterval: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
