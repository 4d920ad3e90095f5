// Package embedding maps text to fixed-dimension dense vectors.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations are
// deterministic for a fixed model and return L2-normalised vectors, so inner
// product equals cosine similarity.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
