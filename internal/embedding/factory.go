package embedding

import (
	"context"
	"fmt"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/config"
	"go.uber.org/zap"
)

// Option configures New.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used while constructing the embedder.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New builds the embedder selected by cfg.Provider. Remote providers are
// embedded once so the dimension is known before any vector reaches the store.
// Everything except the hashing embedder is wrapped in an LRU cache.
func New(ctx context.Context, cfg config.EmbeddingConfig, creds config.Credentials, opts ...Option) (Embedder, error) {
	const op = "embedding.New"
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		emb Embedder
		err error
	)
	switch cfg.Provider {
	case "hash":
		return NewHashEmbedder(cfg.Dimensions), nil
	case "onnx":
		emb, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case "ollama":
		emb, err = NewOllamaEmbedder(cfg.ModelID, cfg.BaseURL, cfg.BatchSize)
	case "huggingface":
		emb, err = NewHuggingFaceEmbedder(cfg.ModelID, creds.HuggingFaceToken, cfg.BaseURL, cfg.BatchSize)
	case "openai":
		emb, err = NewOpenAIEmbedder(creds.OpenAIKey, cfg.ModelID, cfg.BaseURL, cfg.BatchSize)
	default:
		return nil, apperr.Errorf(apperr.ConfigError, op, "unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.ModelUnavailable {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.ModelUnavailable, op, err)
	}

	if emb.Dimensions() == 0 {
		if _, err := emb.Embed(ctx, "dimension check"); err != nil {
			_ = emb.Close()
			return nil, apperr.Errorf(apperr.ModelUnavailable, op, "check %s model %q: %w", cfg.Provider, cfg.ModelID, err)
		}
	}
	if cfg.Dimensions > 0 && emb.Dimensions() != cfg.Dimensions {
		_ = emb.Close()
		return nil, apperr.Errorf(apperr.ConfigError, op,
			"embedding model produces %d dimensions, configuration says %d", emb.Dimensions(), cfg.Dimensions)
	}
	o.logger.Info("embedding model ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", modelName(cfg)),
		zap.Int("dimensions", emb.Dimensions()),
	)
	return Cached(emb, cfg.CacheSize), nil
}

func modelName(cfg config.EmbeddingConfig) string {
	if cfg.Provider == "onnx" {
		return fmt.Sprintf("%s (%s)", cfg.ModelID, cfg.ModelPath)
	}
	return cfg.ModelID
}
