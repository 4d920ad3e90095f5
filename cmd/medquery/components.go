package main

import (
	"context"
	"fmt"

	"github.com/RohitChoukiker/medQuery/internal/config"
	"github.com/RohitChoukiker/medQuery/internal/embedding"
	"github.com/RohitChoukiker/medQuery/internal/ingest"
	"github.com/RohitChoukiker/medQuery/internal/rag"
	"github.com/RohitChoukiker/medQuery/internal/segment"
	"github.com/RohitChoukiker/medQuery/internal/tagger"
	"github.com/RohitChoukiker/medQuery/internal/vector"
	"go.uber.org/zap"
)

// Components holds everything a command needs, built once from config.
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Embedder  embedding.Embedder
	Store     vector.Store
	Segmenter *segment.Segmenter
	Tagger    *tagger.Tagger
	Chain     *rag.Chain
}

// initializeComponents builds the embedder, store, segmenter and tagger. The
// generator and chain are only built when withChain is set, so ingestion
// works without a reachable language model.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withChain bool) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger}

	emb, err := embedding.New(ctx, cfg.Embedding, cfg.Credentials, embedding.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	c.Embedder = emb

	store, err := vector.Open(ctx, cfg.Store, emb.Dimensions(), vector.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	c.Store = store

	seg, err := segment.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Segmenter = seg

	tg, err := newTagger(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Tagger = tg

	if !withChain {
		return c, nil
	}
	gen, err := rag.NewGenerator(cfg.Generation, cfg.Credentials)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	if err := rag.CheckGenerator(ctx, gen, cfg.Generation.Timeout); err != nil {
		c.Close()
		return nil, fmt.Errorf("generation backend %s (%s) is not usable: %w", cfg.Generation.Provider, cfg.Generation.ModelID, err)
	}
	chain, err := rag.NewChain(emb, store, gen,
		rag.WithK(cfg.Retrieval.K),
		rag.WithMaxTokens(cfg.Generation.MaxTokens),
		rag.WithTimeout(cfg.Generation.Timeout),
		rag.WithTagger(tg),
		rag.WithLogger(logger),
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Chain = chain
	return c, nil
}

// newTagger loads the pattern registry and, unless disabled, the NER model.
func newTagger(cfg *config.Config, logger *zap.Logger) (*tagger.Tagger, error) {
	reg, err := tagger.LoadRegistry(cfg.Tagger.PatternsPath)
	if err != nil {
		return nil, err
	}
	opts := []tagger.Option{
		tagger.WithKeywordLimit(cfg.Tagger.KeywordLimit),
		tagger.WithLogger(logger),
	}
	if cfg.Tagger.NEROrDefault() {
		ner, err := tagger.NewProseNER()
		if err != nil {
			logger.Warn("NER model unavailable, tagging without entities", zap.Error(err))
		} else {
			opts = append(opts, tagger.WithNER(ner))
		}
	}
	return tagger.New(reg, opts...), nil
}

// Pipeline returns an ingestion pipeline over the components' store.
func (c *Components) Pipeline(opts ...ingest.Option) *ingest.Pipeline {
	base := []ingest.Option{
		ingest.WithExtensions(c.Config.Ingest.Extensions),
		ingest.WithBatchSize(c.Config.Embedding.BatchSize),
		ingest.WithLogger(c.Logger),
	}
	return ingest.New(c.Segmenter, c.Embedder, c.Store, append(base, opts...)...)
}

// Close releases the store and the embedder.
func (c *Components) Close() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.Logger.Warn("failed to close vector store", zap.Error(err))
		}
	}
	if c.Embedder != nil {
		if err := c.Embedder.Close(); err != nil {
			c.Logger.Warn("failed to close embedder", zap.Error(err))
		}
	}
}
