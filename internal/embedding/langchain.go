package embedding

import (
	"context"
	"fmt"

	"github.com/RohitChoukiker/medQuery/pkg/utils"
	"github.com/tmc/langchaingo/embeddings"
	hfembed "github.com/tmc/langchaingo/embeddings/huggingface"
	"github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangChainEmbedder adapts a langchaingo embeddings.Embedder. Returned vectors
// are L2-normalised.
type LangChainEmbedder struct {
	inner      embeddings.Embedder
	dimensions int
}

// NewLangChainEmbedder wraps inner. A zero dimensions value is filled in by
// the first call to Embed.
func NewLangChainEmbedder(inner embeddings.Embedder, dimensions int) *LangChainEmbedder {
	return &LangChainEmbedder{inner: inner, dimensions: dimensions}
}

// NewOllamaEmbedder embeds through an Ollama server.
func NewOllamaEmbedder(model, serverURL string, batchSize int) (*LangChainEmbedder, error) {
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return NewLangChainEmbedder(emb, 0), nil
}

// NewHuggingFaceEmbedder embeds through the Hugging Face inference API.
func NewHuggingFaceEmbedder(model, token, baseURL string, batchSize int) (*LangChainEmbedder, error) {
	opts := []huggingface.Option{huggingface.WithToken(token), huggingface.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, huggingface.WithURL(baseURL))
	}
	client, err := huggingface.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("huggingface client: %w", err)
	}
	emb, err := hfembed.NewHuggingface(
		hfembed.WithClient(*client),
		hfembed.WithModel(model),
		hfembed.WithBatchSize(batchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("huggingface embedder: %w", err)
	}
	return NewLangChainEmbedder(emb, 0), nil
}

func (e *LangChainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	utils.NormalizeL2(v)
	if e.dimensions == 0 {
		e.dimensions = len(v)
	}
	return v, nil
}

func (e *LangChainEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for _, v := range vecs {
		utils.NormalizeL2(v)
	}
	return vecs, nil
}

func (e *LangChainEmbedder) Dimensions() int { return e.dimensions }

func (e *LangChainEmbedder) Close() error { return nil }
