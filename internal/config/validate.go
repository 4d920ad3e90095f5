package config

import (
	"fmt"
	"strings"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

var (
	embeddingProviders  = []string{"onnx", "ollama", "huggingface", "openai", "hash"}
	generationProviders = []string{"ollama", "huggingface", "openai"}
	storeBackends       = []string{"disk", "pgvector"}
)

// Validate checks cfg and returns a ConfigError wrapping ValidationErrors when
// anything is wrong.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Chunking.Size <= 0 {
		errs = append(errs, ValidationError{Field: "chunking.size", Message: "must be positive"})
	}
	if c.Chunking.Overlap < 0 {
		errs = append(errs, ValidationError{Field: "chunking.overlap", Message: "must not be negative"})
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, ValidationError{
			Field:   "chunking.overlap",
			Message: fmt.Sprintf("must be smaller than chunking.size (%d >= %d)", c.Chunking.Overlap, c.Chunking.Size),
		})
	}
	if c.Retrieval.K < 1 {
		errs = append(errs, ValidationError{Field: "retrieval.k", Message: "must be at least 1"})
	}
	if c.Generation.MaxTokens < 1 {
		errs = append(errs, ValidationError{Field: "generation.max_tokens", Message: "must be at least 1"})
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "generation.temperature", Message: "must be between 0 and 2"})
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, ValidationError{Field: "generation.timeout", Message: "must be positive"})
	}
	if !contains(embeddingProviders, c.Embedding.Provider) {
		errs = append(errs, ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unknown provider %q (supported: %s)", c.Embedding.Provider, strings.Join(embeddingProviders, ", ")),
		})
	}
	if c.Embedding.Dimensions < 0 {
		errs = append(errs, ValidationError{Field: "embedding.dimensions", Message: "must not be negative"})
	}
	if c.Embedding.BatchSize < 1 {
		errs = append(errs, ValidationError{Field: "embedding.batch_size", Message: "must be at least 1"})
	}
	if !contains(generationProviders, c.Generation.Provider) {
		errs = append(errs, ValidationError{
			Field:   "generation.provider",
			Message: fmt.Sprintf("unknown provider %q (supported: %s)", c.Generation.Provider, strings.Join(generationProviders, ", ")),
		})
	}
	if !contains(storeBackends, c.Store.Backend) {
		errs = append(errs, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unknown backend %q (supported: %s)", c.Store.Backend, strings.Join(storeBackends, ", ")),
		})
	}
	if c.Store.Backend == "pgvector" && c.Store.DatabaseURL == "" {
		errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required for the pgvector backend"})
	}
	if c.Store.Backend == "disk" && c.Store.Path == "" {
		errs = append(errs, ValidationError{Field: "store.path", Message: "required for the disk backend"})
	}
	if c.Tagger.KeywordLimit < 1 {
		errs = append(errs, ValidationError{Field: "tagger.keyword_limit", Message: "must be at least 1"})
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return apperr.Wrap(apperr.ConfigError, "config.Validate", errs)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
