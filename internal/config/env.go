package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
)

// ApplyEnv overrides cfg with any recognised environment variables that are set.
// A value that does not parse yields a ConfigError naming the variable.
func ApplyEnv(cfg *Config) error {
	var problems ValidationErrors

	setInt := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			problems = append(problems, ValidationError{Field: key, Message: "must be an integer"})
			return
		}
		*dst = n
	}
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	setInt("CHUNK_SIZE", &cfg.Chunking.Size)
	setInt("CHUNK_OVERLAP", &cfg.Chunking.Overlap)
	setInt("RETRIEVAL_K", &cfg.Retrieval.K)
	setInt("MAX_GENERATION_TOKENS", &cfg.Generation.MaxTokens)
	setInt("EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)
	setString("EMBEDDING_MODEL_ID", &cfg.Embedding.ModelID)
	setString("EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	setString("GENERATION_MODEL_ID", &cfg.Generation.ModelID)
	setString("GENERATION_PROVIDER", &cfg.Generation.Provider)
	setString("VECTOR_STORE_PATH", &cfg.Store.Path)
	setString("VECTOR_STORE_BACKEND", &cfg.Store.Backend)
	setString("DATABASE_URL", &cfg.Store.DatabaseURL)
	setString("TAGGER_PATTERNS_PATH", &cfg.Tagger.PatternsPath)

	if v, ok := lookup("OLLAMA_URL"); ok {
		cfg.Embedding.BaseURL = v
		cfg.Generation.BaseURL = v
	}
	setString("OPENAI_API_KEY", &cfg.Credentials.OpenAIKey)
	setString("HUGGINGFACEHUB_API_TOKEN", &cfg.Credentials.HuggingFaceToken)
	if v, ok := lookup("GENERATION_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			problems = append(problems, ValidationError{Field: "GENERATION_TIMEOUT", Message: "must be a duration such as 90s"})
		} else {
			cfg.Generation.Timeout = d
		}
	}
	if v, ok := lookup("MEDQUERY_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, ValidationError{Field: "MEDQUERY_DEBUG", Message: "must be a boolean"})
		} else {
			cfg.Debug = b
		}
	}

	if len(problems) > 0 {
		return apperr.Wrap(apperr.ConfigError, "config.ApplyEnv", problems)
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
