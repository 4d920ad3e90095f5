package config

import "time"

// Default model identifiers match the models the corpus was originally built with.
const (
	DefaultEmbeddingModel  = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultGenerationModel = "BioMistral/BioMistral-7B"

	defaultOllamaURL = "http://localhost:11434"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 180 * time.Second
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(cfg.Server.RateLimit) + 1
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 512
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 50
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelID == "" {
		cfg.Embedding.ModelID = DefaultEmbeddingModel
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 && (cfg.Embedding.Provider == "onnx" || cfg.Embedding.Provider == "hash") {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == "ollama" {
		cfg.Embedding.BaseURL = defaultOllamaURL
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "ollama"
	}
	if cfg.Generation.ModelID == "" {
		cfg.Generation.ModelID = DefaultGenerationModel
	}
	if cfg.Generation.BaseURL == "" && cfg.Generation.Provider == "ollama" {
		cfg.Generation.BaseURL = defaultOllamaURL
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 512
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.2
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 120 * time.Second
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 4
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "disk"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data/vectorstore"
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = "medquery_chunks"
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".pdf", ".txt", ".md", ".docx", ".odt", ".rtf", ".xlsx"}
	}
	if cfg.Tagger.KeywordLimit == 0 {
		cfg.Tagger.KeywordLimit = 10
	}
}
