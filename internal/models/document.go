// Package models defines the core data structures shared by ingestion, storage, and answering.
package models

// Metadata keys attached to every chunk by the segmenter and ingestion pipeline.
const (
	MetaSource     = "source"
	MetaOffset     = "offset"
	MetaChunkIndex = "chunk_index"
	MetaDocumentID = "document_id"
)

// Document is raw text read from one source file. It lives only for the
// duration of an ingestion run.
type Document struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Chunk is a contiguous span of a Document's text.
type Chunk struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Entry is what the vector store persists: chunk text, its embedding, and metadata.
// Entries are never mutated after they are written.
type Entry struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Vector   []float32         `json:"-"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScoredChunk is a single retrieval hit.
type ScoredChunk struct {
	ID       string            `json:"-"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// Answer is generated text plus the chunks it was grounded on.
type Answer struct {
	Text     string        `json:"answer"`
	Sources  []ScoredChunk `json:"sources"`
	Category string        `json:"category,omitempty"`
}
