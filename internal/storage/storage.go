// Package storage persists chunk text and metadata next to the vector file.
package storage

import "context"

// ChunkRecord is one persisted chunk. Seq is the insertion position, used to
// break search ties in favour of earlier entries.
type ChunkRecord struct {
	ID         string
	DocumentID string
	Seq        int64
	Text       string
	Metadata   map[string]string
}

// Storage defines chunk persistence operations.
type Storage interface {
	// BatchCreateChunks inserts chunks. Rows whose ID already exists are left untouched.
	BatchCreateChunks(ctx context.Context, chunks []*ChunkRecord) error
	GetChunk(ctx context.Context, id string) (*ChunkRecord, error)
	// ListChunks returns every chunk ordered by Seq.
	ListChunks(ctx context.Context) ([]*ChunkRecord, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*ChunkRecord, error)
	DeleteAll(ctx context.Context) error

	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
