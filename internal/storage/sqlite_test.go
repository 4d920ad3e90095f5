package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStorage_Chunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	chunks := []*ChunkRecord{
		{ID: "c2", DocumentID: "d1", Seq: 1, Text: "chunk2", Metadata: map[string]string{"source": "a.txt"}},
		{ID: "c1", DocumentID: "d1", Seq: 0, Text: "chunk1"},
		{ID: "c3", DocumentID: "d2", Seq: 2, Text: "chunk3"},
	}
	if err := store.BatchCreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	list, err := store.ListChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(list))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if list[i].ID != want {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID, want)
		}
	}

	got, err := store.GetChunk(ctx, "c2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "chunk2" || got.Metadata["source"] != "a.txt" {
		t.Errorf("got %+v", got)
	}
	if _, err := store.GetChunk(ctx, "missing"); err == nil {
		t.Error("expected error for missing chunk")
	}

	byDoc, err := store.GetChunksByDocumentID(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byDoc) != 2 {
		t.Errorf("expected 2 chunks for d1, got %d", len(byDoc))
	}
}

func TestSQLiteStorage_InsertIsIdempotent(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "idem.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	c := []*ChunkRecord{{ID: "x", DocumentID: "d", Seq: 0, Text: "first"}}
	if err := store.BatchCreateChunks(ctx, c); err != nil {
		t.Fatal(err)
	}
	c[0].Text = "second"
	if err := store.BatchCreateChunks(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetChunk(ctx, "x")
	if got.Text != "first" {
		t.Errorf("existing row was overwritten: %q", got.Text)
	}
}

func TestSQLiteStorage_CountsAndDelete(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "count.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	n, err := store.CountChunks(ctx)
	if err != nil || n != 0 {
		t.Errorf("CountChunks: %v, %d", err, n)
	}
	_ = store.BatchCreateChunks(ctx, []*ChunkRecord{
		{ID: "a", DocumentID: "d1", Seq: 0, Text: "a"},
		{ID: "b", DocumentID: "d1", Seq: 1, Text: "b"},
		{ID: "c", DocumentID: "d2", Seq: 2, Text: "c"},
	})
	if n, _ = store.CountChunks(ctx); n != 3 {
		t.Errorf("expected 3 chunks, got %d", n)
	}
	if n, _ = store.CountDocuments(ctx); n != 2 {
		t.Errorf("expected 2 documents, got %d", n)
	}
	if err := store.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ = store.CountChunks(ctx); n != 0 {
		t.Errorf("expected 0 chunks after delete, got %d", n)
	}
}
