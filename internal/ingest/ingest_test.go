package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/embedding"
	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/RohitChoukiker/medQuery/internal/segment"
	"github.com/RohitChoukiker/medQuery/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestPreprocess(t *testing.T) {
	in := "Title  \r\n\r\n\r\n\r\nLine one\x00\nLine two\t\n\n\nEnd"
	assert.Equal(t, "Title\n\nLine one\nLine two\n\nEnd", Preprocess(in))
	assert.Equal(t, "", Preprocess(" \n \n"))
}

func TestDocumentIDStable(t *testing.T) {
	assert.Equal(t, DocumentID("/data/a.txt"), DocumentID("/data/a.txt"))
	assert.NotEqual(t, DocumentID("/data/a.txt"), DocumentID("/data/b.txt"))
}

type fixture struct {
	pipeline *Pipeline
	store    *vector.DiskStore
	storeDir string
}

func newFixture(t *testing.T, emb embedding.Embedder, opts ...Option) *fixture {
	t.Helper()
	seg, err := segment.New(40, 5)
	require.NoError(t, err)
	storeDir := filepath.Join(t.TempDir(), "vectorstore")
	store, err := vector.OpenDiskStore(context.Background(), storeDir, emb.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{pipeline: New(seg, emb, store, opts...), store: store, storeDir: storeDir}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestIngest_Directory(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "Insulin regulates glucose.")
	writeFile(t, filepath.Join(src, "b.md"), "Aspirin relieves pain.")
	writeFile(t, filepath.Join(src, "sub", "c.txt"), "Asthma causes wheezing.")
	writeFile(t, filepath.Join(src, "skip.xyz"), "not ingested")
	writeFile(t, filepath.Join(src, ".hidden", "d.txt"), "hidden")

	f := newFixture(t, embedding.NewHashEmbedder(32))
	ctx := context.Background()

	n, err := f.pipeline.Ingest(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.store.Count())

	require.NoError(t, f.store.Close())
	reopened, err := vector.OpenDiskStore(ctx, f.storeDir, 32)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 3, reopened.Count())
}

func TestIngest_ChunkMetadata(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "note.txt")
	writeFile(t, path, strings.Repeat("Metformin is first-line therapy. ", 5))

	f := newFixture(t, embedding.NewHashEmbedder(32))
	ctx := context.Background()
	n, err := f.pipeline.Ingest(ctx, src)
	require.NoError(t, err)
	require.Greater(t, n, 1)

	q, _ := embedding.NewHashEmbedder(32).Embed(ctx, "Metformin")
	hits, err := f.store.Search(ctx, q, n)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, path, h.Metadata[models.MetaSource])
		assert.Equal(t, DocumentID(path), h.Metadata[models.MetaDocumentID])
		assert.NotEmpty(t, h.Metadata[models.MetaOffset])
	}
}

func TestIngest_MissingDirectory(t *testing.T) {
	f := newFixture(t, embedding.NewHashEmbedder(8))
	_, err := f.pipeline.Ingest(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, apperr.ErrIngestion)
}

func TestIngest_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, path, "x")
	f := newFixture(t, embedding.NewHashEmbedder(8))
	_, err := f.pipeline.Ingest(context.Background(), path)
	assert.ErrorIs(t, err, apperr.ErrIngestion)
}

func TestIngest_NoSupportedFiles(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "image.png"), "binary")
	f := newFixture(t, embedding.NewHashEmbedder(8))
	_, err := f.pipeline.Ingest(context.Background(), src)
	assert.ErrorIs(t, err, apperr.ErrIngestion)
	assert.Equal(t, 0, f.store.Count())
}

func TestIngest_SkipsUnreadableFiles(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "good.txt"), "Hypertension raises stroke risk.")
	writeFile(t, filepath.Join(src, "broken.docx"), "this is not a zip archive")
	writeFile(t, filepath.Join(src, "empty.txt"), "   \n  ")

	f := newFixture(t, embedding.NewHashEmbedder(16))
	n, err := f.pipeline.Ingest(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngest_AllFilesUnreadable(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "broken.docx"), "garbage")
	f := newFixture(t, embedding.NewHashEmbedder(16))
	_, err := f.pipeline.Ingest(context.Background(), src)
	assert.ErrorIs(t, err, apperr.ErrIngestion)
}

func TestIngest_RerunAppendsDuplicates(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "Influenza vaccine yearly.")
	f := newFixture(t, embedding.NewHashEmbedder(16))
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, src)
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Count())
}

// skewedEmbedder returns a short vector for any text containing "corrupt".
type skewedEmbedder struct {
	*embedding.HashEmbedder
}

func (s skewedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := s.HashEmbedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, t := range texts {
		if strings.Contains(t, "corrupt") {
			out[i] = out[i][:3]
		}
	}
	return out, nil
}

func TestIngest_RejectsWrongDimensionAndContinues(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "Good chunk about angina.")
	writeFile(t, filepath.Join(src, "b.txt"), "corrupt chunk")
	writeFile(t, filepath.Join(src, "c.txt"), "Good chunk about gout.")

	f := newFixture(t, skewedEmbedder{embedding.NewHashEmbedder(16)})
	n, err := f.pipeline.Ingest(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.store.Count())
}

func TestIngest_ReportsProgress(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "one")
	writeFile(t, filepath.Join(src, "b.txt"), "two")

	var mu sync.Mutex
	var events []Progress
	f := newFixture(t, embedding.NewHashEmbedder(8),
		WithBatchSize(1),
		WithProgress(func(p Progress) {
			mu.Lock()
			events = append(events, p)
			mu.Unlock()
		}),
	)
	_, err := f.pipeline.Ingest(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, Progress{Stage: StageExtract, File: filepath.Join(src, "b.txt"), Done: 2, Total: 2}, events[1])
	assert.Equal(t, Progress{Stage: StageEmbed, Done: 2, Total: 2}, events[3])
}

func TestIngest_Excel(t *testing.T) {
	src := t.TempDir()
	x := excelize.NewFile()
	x.SetCellValue("Sheet1", "A1", "Warfarin interacts with aspirin")
	require.NoError(t, x.SaveAs(filepath.Join(src, "interactions.xlsx")))
	x.Close()

	f := newFixture(t, embedding.NewHashEmbedder(16))
	n, err := f.pipeline.Ingest(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestFile(t *testing.T) {
	src := t.TempDir()
	f := newFixture(t, embedding.NewHashEmbedder(16), WithExtensions([]string{".txt"}))
	ctx := context.Background()

	path := filepath.Join(src, "new.txt")
	writeFile(t, path, "Sepsis requires early antibiotics.")
	n, err := f.pipeline.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.pipeline.IngestFile(ctx, filepath.Join(src, "notes.md"))
	assert.ErrorIs(t, err, apperr.ErrIngestion)

	_, err = f.pipeline.IngestFile(ctx, filepath.Join(src, "missing.txt"))
	assert.ErrorIs(t, err, apperr.ErrIngestion)
}
