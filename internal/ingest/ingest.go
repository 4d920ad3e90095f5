// Package ingest loads a directory of source documents into the vector store:
// extract, segment, embed in batches, upsert, persist.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/embedding"
	"github.com/RohitChoukiker/medQuery/internal/extract"
	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/RohitChoukiker/medQuery/internal/segment"
	"github.com/RohitChoukiker/medQuery/internal/vector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage names reported through Progress.
const (
	StageExtract = "extract"
	StageEmbed   = "embed"
)

// Progress is reported after each file is extracted and after each batch is embedded.
type Progress struct {
	Stage string
	File  string
	Done  int
	Total int
}

// Pipeline runs ingestion. Runs are serialised; searches against the store
// keep working while a run is in progress.
type Pipeline struct {
	segmenter  *segment.Segmenter
	embedder   embedding.Embedder
	store      vector.Store
	extractor  *extract.Extractor
	extensions []string
	batchSize  int
	logger     *zap.Logger
	progress   func(Progress)
	mu         sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExtensions limits ingestion to the given extensions (with leading dot).
func WithExtensions(exts []string) Option {
	return func(p *Pipeline) {
		if len(exts) > 0 {
			p.extensions = exts
		}
	}
}

// WithBatchSize sets how many chunks are embedded per call (default 32).
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn func(Progress)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// New creates a pipeline.
func New(seg *segment.Segmenter, emb embedding.Embedder, store vector.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		segmenter:  seg,
		embedder:   emb,
		store:      store,
		extractor:  extract.NewExtractor(),
		extensions: extract.Supported,
		batchSize:  32,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest reads every supported file under dir and returns the number of
// chunks written. A missing directory, or one without supported files, is an
// IngestionError. Unreadable files are logged and skipped. Running it twice
// without Reset stores every chunk twice.
func (p *Pipeline) Ingest(ctx context.Context, dir string) (int, error) {
	const op = "ingest.Ingest"
	p.mu.Lock()
	defer p.mu.Unlock()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, apperr.Wrap(apperr.IngestionError, op, err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, apperr.Errorf(apperr.IngestionError, op, "source directory: %w", err)
	}
	if !info.IsDir() {
		return 0, apperr.Errorf(apperr.IngestionError, op, "not a directory: %s", absDir)
	}

	files, err := p.collect(absDir)
	if err != nil {
		return 0, apperr.Errorf(apperr.IngestionError, op, "walk %s: %w", absDir, err)
	}
	if len(files) == 0 {
		return 0, apperr.Errorf(apperr.IngestionError, op,
			"no supported files in %s (extensions: %s)", absDir, strings.Join(p.extensions, ", "))
	}
	p.logger.Info("ingestion started", zap.String("dir", absDir), zap.Int("files", len(files)))

	docs := p.load(ctx, files)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, apperr.Errorf(apperr.IngestionError, op, "none of the %d files in %s could be read", len(files), absDir)
	}
	return p.write(ctx, docs)
}

// IngestFile ingests a single file, for the directory watcher.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (int, error) {
	const op = "ingest.IngestFile"
	p.mu.Lock()
	defer p.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, apperr.Wrap(apperr.IngestionError, op, err)
	}
	if !extensionAllowed(filepath.Ext(absPath), p.extensions) {
		return 0, apperr.Errorf(apperr.IngestionError, op, "unsupported file type: %s", absPath)
	}
	doc, err := p.loadFile(absPath)
	if err != nil {
		return 0, apperr.Wrap(apperr.IngestionError, op, err)
	}
	return p.write(ctx, []models.Document{doc})
}

func (p *Pipeline) collect(absDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == absDir {
				return walkErr
			}
			p.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
			return nil
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), p.extensions) {
			return nil
		}
		// Resolve symlinks so we only ingest regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}

func (p *Pipeline) load(ctx context.Context, files []string) []models.Document {
	docs := make([]models.Document, 0, len(files))
	for i, path := range files {
		if ctx.Err() != nil {
			return docs
		}
		doc, err := p.loadFile(path)
		if err != nil {
			p.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
		} else {
			docs = append(docs, doc)
		}
		p.report(Progress{Stage: StageExtract, File: path, Done: i + 1, Total: len(files)})
	}
	return docs
}

func (p *Pipeline) loadFile(absPath string) (models.Document, error) {
	text, err := p.extractor.Extract(absPath)
	if err != nil {
		return models.Document{}, fmt.Errorf("extract content: %w", err)
	}
	text = Preprocess(text)
	if strings.TrimSpace(text) == "" {
		return models.Document{}, errors.New("no text content")
	}
	return models.Document{
		ID:     DocumentID(absPath),
		Source: absPath,
		Text:   text,
	}, nil
}

// write segments, embeds and upserts docs, then persists the store.
func (p *Pipeline) write(ctx context.Context, docs []models.Document) (int, error) {
	const op = "ingest.write"
	var chunks []models.Chunk
	for _, d := range docs {
		chunks = append(chunks, p.segmenter.SplitDocument(d)...)
	}

	written, rejected := 0, 0
	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("%s: embed chunks: %w", op, err)
		}
		if len(vecs) != len(batch) {
			return written, fmt.Errorf("%s: embedder returned %d vectors for %d chunks", op, len(vecs), len(batch))
		}

		want := p.store.Dimensions()
		if want == 0 && len(vecs) > 0 {
			want = len(vecs[0])
		}
		entries := make([]models.Entry, 0, len(batch))
		for i, c := range batch {
			if len(vecs[i]) != want {
				rejected++
				p.logger.Error("rejecting chunk with wrong embedding dimension",
					zap.String("source", c.Metadata[models.MetaSource]),
					zap.String("chunk_index", c.Metadata[models.MetaChunkIndex]),
					zap.Int("got", len(vecs[i])),
					zap.Int("want", want),
				)
				continue
			}
			entries = append(entries, models.Entry{
				ID:       uuid.NewString(),
				Text:     c.Text,
				Vector:   vecs[i],
				Metadata: c.Metadata,
			})
		}
		if err := p.store.Upsert(ctx, entries); err != nil {
			if apperr.KindOf(err) != apperr.DimensionMismatch {
				return written, fmt.Errorf("%s: %w", op, err)
			}
			rejected += len(entries)
			p.logger.Error("vector store rejected batch", zap.Int("entries", len(entries)), zap.Error(err))
		} else {
			written += len(entries)
		}
		p.report(Progress{Stage: StageEmbed, Done: end, Total: len(chunks)})
	}

	if err := p.store.Persist(ctx); err != nil {
		return written, fmt.Errorf("%s: persist: %w", op, err)
	}
	p.logger.Info("ingestion finished",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", written),
		zap.Int("rejected", rejected),
		zap.Int("store_entries", p.store.Count()),
	)
	return written, nil
}

func (p *Pipeline) report(pr Progress) {
	if p.progress != nil {
		p.progress(pr)
	}
}

// DocumentID derives a stable document id from an absolute path.
func DocumentID(absPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(absPath))).String()
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
