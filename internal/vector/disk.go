package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/RohitChoukiker/medQuery/internal/storage"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	vectorsFileName = "vectors.bin"
	chunksFileName  = "chunks.db"
	lockFileName    = "store.lock"
)

// snapshot is an immutable view of the store contents. Upsert publishes a
// longer one and searches keep using whichever they started with. Snapshots
// may share backing arrays; elements below a published length are never
// written again.
type snapshot struct {
	ids      []string
	vectors  [][]float32
	texts    []string
	metadata []map[string]string
}

func (s *snapshot) len() int { return len(s.ids) }

// slice returns the entries in [from, to) as a new snapshot header.
func (s *snapshot) slice(from, to int) *snapshot {
	return &snapshot{
		ids:      s.ids[from:to:to],
		vectors:  s.vectors[from:to:to],
		texts:    s.texts[from:to:to],
		metadata: s.metadata[from:to:to],
	}
}

// fileStamp identifies one version of vectors.bin. The zero value means the
// file does not exist.
type fileStamp struct {
	modTime time.Time
	size    int64
}

func statStamp(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

// DiskStore is an in-memory brute-force store persisted to a directory:
// vectors.bin holds the vectors, chunks.db (SQLite) holds text and metadata.
//
// Several processes may open the same directory, for example a server and an
// out-of-band ingest. Writes to disk happen under an exclusive lock on
// store.lock and merge with whatever another process persisted meanwhile;
// Count and Search pick up such writes when vectors.bin changes.
type DiskStore struct {
	dir            string
	chunks         storage.Storage
	lock           *flock.Flock
	logger         *zap.Logger
	reloadInterval time.Duration

	mu         sync.RWMutex // guards snap and dimensions
	snap       *snapshot
	dimensions int

	writeMu   sync.Mutex // serialises Upsert, Persist, Reset and reloads
	persisted int        // leading entries of snap that are on disk
	stamp     fileStamp  // vectors.bin as last read or written
	lastCheck time.Time
}

// OpenDiskStore opens or creates a store in dir. A dimensions value of 0
// adopts whatever the persisted data or the first upsert uses. Persisted data
// of a different dimension is a DimensionMismatch.
func OpenDiskStore(ctx context.Context, dir string, dimensions int, opts ...Option) (*DiskStore, error) {
	const op = "vector.OpenDiskStore"
	o := buildOptions(opts)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%s: create store dir: %w", op, err)
	}
	chunks, err := storage.NewSQLiteStorage(filepath.Join(dir, chunksFileName))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s := &DiskStore{
		dir:            dir,
		chunks:         chunks,
		lock:           flock.New(filepath.Join(dir, lockFileName)),
		logger:         o.logger,
		reloadInterval: o.reloadInterval,
		snap:           &snapshot{},
		dimensions:     dimensions,
	}
	if err := s.reloadLocked(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.lastCheck = time.Now()
	if s.snap.len() > 0 {
		s.logger.Info("vector store loaded",
			zap.String("dir", dir),
			zap.Int("entries", s.snap.len()),
			zap.Int("dimensions", s.dimensions),
		)
	}
	return s, nil
}

func (s *DiskStore) vectorsPath() string { return filepath.Join(s.dir, vectorsFileName) }

// readDisk loads what is currently persisted. The caller holds the file lock.
func (s *DiskStore) readDisk(ctx context.Context) (*snapshot, int, fileStamp, error) {
	const op = "vector.DiskStore.readDisk"
	stamp := statStamp(s.vectorsPath())
	vf, ok, err := readVectorFile(s.vectorsPath())
	if err != nil {
		return nil, 0, stamp, fmt.Errorf("%s: %w", op, err)
	}
	records, err := s.chunks.ListChunks(ctx)
	if err != nil {
		return nil, 0, stamp, fmt.Errorf("%s: list chunks: %w", op, err)
	}
	if !ok {
		if len(records) > 0 {
			return nil, 0, stamp, fmt.Errorf("%s: %s has %d chunks but %s is missing", op, chunksFileName, len(records), vectorsFileName)
		}
		return &snapshot{}, 0, stamp, nil
	}

	byID := make(map[string]*storage.ChunkRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	snap := &snapshot{
		ids:      vf.ids,
		vectors:  vf.vectors,
		texts:    make([]string, len(vf.ids)),
		metadata: make([]map[string]string, len(vf.ids)),
	}
	for i, id := range vf.ids {
		r, ok := byID[id]
		if !ok {
			return nil, 0, stamp, fmt.Errorf("%s: chunk %s has a vector but no text", op, id)
		}
		snap.texts[i] = r.Text
		snap.metadata[i] = r.Metadata
	}
	return snap, vf.dimensions, stamp, nil
}

// reloadLocked replaces the persisted part of the snapshot with what is on
// disk and keeps unpersisted entries after it. The caller holds writeMu (or
// is the constructor).
func (s *DiskStore) reloadLocked(ctx context.Context) error {
	const op = "vector.DiskStore.reload"
	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("%s: lock: %w", op, err)
	}
	base, dims, stamp, err := s.readDisk(ctx)
	_ = s.lock.Unlock()
	if err != nil {
		return err
	}

	s.mu.RLock()
	cur, curDims := s.snap, s.dimensions
	s.mu.RUnlock()

	if base.len() > 0 && curDims > 0 && dims != curDims {
		return apperr.Errorf(apperr.DimensionMismatch, op,
			"store at %s holds %d-dimensional vectors, embedder produces %d", s.dir, dims, curDims)
	}
	next := appendSnapshot(base, cur.slice(s.persisted, cur.len()))

	s.mu.Lock()
	s.snap = next
	if base.len() > 0 {
		s.dimensions = dims
	}
	s.mu.Unlock()
	s.persisted = base.len()
	s.stamp = stamp
	return nil
}

// Reload re-reads the store if another process changed vectors.bin since it
// was last read or written here.
func (s *DiskStore) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.reloadIfChanged(ctx)
}

func (s *DiskStore) reloadIfChanged(ctx context.Context) error {
	s.lastCheck = time.Now()
	if statStamp(s.vectorsPath()) == s.stamp {
		return nil
	}
	if err := s.reloadLocked(ctx); err != nil {
		return err
	}
	s.logger.Info("vector store reloaded", zap.String("dir", s.dir), zap.Int("entries", s.snap.len()))
	return nil
}

// maybeReload is the non-blocking check done by readers. It is skipped while
// a write is in progress.
func (s *DiskStore) maybeReload(ctx context.Context) {
	if s.reloadInterval < 0 || !s.writeMu.TryLock() {
		return
	}
	defer s.writeMu.Unlock()
	if s.reloadInterval > 0 && time.Since(s.lastCheck) < s.reloadInterval {
		return
	}
	if err := s.reloadIfChanged(ctx); err != nil {
		s.logger.Warn("vector store reload failed, serving previous contents", zap.Error(err))
	}
}

// Upsert appends entries. The whole batch is rejected if any vector has the
// wrong dimension.
func (s *DiskStore) Upsert(ctx context.Context, entries []models.Entry) error {
	const op = "vector.DiskStore.Upsert"
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	old, dims := s.snap, s.dimensions
	s.mu.RUnlock()

	if dims == 0 {
		dims = len(entries[0].Vector)
	}
	for i, e := range entries {
		if len(e.Vector) != dims || dims == 0 {
			return apperr.Errorf(apperr.DimensionMismatch, op,
				"entry %d has %d dimensions, store has %d", i, len(e.Vector), dims)
		}
	}

	// Appending to the latest snapshot's slices grows them amortised; readers
	// of old only ever look below old.len().
	next := &snapshot{ids: old.ids, vectors: old.vectors, texts: old.texts, metadata: old.metadata}
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		vec := make([]float32, dims)
		copy(vec, e.Vector)
		next.ids = append(next.ids, id)
		next.vectors = append(next.vectors, vec)
		next.texts = append(next.texts, e.Text)
		next.metadata = append(next.metadata, copyMetadata(e.Metadata))
	}

	s.mu.Lock()
	s.snap = next
	s.dimensions = dims
	s.mu.Unlock()
	return nil
}

// Search returns the k entries closest to query. An empty store yields an
// empty result. k below 1 is treated as 1.
func (s *DiskStore) Search(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	s.maybeReload(ctx)

	s.mu.RLock()
	snap, dims := s.snap, s.dimensions
	s.mu.RUnlock()

	if snap.len() == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(query) != dims {
		return nil, apperr.Errorf(apperr.DimensionMismatch, "vector.DiskStore.Search",
			"query has %d dimensions, store has %d", len(query), dims)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k < 1 {
		k = 1
	}

	hits := topK(query, snap.vectors, k)
	out := make([]models.ScoredChunk, len(hits))
	for i, h := range hits {
		out[i] = models.ScoredChunk{
			ID:       snap.ids[h.pos],
			Text:     snap.texts[h.pos],
			Metadata: copyMetadata(snap.metadata[h.pos]),
			Score:    h.score,
		}
	}
	return out, nil
}

// Persist writes unpersisted entries to disk under the directory lock. If
// another process persisted in the meantime, its entries are kept and ours
// are appended after them.
func (s *DiskStore) Persist(ctx context.Context) error {
	const op = "vector.DiskStore.Persist"
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	snap, dims := s.snap, s.dimensions
	s.mu.RUnlock()

	if s.persisted == snap.len() {
		return nil
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("%s: lock: %w", op, err)
	}
	defer s.lock.Unlock()

	base := snap.slice(0, s.persisted)
	pending := snap.slice(s.persisted, snap.len())
	merged := snap
	if stamp := statStamp(s.vectorsPath()); stamp != s.stamp {
		disk, diskDims, _, err := s.readDisk(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if disk.len() > 0 && diskDims != dims {
			return apperr.Errorf(apperr.DimensionMismatch, op,
				"store at %s now holds %d-dimensional vectors, pending entries have %d", s.dir, diskDims, dims)
		}
		s.logger.Info("merging with entries persisted by another process",
			zap.Int("on_disk", disk.len()),
			zap.Int("previously_seen", base.len()),
			zap.Int("pending", pending.len()),
		)
		base = disk
		merged = appendSnapshot(disk, pending)
	}

	records := make([]*storage.ChunkRecord, pending.len())
	for i := range pending.ids {
		records[i] = &storage.ChunkRecord{
			ID:         pending.ids[i],
			DocumentID: pending.metadata[i][models.MetaDocumentID],
			Seq:        int64(base.len() + i),
			Text:       pending.texts[i],
			Metadata:   pending.metadata[i],
		}
	}
	if err := s.chunks.BatchCreateChunks(ctx, records); err != nil {
		return fmt.Errorf("%s: write chunks: %w", op, err)
	}
	vf := vectorFile{dimensions: dims, ids: merged.ids, vectors: merged.vectors}
	if err := writeVectorFile(s.vectorsPath(), vf); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	if merged != snap {
		s.snap = merged
	}
	s.mu.Unlock()
	s.persisted = merged.len()
	s.stamp = statStamp(s.vectorsPath())
	s.logger.Debug("vector store persisted",
		zap.String("dir", s.dir),
		zap.Int("entries", merged.len()),
		zap.Int("new", len(records)),
	)
	return nil
}

// Reset removes every entry from memory and disk.
func (s *DiskStore) Reset(ctx context.Context) error {
	const op = "vector.DiskStore.Reset"
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("%s: lock: %w", op, err)
	}
	defer s.lock.Unlock()

	if err := s.chunks.DeleteAll(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Remove(s.vectorsPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	s.snap = &snapshot{}
	s.mu.Unlock()
	s.persisted = 0
	s.stamp = fileStamp{}
	return nil
}

// Count returns the number of entries, persisted or not.
func (s *DiskStore) Count() int {
	s.maybeReload(context.Background())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.len()
}

// Dimensions returns the store dimension.
func (s *DiskStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

// Documents returns how many distinct documents have persisted chunks.
func (s *DiskStore) Documents(ctx context.Context) (int64, error) {
	return s.chunks.CountDocuments(ctx)
}

// Dir returns the store directory.
func (s *DiskStore) Dir() string { return s.dir }

// Close closes the chunk database and releases the lock file. Unpersisted
// entries are lost.
func (s *DiskStore) Close() error {
	err := s.chunks.Close()
	if lerr := s.lock.Close(); err == nil {
		err = lerr
	}
	return err
}

// appendSnapshot returns a fresh snapshot holding a followed by b.
func appendSnapshot(a, b *snapshot) *snapshot {
	n := a.len() + b.len()
	out := &snapshot{
		ids:      make([]string, 0, n),
		vectors:  make([][]float32, 0, n),
		texts:    make([]string, 0, n),
		metadata: make([]map[string]string, 0, n),
	}
	for _, s := range []*snapshot{a, b} {
		out.ids = append(out.ids, s.ids...)
		out.vectors = append(out.vectors, s.vectors...)
		out.texts = append(out.texts, s.texts...)
		out.metadata = append(out.metadata, s.metadata...)
	}
	return out
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
