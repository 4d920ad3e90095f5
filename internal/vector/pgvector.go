package vector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const countTimeout = 5 * time.Second

// PGStore keeps entries in a PostgreSQL table using the pgvector extension.
// Every Upsert commits, so Persist has nothing to do. The table may be shared
// with other processes; Count and Search always ask the database.
type PGStore struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
	lastCount  atomic.Int64
	logger     *zap.Logger
}

// OpenPGStore connects to url and creates the table if needed. dimensions
// must be positive; an existing table with a different dimension is a
// DimensionMismatch.
func OpenPGStore(ctx context.Context, url, table string, dimensions int, opts ...Option) (*PGStore, error) {
	const op = "vector.OpenPGStore"
	o := buildOptions(opts)

	if !tableNamePattern.MatchString(table) {
		return nil, apperr.Errorf(apperr.ConfigError, op, "invalid table name %q", table)
	}
	if dimensions <= 0 {
		return nil, apperr.New(apperr.ConfigError, op, "pgvector store needs a positive dimension")
	}

	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, apperr.Errorf(apperr.ConfigError, op, "parse database url: %w", err)
	}
	// The extension must exist before pgvector types can be registered on
	// pooled connections, so create it over a plain connection first.
	conn, err := pgx.ConnectConfig(ctx, poolCfg.ConnConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	_ = conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: create vector extension: %w", op, err)
	}

	poolCfg.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, c)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	s := &PGStore{
		pool:       pool,
		table:      pgx.Identifier{table}.Sanitize(),
		dimensions: dimensions,
		logger:     o.logger,
	}
	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initialize(ctx context.Context) error {
	const op = "vector.PGStore.initialize"
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT UNIQUE NOT NULL,
			document_id TEXT,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d) NOT NULL
		)`, s.table, s.dimensions)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("%s: create table: %w", op, err)
	}

	var existing int
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT vector_dims(embedding) FROM %s LIMIT 1", s.table)).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("%s: read dimension: %w", op, err)
	case existing != s.dimensions:
		return apperr.Errorf(apperr.DimensionMismatch, op,
			"table %s holds %d-dimensional vectors, embedder produces %d", s.table, existing, s.dimensions)
	}

	n, err := s.count(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info("pgvector store ready", zap.String("table", s.table), zap.Int64("entries", n))
	return nil
}

// Upsert inserts entries in one transaction. Entries whose ID already exists
// are skipped.
func (s *PGStore) Upsert(ctx context.Context, entries []models.Entry) error {
	const op = "vector.PGStore.Upsert"
	if len(entries) == 0 {
		return nil
	}
	for i, e := range entries {
		if len(e.Vector) != s.dimensions {
			return apperr.Errorf(apperr.DimensionMismatch, op,
				"entry %d has %d dimensions, store has %d", i, len(e.Vector), s.dimensions)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`, s.table)
	batch := &pgx.Batch{}
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(stmt, id, e.Metadata[models.MetaDocumentID], e.Text, e.Metadata, pgvector.NewVector(e.Vector))
	}
	br := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("%s: insert: %w", op, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// Search orders by cosine distance, then insertion order.
func (s *PGStore) Search(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	const op = "vector.PGStore.Search"
	if len(query) != s.dimensions {
		return nil, apperr.Errorf(apperr.DimensionMismatch, op,
			"query has %d dimensions, store has %d", len(query), s.dimensions)
	}
	if k < 1 {
		k = 1
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, seq
		LIMIT $2`, s.table), pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.ScoredChunk, 0, k)
	for rows.Next() {
		var c models.ScoredChunk
		if err := rows.Scan(&c.ID, &c.Text, &c.Metadata, &c.Score); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Persist is a no-op; rows are durable once Upsert commits.
func (s *PGStore) Persist(context.Context) error { return nil }

// Reset truncates the table.
func (s *PGStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY", s.table)); err != nil {
		return fmt.Errorf("vector.PGStore.Reset: %w", err)
	}
	return nil
}

func (s *PGStore) count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	s.lastCount.Store(n)
	return n, nil
}

// Count returns the number of rows in the table. If the database cannot be
// reached it returns the last count it saw.
func (s *PGStore) Count() int {
	ctx, cancel := context.WithTimeout(context.Background(), countTimeout)
	defer cancel()
	n, err := s.count(ctx)
	if err != nil {
		s.logger.Warn("pgvector count failed", zap.String("table", s.table), zap.Error(err))
		return int(s.lastCount.Load())
	}
	return int(n)
}

func (s *PGStore) Dimensions() int { return s.dimensions }

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
