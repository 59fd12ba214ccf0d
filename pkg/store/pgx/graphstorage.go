// Package pgx is the PostgreSQL GraphStorage. Vectors live in pgvector
// columns behind HNSW cosine indexes and fuzzy name lookups use pg_trgm.
package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

const defaultDimension = 1536

// GraphDBStorage implements store.GraphStorage on PostgreSQL with pgvector.
// Every merge is a single INSERT ... ON CONFLICT statement, or one
// transaction for fragments, so concurrent writers never observe a
// half-merged record.
type GraphDBStorage struct {
	conn      pgxIConn
	closer    func()
	dimension int
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithDimension sets the embedding dimension the vector indexes are built
// for. Vectors of another length are stored but never searched.
func WithDimension(dim int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if dim > 0 {
			s.dimension = dim
		}
	}
}

// Connect opens a pool with the pgvector types registered on every
// connection.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, classify(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err)
	}
	return pool, nil
}

// New wraps an open pool. Close closes the pool.
func New(pool *pgxpool.Pool, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := NewGraphDBStorageWithConnection(pool, opts...)
	s.closer = pool.Close
	return s
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or transaction. The caller owns the connection.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:      conn,
		dimension: defaultDimension,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *GraphDBStorage) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

// EnsureSchema creates the HNSW indexes for the configured dimension. The
// tables themselves come from Migrate.
func (s *GraphDBStorage) EnsureSchema(ctx context.Context) error {
	for _, table := range vectorTables {
		stmt := createVectorIndexSQL(table, s.dimension)
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create vector index on %s: %w", table, classify(err))
		}
	}
	logger.Debug("[Store][Schema] Vector indexes ready", "dimension", s.dimension)
	return nil
}

func (s *GraphDBStorage) Reset(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, resetSQL); err != nil {
		return classify(err)
	}
	logger.Info("[Store] Graph reset")
	return nil
}

var conflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"23505": true, // unique_violation
}

// classify maps driver errors onto the store error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case conflictCodes[pgErr.Code]:
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		case len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53" || pgErr.Code[:2] == "57"):
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}

// classifySearch is classify for vector queries, where a missing
// extension, operator or index means vector search is not possible.
func classifySearch(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "42704", "42883": // undefined table, object or function
			return fmt.Errorf("%w: %w", store.ErrIndexUnavailable, err)
		}
	}
	return classify(err)
}
