// Package neo4j is a GraphStorage on Neo4j 5. Entities and fragments are
// nodes, relationships are RELATES edges carrying their kind as a
// property, and fragments point at entities with MENTIONS edges. Vector
// search uses the native vector indexes.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"

	n4j "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultDimension = 1536

const (
	entityIndex   = "entity_embeddings"
	fragmentIndex = "fragment_embeddings"
)

// Storage implements store.GraphStorage on Neo4j.
type Storage struct {
	driver    n4j.DriverWithContext
	database  string
	dimension int
}

var _ store.GraphStorage = (*Storage)(nil)

type Params struct {
	URI       string
	User      string
	Password  string
	Database  string
	Dimension int
	Timeout   time.Duration
	MaxPool   int
}

// Connect opens a driver and verifies connectivity.
func Connect(ctx context.Context, p Params) (*Storage, error) {
	if p.URI == "" {
		return nil, errors.New("neo4j uri is empty")
	}
	if p.User == "" {
		p.User = "neo4j"
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.MaxPool <= 0 {
		p.MaxPool = 50
	}

	driver, err := n4j.NewDriverWithContext(p.URI, n4j.BasicAuth(p.User, p.Password, ""), func(cfg *n4j.Config) {
		cfg.MaxConnectionPoolSize = p.MaxPool
		cfg.SocketConnectTimeout = p.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: verify neo4j connectivity: %w", store.ErrUnavailable, err)
	}
	return New(driver, p.Database, p.Dimension), nil
}

// New wraps an open driver. Close closes it.
func New(driver n4j.DriverWithContext, database string, dimension int) *Storage {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &Storage{driver: driver, database: database, dimension: dimension}
}

func (s *Storage) Close() error {
	return s.driver.Close(context.Background())
}

// read runs a query in a managed read transaction and returns its records.
func (s *Storage) read(ctx context.Context, cypher string, params map[string]any) ([]*n4j.Record, error) {
	res, err := n4j.ExecuteQuery(ctx, s.driver, cypher, params, n4j.EagerResultTransformer,
		n4j.ExecuteQueryWithDatabase(s.database),
		n4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, classify(err)
	}
	return res.Records, nil
}

// write runs fn in a managed write transaction.
func (s *Storage) write(ctx context.Context, fn func(tx n4j.ManagedTransaction) (any, error)) (any, error) {
	session := s.driver.NewSession(ctx, n4j.SessionConfig{
		AccessMode:   n4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, fn)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Storage) exec(ctx context.Context, cypher string, params map[string]any) error {
	_, err := n4j.ExecuteQuery(ctx, s.driver, cypher, params, n4j.EagerResultTransformer,
		n4j.ExecuteQueryWithDatabase(s.database),
	)
	return classify(err)
}

func (s *Storage) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dimension) {
		if err := s.exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo4j schema: %w", err)
		}
	}
	logger.Debug("[Store][Schema] Neo4j constraints and vector indexes ready", "dimension", s.dimension)
	return nil
}

func (s *Storage) Reset(ctx context.Context) error {
	if err := s.exec(ctx, resetCypher, nil); err != nil {
		return err
	}
	logger.Info("[Store] Graph reset")
	return nil
}

// classify maps driver errors onto the store error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if n4j.IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	var nerr *n4j.Neo4jError
	if errors.As(err, &nerr) {
		switch {
		case strings.HasPrefix(nerr.Code, "Neo.TransientError.Transaction"),
			nerr.Code == "Neo.ClientError.Schema.ConstraintValidationFailed":
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		case strings.HasPrefix(nerr.Code, "Neo.TransientError.General"),
			nerr.Code == "Neo.ClientError.Database.DatabaseNotFound":
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
	}
	return err
}
