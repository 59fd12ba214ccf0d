package pgx

import (
	"context"
	"fmt"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// vectorParam returns nil for an absent embedding so it is stored as NULL.
func vectorParam(vec []float32) *pgvector.Vector {
	if len(vec) == 0 {
		return nil
	}
	v := pgvector.NewVector(vec)
	return &v
}

func vectorValue(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

// provenanceParam never returns nil: a JSON null would break the array
// union in the merge statements.
func provenanceParam(p []common.Provenance) []common.Provenance {
	p = common.UnionProvenance(nil, p)
	if p == nil {
		return []common.Provenance{}
	}
	return p
}

func (s *GraphDBStorage) MergeEntity(ctx context.Context, e common.Entity) (store.MergeResult, error) {
	if e.ID == "" {
		return store.MergeResult{}, fmt.Errorf("entity id is empty")
	}
	var created bool
	err := s.conn.QueryRow(ctx, mergeEntitySQL,
		e.ID,
		e.Name,
		common.NormalizeName(e.Name),
		string(e.Type),
		e.Description,
		vectorParam(e.Embedding),
		provenanceParam(e.Provenance),
	).Scan(&created)
	if err != nil {
		return store.MergeResult{}, classify(err)
	}
	return store.MergeResult{Created: created}, nil
}

func (s *GraphDBStorage) MergeRelationship(ctx context.Context, r common.Relationship) (store.MergeResult, error) {
	if r.ID == "" {
		r.ID = common.RelationshipID(r.Key())
	}
	prov := r.Provenance
	if r.Origin == common.OriginInferred {
		prov = nil
	}
	var created bool
	err := s.conn.QueryRow(ctx, mergeRelationshipSQL,
		r.ID,
		r.Source,
		r.Target,
		r.Kind,
		string(r.Origin),
		common.ClampConfidence(r.Confidence),
		provenanceParam(prov),
		r.Reasoning,
	).Scan(&created)
	if err != nil {
		return store.MergeResult{}, classify(err)
	}
	return store.MergeResult{Created: created}, nil
}

// MergeFragment upserts the fragment and its mentions in one transaction.
func (s *GraphDBStorage) MergeFragment(ctx context.Context, f common.Fragment) (store.MergeResult, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return store.MergeResult{}, classify(err)
	}
	defer tx.Rollback(ctx)

	var created bool
	err = tx.QueryRow(ctx, mergeFragmentSQL,
		f.ID,
		f.SourceID,
		f.Locator,
		f.Text,
		vectorParam(f.Embedding),
	).Scan(&created)
	if err != nil {
		return store.MergeResult{}, classify(err)
	}

	if mentions := store.DedupeStrings(f.Mentions); len(mentions) > 0 {
		if _, err := tx.Exec(ctx, mergeMentionsSQL, f.ID, mentions); err != nil {
			return store.MergeResult{}, classify(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return store.MergeResult{}, classify(err)
	}
	return store.MergeResult{Created: created}, nil
}

func (s *GraphDBStorage) SetEmbedding(ctx context.Context, id string, vec []float32) (bool, error) {
	if len(vec) == 0 {
		return false, nil
	}
	table := entitiesTable
	if store.KindOf(id) == store.NodeFragment {
		table = fragmentsTable
	}
	tag, err := s.conn.Exec(ctx, setEmbeddingSQL(table), id, vectorParam(vec))
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanEntity(row pgxv5.Row) (common.Entity, error) {
	var (
		e    common.Entity
		typ  string
		emb  *pgvector.Vector
		prov []common.Provenance
	)
	if err := row.Scan(&e.ID, &e.Name, &typ, &e.Description, &emb, &prov); err != nil {
		return common.Entity{}, err
	}
	e.Type = common.EntityType(typ)
	e.Embedding = vectorValue(emb)
	e.Provenance = common.UnionProvenance(nil, prov)
	return e, nil
}

func scanRelationship(row pgxv5.Row) (common.Relationship, error) {
	var (
		r      common.Relationship
		origin string
		prov   []common.Provenance
	)
	if err := row.Scan(&r.ID, &r.Source, &r.Target, &r.Kind, &origin, &r.Confidence, &prov, &r.Reasoning); err != nil {
		return common.Relationship{}, err
	}
	r.Origin = common.Origin(origin)
	r.Provenance = common.UnionProvenance(nil, prov)
	return r, nil
}

func scanFragment(row pgxv5.Row) (common.Fragment, error) {
	var (
		f   common.Fragment
		emb *pgvector.Vector
	)
	if err := row.Scan(&f.ID, &f.SourceID, &f.Locator, &f.Text, &emb, &f.Mentions); err != nil {
		return common.Fragment{}, err
	}
	f.Embedding = vectorValue(emb)
	if len(f.Mentions) == 0 {
		f.Mentions = nil
	}
	return f, nil
}

// collect runs a query and scans every row with scan.
func collect[T any](ctx context.Context, conn pgxIConn, scan func(pgxv5.Row) (T, error), sql string, args ...any) ([]T, error) {
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *GraphDBStorage) GetEntities(ctx context.Context, ids []string) ([]common.Entity, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	return collect(ctx, s.conn, scanEntity, getEntitiesSQL, ids)
}

func (s *GraphDBStorage) GetFragments(ctx context.Context, ids []string) ([]common.Fragment, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	return collect(ctx, s.conn, scanFragment, getFragmentsSQL, ids)
}

func (s *GraphDBStorage) ListRelationships(ctx context.Context, filter store.RelationshipFilter) ([]common.Relationship, error) {
	sql, args := relationshipFilterSQL(filter)
	return collect(ctx, s.conn, scanRelationship, sql, args...)
}
