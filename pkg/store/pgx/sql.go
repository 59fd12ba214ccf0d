package pgx

import (
	"fmt"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

const (
	entitiesTable  = "kg_entities"
	fragmentsTable = "kg_fragments"
)

var vectorTables = []string{entitiesTable, fragmentsTable}

func vectorIndexName(table string, dim int) string {
	return fmt.Sprintf("%s_embedding_%d_idx", table, dim)
}

// createVectorIndexSQL builds a partial HNSW index over rows whose vector
// has exactly dim components. The column itself is untyped so a dimension
// change only needs a new index.
func createVectorIndexSQL(table string, dim int) string {
	return fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw ((embedding::vector(%d)) vector_cosine_ops) WHERE vector_dims(embedding) = %d`,
		vectorIndexName(table, dim), table, dim, dim,
	)
}

const vectorIndexReadySQL = `
SELECT count(*)
FROM pg_index i
JOIN pg_class c ON c.oid = i.indexrelid
WHERE c.relname = ANY($1::text[]) AND i.indisvalid AND i.indisready;
`

// similaritySQL searches both vector tables and returns cosine distances.
// Each branch is ordered on its own so the planner can use the index.
func similaritySQL(dim int) string {
	branch := func(table string, kind store.NodeKind) string {
		return fmt.Sprintf(
			`(SELECT id, '%[2]s' AS kind, embedding::vector(%[3]d) <=> $1 AS dist FROM %[1]s WHERE embedding IS NOT NULL AND vector_dims(embedding) = %[3]d ORDER BY embedding::vector(%[3]d) <=> $1 LIMIT $2)`,
			table, kind, dim,
		)
	}
	return branch(entitiesTable, store.NodeEntity) + "\nUNION ALL\n" + branch(fragmentsTable, store.NodeFragment)
}

const provenanceUnion = `(
    SELECT COALESCE(jsonb_agg(DISTINCT p ORDER BY p), '[]'::jsonb)
    FROM jsonb_array_elements(%[1]s.provenance || EXCLUDED.provenance) AS p
)`

var mergeEntitySQL = `
INSERT INTO kg_entities (id, name, norm_name, type, description, embedding, provenance)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
ON CONFLICT (id) DO UPDATE SET
    provenance  = ` + fmt.Sprintf(provenanceUnion, entitiesTable) + `,
    description = CASE WHEN btrim(kg_entities.description) = '' THEN EXCLUDED.description ELSE kg_entities.description END,
    embedding   = COALESCE(kg_entities.embedding, EXCLUDED.embedding),
    updated_at  = now()
RETURNING (xmax = 0) AS created;
`

var mergeRelationshipSQL = `
INSERT INTO kg_relationships (id, source_id, target_id, kind, origin, confidence, provenance, reasoning)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
ON CONFLICT (id) DO UPDATE SET
    confidence = GREATEST(kg_relationships.confidence, EXCLUDED.confidence),
    provenance = CASE WHEN kg_relationships.origin = 'Inferred' THEN kg_relationships.provenance
                      ELSE ` + fmt.Sprintf(provenanceUnion, "kg_relationships") + ` END,
    reasoning  = CASE WHEN kg_relationships.reasoning = '' THEN EXCLUDED.reasoning ELSE kg_relationships.reasoning END,
    updated_at = now()
RETURNING (xmax = 0) AS created;
`

const mergeFragmentSQL = `
INSERT INTO kg_fragments (id, source_id, locator, text, embedding)
VALUES ($1, $2, $3::jsonb, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    embedding = COALESCE(kg_fragments.embedding, EXCLUDED.embedding)
RETURNING (xmax = 0) AS created;
`

const mergeMentionsSQL = `
INSERT INTO kg_mentions (fragment_id, entity_id)
SELECT $1, m FROM unnest($2::text[]) AS m
ON CONFLICT DO NOTHING;
`

func setEmbeddingSQL(table string) string {
	return fmt.Sprintf(`UPDATE %s SET embedding = $2 WHERE id = $1 AND embedding IS NULL`, table)
}

const entityColumns = `id, name, type, description, embedding, provenance`

const getEntitiesSQL = `SELECT ` + entityColumns + ` FROM kg_entities WHERE id = ANY($1::text[]) ORDER BY id`

const exportEntitiesSQL = `SELECT ` + entityColumns + ` FROM kg_entities ORDER BY id`

const getFragmentsSQL = `
SELECT f.id, f.source_id, f.locator, f.text, f.embedding,
       COALESCE((SELECT array_agg(m.entity_id ORDER BY m.entity_id) FROM kg_mentions m WHERE m.fragment_id = f.id), '{}') AS mentions
FROM kg_fragments f
WHERE f.id = ANY($1::text[])
ORDER BY f.id;
`

const relationshipColumns = `id, source_id, target_id, kind, origin, confidence, provenance, reasoning`

const relationshipsWithinSQL = `SELECT ` + relationshipColumns + `
FROM kg_relationships
WHERE source_id = ANY($1::text[]) AND target_id = ANY($1::text[])
ORDER BY id`

// relationshipFilterSQL renders a ListRelationships query. Arguments are
// positional and returned in order.
func relationshipFilterSQL(f store.RelationshipFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if ids := store.DedupeStrings(f.EntityIDs); len(ids) > 0 {
		p := arg(ids)
		where = append(where, fmt.Sprintf("(source_id = ANY(%[1]s::text[]) OR target_id = ANY(%[1]s::text[]))", p))
	}
	if f.Origin != "" {
		where = append(where, "origin = "+arg(string(f.Origin)))
	}
	if kinds := store.DedupeStrings(f.Kinds); len(kinds) > 0 {
		where = append(where, fmt.Sprintf("kind = ANY(%s::text[])", arg(kinds)))
	}

	var b strings.Builder
	b.WriteString("SELECT " + relationshipColumns + " FROM kg_relationships")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + arg(f.Limit))
	}
	return b.String(), args
}

// findByNameSQL scores exact normalized matches 1, containment store.FuzzyWeight
// and trigram similarity scaled by store.FuzzyWeight.
const findByNameSQL = `
SELECT e.id,
       max(CASE
             WHEN e.norm_name = t THEN 1.0
             WHEN strpos(e.norm_name, t) > 0 OR strpos(t, e.norm_name) > 0 THEN $3::float8
             ELSE similarity(e.norm_name, t) * $3::float8
           END) AS score
FROM kg_entities e
CROSS JOIN unnest($1::text[]) AS t
WHERE e.norm_name = t
   OR e.norm_name % t
   OR strpos(e.norm_name, t) > 0
   OR strpos(t, e.norm_name) > 0
GROUP BY e.id
ORDER BY score DESC, e.id
LIMIT $2;
`

// traverseSQL walks relationships in both directions and fragment
// mentions from every seed, keeping the shortest hop count per node.
// $1 seeds, $2 max hops, $3 followed origins (empty follows all).
const traverseSQL = `
WITH RECURSIVE adj(a, b) AS (
    SELECT source_id, target_id FROM kg_relationships
    WHERE cardinality($3::text[]) = 0 OR origin = ANY($3::text[])
    UNION ALL
    SELECT target_id, source_id FROM kg_relationships
    WHERE cardinality($3::text[]) = 0 OR origin = ANY($3::text[])
    UNION ALL
    SELECT entity_id, fragment_id FROM kg_mentions
    UNION ALL
    SELECT fragment_id, entity_id FROM kg_mentions
),
walk(seed, id, hops) AS (
    SELECT s, s, 0
    FROM unnest($1::text[]) AS s
    WHERE EXISTS (SELECT 1 FROM kg_entities WHERE id = s)
       OR EXISTS (SELECT 1 FROM kg_fragments WHERE id = s)
    UNION
    SELECT w.seed, adj.b, w.hops + 1
    FROM walk w
    JOIN adj ON adj.a = w.id
    WHERE w.hops < $2
)
SELECT seed, id, min(hops) AS hops
FROM walk
GROUP BY seed, id
ORDER BY seed, hops, id;
`

// neighborhoodSQL returns the entity ids within $2 hops of $1 over
// relationships of any origin.
const neighborhoodSQL = `
WITH RECURSIVE adj(a, b) AS (
    SELECT source_id, target_id FROM kg_relationships
    UNION ALL
    SELECT target_id, source_id FROM kg_relationships
),
walk(id, hops) AS (
    SELECT id, 0 FROM kg_entities WHERE id = $1
    UNION
    SELECT adj.b, w.hops + 1
    FROM walk w
    JOIN adj ON adj.a = w.id
    WHERE w.hops < $2
)
SELECT DISTINCT id FROM walk ORDER BY id;
`

const resetSQL = `TRUNCATE kg_mentions, kg_fragments, kg_relationships, kg_entities`
