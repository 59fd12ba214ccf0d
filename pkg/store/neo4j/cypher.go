package neo4j

import (
	"fmt"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

func schemaStatements(dim int) []string {
	vectorIndex := func(name, label string) string {
		return fmt.Sprintf(
			"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.embedding) "+
				"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			name, label, dim,
		)
	}
	return []string{
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT fragment_id_unique IF NOT EXISTS FOR (f:Fragment) REQUIRE f.id IS UNIQUE`,
		`CREATE CONSTRAINT relates_id_unique IF NOT EXISTS FOR ()-[r:RELATES]-() REQUIRE r.id IS UNIQUE`,
		`CREATE INDEX entity_norm_name IF NOT EXISTS FOR (e:Entity) ON (e.norm_name)`,
		vectorIndex(entityIndex, "Entity"),
		vectorIndex(fragmentIndex, "Fragment"),
	}
}

const vectorIndexReadyCypher = `
SHOW INDEXES YIELD name, state
WHERE name IN $names AND state = 'ONLINE'
RETURN count(*) AS n
`

const vectorQueryCypher = `
CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node, score
RETURN node.id AS id, score
`

const mergeEntityCypher = `
MERGE (e:Entity {id: $id})
ON CREATE SET e.name = $name,
              e.norm_name = $norm_name,
              e.type = $type,
              e.description = $description,
              e.embedding = $embedding,
              e.provenance = $provenance,
              e.created_at = datetime()
ON MATCH SET  e.provenance = coalesce(e.provenance, []) + [p IN $provenance WHERE NOT p IN coalesce(e.provenance, [])],
              e.description = CASE WHEN trim(coalesce(e.description, '')) = '' THEN $description ELSE e.description END,
              e.embedding = coalesce(e.embedding, $embedding),
              e.updated_at = datetime()
RETURN e.updated_at IS NULL AS created
`

const mergeRelationshipCypher = `
MATCH (a:Entity {id: $source}), (b:Entity {id: $target})
MERGE (a)-[r:RELATES {id: $id}]->(b)
ON CREATE SET r.kind = $kind,
              r.origin = $origin,
              r.confidence = $confidence,
              r.provenance = $provenance,
              r.reasoning = $reasoning,
              r.created_at = datetime()
ON MATCH SET  r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END,
              r.provenance = CASE WHEN r.origin = 'Inferred' THEN r.provenance
                                  ELSE coalesce(r.provenance, []) + [p IN $provenance WHERE NOT p IN coalesce(r.provenance, [])] END,
              r.reasoning = CASE WHEN coalesce(r.reasoning, '') = '' THEN $reasoning ELSE r.reasoning END,
              r.updated_at = datetime()
RETURN r.updated_at IS NULL AS created
`

const mergeFragmentCypher = `
MERGE (f:Fragment {id: $id})
ON CREATE SET f.source_id = $source_id,
              f.locator = $locator,
              f.text = $text,
              f.embedding = $embedding,
              f.created_at = datetime()
ON MATCH SET  f.embedding = coalesce(f.embedding, $embedding),
              f.updated_at = datetime()
RETURN f.updated_at IS NULL AS created
`

const mergeMentionsCypher = `
MATCH (f:Fragment {id: $id})
UNWIND $mentions AS mid
MATCH (e:Entity {id: mid})
MERGE (f)-[:MENTIONS]->(e)
`

func setEmbeddingCypher(kind store.NodeKind) string {
	label := "Entity"
	if kind == store.NodeFragment {
		label = "Fragment"
	}
	return fmt.Sprintf(`
MATCH (n:%s {id: $id})
WHERE n.embedding IS NULL
SET n.embedding = $embedding
RETURN count(n) AS n
`, label)
}

const entityReturn = `e.id AS id, e.name AS name, e.type AS type, e.description AS description, e.embedding AS embedding, e.provenance AS provenance`

const relationshipReturn = `r.id AS id, a.id AS source, b.id AS target, r.kind AS kind, r.origin AS origin, r.confidence AS confidence, r.provenance AS provenance, r.reasoning AS reasoning`

const getEntitiesCypher = `
MATCH (e:Entity) WHERE e.id IN $ids
RETURN ` + entityReturn + `
ORDER BY id
`

const exportEntitiesCypher = `
MATCH (e:Entity)
RETURN ` + entityReturn + `
ORDER BY id
`

const getFragmentsCypher = `
MATCH (f:Fragment) WHERE f.id IN $ids
OPTIONAL MATCH (f)-[:MENTIONS]->(e:Entity)
WITH f, e ORDER BY e.id
RETURN f.id AS id, f.source_id AS source_id, f.locator AS locator, f.text AS text, f.embedding AS embedding, collect(e.id) AS mentions
ORDER BY id
`

const relationshipsWithinCypher = `
MATCH (a:Entity)-[r:RELATES]->(b:Entity)
WHERE a.id IN $ids AND b.id IN $ids
RETURN ` + relationshipReturn + `
ORDER BY id
`

// relationshipFilterCypher renders a ListRelationships query and its
// parameters.
func relationshipFilterCypher(f store.RelationshipFilter) (string, map[string]any) {
	var where []string
	params := map[string]any{}

	if ids := store.DedupeStrings(f.EntityIDs); len(ids) > 0 {
		where = append(where, "(a.id IN $ids OR b.id IN $ids)")
		params["ids"] = ids
	}
	if f.Origin != "" {
		where = append(where, "r.origin = $origin")
		params["origin"] = string(f.Origin)
	}
	if kinds := store.DedupeStrings(f.Kinds); len(kinds) > 0 {
		where = append(where, "r.kind IN $kinds")
		params["kinds"] = kinds
	}

	var b strings.Builder
	b.WriteString("MATCH (a:Entity)-[r:RELATES]->(b:Entity)")
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, " AND "))
	}
	b.WriteString("\nRETURN " + relationshipReturn + "\nORDER BY id")
	if f.Limit > 0 {
		b.WriteString("\nLIMIT $limit")
		params["limit"] = int64(f.Limit)
	}
	return b.String(), params
}

const entityNamesCypher = `
MATCH (e:Entity)
RETURN e.id AS id, e.name AS name
`

const existingNodesCypher = `
UNWIND $ids AS id
OPTIONAL MATCH (e:Entity {id: id})
OPTIONAL MATCH (f:Fragment {id: id})
WITH id, e, f
WHERE e IS NOT NULL OR f IS NOT NULL
RETURN id
`

// adjacencyCypher returns (from, to) pairs for the given node ids over
// RELATES edges in both directions, filtered by origin, and over MENTIONS
// edges when $mentions is true.
const adjacencyCypher = `
UNWIND $ids AS id
MATCH (:Entity {id: id})-[r:RELATES]-(m:Entity)
WHERE size($origins) = 0 OR r.origin IN $origins
RETURN id AS from, m.id AS to
UNION
UNWIND $ids AS id
MATCH (:Entity {id: id})<-[:MENTIONS]-(f:Fragment)
WHERE $mentions
RETURN id AS from, f.id AS to
UNION
UNWIND $ids AS id
MATCH (:Fragment {id: id})-[:MENTIONS]->(e:Entity)
WHERE $mentions
RETURN id AS from, e.id AS to
`

const resetCypher = `
MATCH (n)
WHERE n:Entity OR n:Fragment
DETACH DELETE n
`
