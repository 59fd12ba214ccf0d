package common

import (
	"fmt"
	"strings"
)

// EntityType enumerates the kinds of nodes the graph holds.
type EntityType string

const (
	TypePerson       EntityType = "Person"
	TypeOrganization EntityType = "Organization"
	TypeConcept      EntityType = "Concept"
	TypeDocument     EntityType = "Document"
	TypeLocation     EntityType = "Location"
	TypeOther        EntityType = "Other"
)

// EntityTypes lists every valid type in a stable order.
var EntityTypes = []EntityType{TypePerson, TypeOrganization, TypeConcept, TypeDocument, TypeLocation, TypeOther}

var entityTypeAliases = map[string]EntityType{
	"person":       TypePerson,
	"people":       TypePerson,
	"individual":   TypePerson,
	"organization": TypeOrganization,
	"organisation": TypeOrganization,
	"org":          TypeOrganization,
	"company":      TypeOrganization,
	"institution":  TypeOrganization,
	"concept":      TypeConcept,
	"idea":         TypeConcept,
	"topic":        TypeConcept,
	"document":     TypeDocument,
	"doc":          TypeDocument,
	"file":         TypeDocument,
	"location":     TypeLocation,
	"place":        TypeLocation,
	"city":         TypeLocation,
	"country":      TypeLocation,
	"other":        TypeOther,
}

// ParseEntityType maps a free-form label onto the enumeration. Unknown labels
// become TypeOther.
func ParseEntityType(label string) EntityType {
	if t, ok := entityTypeAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return t
	}
	return TypeOther
}

// Valid reports whether t is one of the enumerated types.
func (t EntityType) Valid() bool {
	for _, v := range EntityTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Origin tells whether a relationship was read from a source or inferred
// from graph structure.
type Origin string

const (
	OriginExplicit Origin = "Explicit"
	OriginInferred Origin = "Inferred"
)

// Locator points at a position inside a source document. Zero fields are
// unknown; Page, Row and Line are 1-based. Path addresses an element of a
// structured document, such as "orders[2].customer".
type Locator struct {
	Page  int    `json:"page,omitempty"`
	Row   int    `json:"row,omitempty"`
	Line  int    `json:"line,omitempty"`
	Sheet string `json:"sheet,omitempty"`
	Path  string `json:"path,omitempty"`
}

func (l Locator) IsZero() bool {
	return l == Locator{}
}

func (l Locator) String() string {
	parts := make([]string, 0, 4)
	if l.Sheet != "" {
		parts = append(parts, "sheet "+l.Sheet)
	}
	if l.Page > 0 {
		parts = append(parts, fmt.Sprintf("page %d", l.Page))
	}
	if l.Row > 0 {
		parts = append(parts, fmt.Sprintf("row %d", l.Row))
	}
	if l.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", l.Line))
	}
	if l.Path != "" {
		parts = append(parts, l.Path)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// Provenance links a graph element back to the place it was read from.
type Provenance struct {
	SourceID string  `json:"source_id"`
	Locator  Locator `json:"locator"`
}

// Key is a stable string form used for set semantics and storage.
func (p Provenance) Key() string {
	return fmt.Sprintf("%s#%s|%d|%d|%d|%s", p.SourceID, p.Locator.Sheet, p.Locator.Page, p.Locator.Row, p.Locator.Line, p.Locator.Path)
}

// Entity represents a node in the graph. Its ID is derived from the
// normalized name and type, so the same real-world thing mentioned by
// different documents always maps to the same node.
//
// Provenance is kept as a sorted, duplicate-free set. Embedding is nil until
// computed.
type Entity struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        EntityType   `json:"type"`
	Description string       `json:"description,omitempty"`
	Embedding   []float32    `json:"embedding,omitempty"`
	Provenance  []Provenance `json:"provenance"`
}

// NewEntity builds an entity with its deterministic id.
func NewEntity(name string, typ EntityType, prov ...Provenance) Entity {
	if !typ.Valid() {
		typ = TypeOther
	}
	return Entity{
		ID:         EntityID(name, typ),
		Name:       strings.TrimSpace(name),
		Type:       typ,
		Provenance: UnionProvenance(nil, prov),
	}
}

// Relationship represents a directed edge between two entities.
//
// The tuple (Source, Target, Kind, Origin) identifies the edge; re-ingesting
// it merges into the existing edge instead of adding another. Inferred edges
// carry no provenance and may carry the model's reasoning.
type Relationship struct {
	ID         string       `json:"id"`
	Source     string       `json:"source"`
	Target     string       `json:"target"`
	Kind       string       `json:"kind"`
	Confidence float64      `json:"confidence"`
	Origin     Origin       `json:"origin"`
	Provenance []Provenance `json:"provenance,omitempty"`
	Reasoning  string       `json:"reasoning,omitempty"`
}

// RelationshipKey is the identity of an edge.
type RelationshipKey struct {
	Source string
	Target string
	Kind   string
	Origin Origin
}

func (k RelationshipKey) String() string {
	return fmt.Sprintf("%s-[%s/%s]->%s", k.Source, k.Kind, k.Origin, k.Target)
}

// NewRelationship builds a relationship with a normalized kind, clamped
// confidence and its deterministic id.
func NewRelationship(source, target, kind string, confidence float64, origin Origin, prov ...Provenance) Relationship {
	r := Relationship{
		Source:     source,
		Target:     target,
		Kind:       NormalizeKind(kind),
		Confidence: ClampConfidence(confidence),
		Origin:     origin,
	}
	if origin != OriginInferred {
		r.Provenance = UnionProvenance(nil, prov)
	}
	r.ID = RelationshipID(r.Key())
	return r
}

func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{Source: r.Source, Target: r.Target, Kind: r.Kind, Origin: r.Origin}
}

// Fragment is a persisted span of document text. Fragments are retrievable
// alongside entities and link to the entities mentioned in them.
type Fragment struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	Locator   Locator   `json:"locator"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`
}

// NewFragment builds a fragment with its deterministic id.
func NewFragment(sourceID string, loc Locator, text string) Fragment {
	return Fragment{
		ID:       FragmentID(sourceID, loc, text),
		SourceID: sourceID,
		Locator:  loc,
		Text:     text,
	}
}

// Graph is a snapshot of the store used for export and visualization.
type Graph struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// ClampConfidence forces c into [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case c != c:
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
