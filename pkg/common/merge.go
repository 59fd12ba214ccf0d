package common

import (
	"slices"
	"strings"
)

// UnionProvenance returns the sorted set union of a and b.
func UnionProvenance(a, b []Provenance) []Provenance {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]Provenance, len(a)+len(b))
	for _, p := range a {
		seen[p.Key()] = p
	}
	for _, p := range b {
		seen[p.Key()] = p
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]Provenance, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}

// MergeEntity applies the entity merge rule: provenance is unioned, the
// existing embedding wins unless it is absent, and an empty description is
// filled from the incoming entity.
func MergeEntity(existing, incoming Entity) Entity {
	out := existing
	out.Provenance = UnionProvenance(existing.Provenance, incoming.Provenance)
	if len(out.Embedding) == 0 && len(incoming.Embedding) > 0 {
		out.Embedding = slices.Clone(incoming.Embedding)
	}
	if strings.TrimSpace(out.Description) == "" {
		out.Description = incoming.Description
	}
	if out.Name == "" {
		out.Name = incoming.Name
	}
	return out
}

// MergeRelationship applies the edge merge rule: confidence is the maximum
// of both, provenance is unioned. Callers must only merge edges with equal
// keys.
func MergeRelationship(existing, incoming Relationship) Relationship {
	out := existing
	out.Confidence = max(existing.Confidence, ClampConfidence(incoming.Confidence))
	if existing.Origin != OriginInferred {
		out.Provenance = UnionProvenance(existing.Provenance, incoming.Provenance)
	}
	if out.Reasoning == "" {
		out.Reasoning = incoming.Reasoning
	}
	return out
}

// MergeMentions unions two id lists keeping a sorted order.
func MergeMentions(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// MergeFragment keeps the existing embedding unless it is absent and
// unions the mentioned entity ids.
func MergeFragment(existing, incoming Fragment) Fragment {
	out := existing
	if len(out.Embedding) == 0 && len(incoming.Embedding) > 0 {
		out.Embedding = slices.Clone(incoming.Embedding)
	}
	out.Mentions = MergeMentions(existing.Mentions, incoming.Mentions)
	return out
}
