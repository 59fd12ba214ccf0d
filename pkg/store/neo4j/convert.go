package neo4j

import (
	"encoding/json"
	"fmt"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

// Neo4j stores lists of primitives only, so provenance and locators are
// kept as JSON strings. Equal values encode to equal strings, which lets
// the merge statements union them with IN.

func encodeProvenance(p []common.Provenance) []string {
	p = common.UnionProvenance(nil, p)
	out := make([]string, 0, len(p))
	for _, v := range p {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	return out
}

func decodeProvenance(v any) []common.Provenance {
	var out []common.Provenance
	for _, s := range asStrings(v) {
		var p common.Provenance
		if err := json.Unmarshal([]byte(s), &p); err == nil {
			out = append(out, p)
		}
	}
	return common.UnionProvenance(nil, out)
}

func encodeLocator(l common.Locator) string {
	b, err := json.Marshal(l)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeLocator(v any) common.Locator {
	var l common.Locator
	if s, ok := v.(string); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &l)
	}
	return l
}

// encodeVector returns nil for an absent embedding so the property is not
// set.
func encodeVector(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func decodeVector(v any) []float32 {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, x := range list {
		out = append(out, float32(asFloat(x)))
	}
	return out
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func asFloat(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int64:
		return float64(f)
	case int:
		return float64(f)
	}
	return 0
}

func asInt(v any) int {
	switch i := v.(type) {
	case int64:
		return int(i)
	case int:
		return i
	case float64:
		return int(i)
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, x := range list {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// values is the subset of a record used by the decoders.
type values interface {
	Get(key string) (any, bool)
}

func get(r values, key string) any {
	v, _ := r.Get(key)
	return v
}

func decodeEntity(r values) common.Entity {
	return common.Entity{
		ID:          asString(get(r, "id")),
		Name:        asString(get(r, "name")),
		Type:        common.EntityType(asString(get(r, "type"))),
		Description: asString(get(r, "description")),
		Embedding:   decodeVector(get(r, "embedding")),
		Provenance:  decodeProvenance(get(r, "provenance")),
	}
}

func decodeRelationship(r values) common.Relationship {
	return common.Relationship{
		ID:         asString(get(r, "id")),
		Source:     asString(get(r, "source")),
		Target:     asString(get(r, "target")),
		Kind:       asString(get(r, "kind")),
		Origin:     common.Origin(asString(get(r, "origin"))),
		Confidence: common.ClampConfidence(asFloat(get(r, "confidence"))),
		Provenance: decodeProvenance(get(r, "provenance")),
		Reasoning:  asString(get(r, "reasoning")),
	}
}

func decodeFragment(r values) common.Fragment {
	f := common.Fragment{
		ID:        asString(get(r, "id")),
		SourceID:  asString(get(r, "source_id")),
		Locator:   decodeLocator(get(r, "locator")),
		Text:      asString(get(r, "text")),
		Embedding: decodeVector(get(r, "embedding")),
	}
	if m := asStrings(get(r, "mentions")); len(m) > 0 {
		f.Mentions = common.MergeMentions(nil, m)
	}
	return f
}
