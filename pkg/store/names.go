package store

import (
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"

	"github.com/sahilm/fuzzy"
)

// FuzzyWeight keeps fuzzy name matches below exact ones.
const FuzzyWeight = 0.8

// NameIndex is a list of entity ids with their normalized names, used by
// backends that rank name matches in process.
type NameIndex struct {
	IDs   []string
	Names []string
}

func (n *NameIndex) Add(id, name string) {
	n.IDs = append(n.IDs, id)
	n.Names = append(n.Names, common.NormalizeName(name))
}

func (n *NameIndex) String(i int) string { return n.Names[i] }
func (n *NameIndex) Len() int            { return len(n.Names) }

// Rank scores every indexed name against the terms. Exact normalized
// matches score 1, containment FuzzyWeight, other subsequence matches a
// fraction of FuzzyWeight by the share of matched characters.
func (n *NameIndex) Rank(terms []string, limit int) []Hit {
	best := make(map[string]float64)
	for _, term := range terms {
		term = common.NormalizeName(term)
		if term == "" {
			continue
		}
		for i, name := range n.Names {
			if name == term {
				best[n.IDs[i]] = 1
			}
		}
		for _, match := range fuzzy.FindFrom(term, n) {
			name := n.Names[match.Index]
			score := FuzzyWeight * float64(len(match.MatchedIndexes)) / float64(max(len([]rune(name)), 1))
			if strings.Contains(name, term) || strings.Contains(term, name) {
				score = max(score, FuzzyWeight)
			}
			id := n.IDs[match.Index]
			best[id] = max(best[id], min(score, 1))
		}
	}

	hits := make([]Hit, 0, len(best))
	for id, score := range best {
		hits = append(hits, Hit{ID: id, Kind: NodeEntity, Score: score})
	}
	SortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
