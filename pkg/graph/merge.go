package graph

import (
	"sort"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

// accumulator merges partial extractions by id using the store's merge
// rules, so the handoff to the upsert layer holds one record per id.
type accumulator struct {
	entities      map[string]common.Entity
	relationships map[string]common.Relationship
	fragments     map[string]common.Fragment
}

func newAccumulator() *accumulator {
	return &accumulator{
		entities:      make(map[string]common.Entity),
		relationships: make(map[string]common.Relationship),
		fragments:     make(map[string]common.Fragment),
	}
}

func (a *accumulator) add(x *Extraction) {
	if x == nil {
		return
	}
	for _, e := range x.Entities {
		if existing, ok := a.entities[e.ID]; ok {
			a.entities[e.ID] = common.MergeEntity(existing, e)
		} else {
			a.entities[e.ID] = e
		}
	}
	for _, r := range x.Relationships {
		if existing, ok := a.relationships[r.ID]; ok {
			a.relationships[r.ID] = common.MergeRelationship(existing, r)
		} else {
			a.relationships[r.ID] = r
		}
	}
	for _, f := range x.Fragments {
		if existing, ok := a.fragments[f.ID]; ok {
			a.fragments[f.ID] = common.MergeFragment(existing, f)
		} else {
			a.fragments[f.ID] = f
		}
	}
}

// fill writes the merged records into x sorted by id.
func (a *accumulator) fill(x *Extraction) {
	x.Entities = make([]common.Entity, 0, len(a.entities))
	for _, e := range a.entities {
		x.Entities = append(x.Entities, e)
	}
	sort.Slice(x.Entities, func(i, j int) bool { return x.Entities[i].ID < x.Entities[j].ID })

	x.Relationships = make([]common.Relationship, 0, len(a.relationships))
	for _, r := range a.relationships {
		x.Relationships = append(x.Relationships, r)
	}
	sort.Slice(x.Relationships, func(i, j int) bool { return x.Relationships[i].ID < x.Relationships[j].ID })

	x.Fragments = make([]common.Fragment, 0, len(a.fragments))
	for _, f := range a.fragments {
		x.Fragments = append(x.Fragments, f)
	}
	sort.Slice(x.Fragments, func(i, j int) bool { return x.Fragments[i].ID < x.Fragments[j].ID })
}
