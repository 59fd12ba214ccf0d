package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
)

// defaultConfidence is used when the model reports no confidence.
const defaultConfidence = 0.5

var errInvalidResponse = errors.New("invalid extraction response")

type extractEntity struct {
	Name        string `json:"name" jsonschema_description:"Full name of the entity as written in the text"`
	Type        string `json:"type" jsonschema_description:"One of the allowed entity types"`
	Description string `json:"description" jsonschema_description:"One sentence describing the entity, based only on the text"`
}

type extractRelationship struct {
	Source     string  `json:"source" jsonschema_description:"Name of the source entity, exactly as in the entity list"`
	Target     string  `json:"target" jsonschema_description:"Name of the target entity, exactly as in the entity list"`
	Kind       string  `json:"kind" jsonschema_description:"Relationship kind in UPPER_SNAKE_CASE"`
	Confidence float64 `json:"confidence" jsonschema_description:"How clearly the text states the relationship, between 0 and 1"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities mentioned in the text"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships the text states between the entities"`
}

func (x *Extractor) typeList() string {
	names := make([]string, len(x.entityTypes))
	for i, t := range x.entityTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// extractFromUnit asks the model for the entities and relationships of one
// unit. A single call is bounded by the extractor's call timeout.
func (x *Extractor) extractFromUnit(ctx context.Context, sourceID string, unit processUnit) (*Extraction, error) {
	if x.client == nil {
		return nil, ai.ErrNotConfigured
	}
	if x.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.callTimeout)
		defer cancel()
	}

	section := unit.section
	if section == "" {
		section = "-"
	}
	prompt := fmt.Sprintf(ai.ExtractionPrompt, x.typeList(), section, unit.text)

	var res extractResponse
	err := x.client.GenerateCompletionWithFormat(
		ctx,
		"extract_entities_and_relationships",
		"Extract entities and relationships from a document section.",
		prompt,
		&res,
	)
	if err != nil {
		return nil, err
	}
	if res.Entities == nil && res.Relationships == nil {
		return nil, fmt.Errorf("%w: no entities or relationships key", errInvalidResponse)
	}
	return x.validate(sourceID, unit, res), nil
}

// validate converts a model response into graph records, dropping entries
// that do not fit the schema instead of failing the unit.
func (x *Extractor) validate(sourceID string, unit processUnit, res extractResponse) *Extraction {
	out := &Extraction{SourceID: sourceID}
	prov := common.Provenance{SourceID: sourceID, Locator: unit.locator}

	byName := make(map[string]string, len(res.Entities))
	seen := make(map[string]bool, len(res.Entities))
	dropped := 0
	for _, ee := range res.Entities {
		name := strings.TrimSpace(ee.Name)
		norm := common.NormalizeName(name)
		if norm == "" || utf8.RuneCountInString(name) > maxNameRunes*2 {
			dropped++
			continue
		}
		e := common.NewEntity(name, x.entityType(ee.Type), prov)
		e.Description = strings.TrimSpace(ee.Description)
		if _, ok := byName[norm]; !ok {
			byName[norm] = e.ID
		}
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out.Entities = append(out.Entities, e)
	}

	for _, er := range res.Relationships {
		src, okS := byName[common.NormalizeName(er.Source)]
		dst, okT := byName[common.NormalizeName(er.Target)]
		if !okS || !okT || src == dst {
			dropped++
			continue
		}
		conf := er.Confidence
		if conf == 0 {
			conf = defaultConfidence
		}
		out.Relationships = append(out.Relationships,
			common.NewRelationship(src, dst, er.Kind, conf, common.OriginExplicit, prov))
	}

	if dropped > 0 {
		logger.Warn("[Extract] Dropped malformed entries", "source_id", sourceID, "locator", unit.locator.String(), "count", dropped)
	}

	frag := common.NewFragment(sourceID, unit.locator, unit.text)
	for _, e := range out.Entities {
		frag.Mentions = append(frag.Mentions, e.ID)
	}
	frag.Mentions = common.MergeMentions(nil, frag.Mentions)
	out.Fragments = append(out.Fragments, frag)
	return out
}

// entityType maps the model's label onto the configured types.
func (x *Extractor) entityType(label string) common.EntityType {
	t := common.ParseEntityType(label)
	for _, allowed := range x.entityTypes {
		if allowed == t {
			return t
		}
	}
	return common.TypeOther
}
