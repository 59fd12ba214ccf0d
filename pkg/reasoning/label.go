package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

var errUnlabelled = errors.New("model did not label the pair")

type labelResponse struct {
	Related    bool    `json:"related" jsonschema_description:"Whether the structure supports a direct relationship from A to B"`
	Kind       string  `json:"kind" jsonschema_description:"Relationship kind from A to B in UPPER_SNAKE_CASE"`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence between 0 and 1"`
	Reasoning  string  `json:"reasoning" jsonschema_description:"One short sentence citing the edges used"`
}

func describe(e common.Entity) string {
	if e.Description == "" {
		return fmt.Sprintf("%s (%s)", e.Name, e.Type)
	}
	return fmt.Sprintf("%s (%s): %s", e.Name, e.Type, e.Description)
}

func evidenceLines(c Candidate, names map[string]string) string {
	var sb strings.Builder
	for _, r := range c.Evidence {
		fmt.Fprintf(&sb, "- %s -[%s]-> %s\n", names[r.Source], r.Kind, names[r.Target])
	}
	return strings.TrimRight(sb.String(), "\n")
}

// label asks the model to name the relationship a candidate implies. It
// returns ok=false when the model declines.
func (r *Reasoner) label(ctx context.Context, c Candidate, names map[string]string) (common.Relationship, bool, error) {
	if r.client == nil {
		return common.Relationship{}, false, ai.ErrNotConfigured
	}
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(ai.InferencePrompt, describe(c.Source), describe(c.Target), evidenceLines(c, names))
	var resp labelResponse
	err := r.client.GenerateCompletionWithFormat(ctx, "label_inferred_relationship",
		"Label the relationship implied between two entities", prompt, &resp)
	if err != nil {
		return common.Relationship{}, false, err
	}
	if !resp.Related || resp.Confidence <= 0 {
		return common.Relationship{}, false, nil
	}
	if strings.TrimSpace(resp.Kind) == "" {
		return common.Relationship{}, false, errUnlabelled
	}

	rel := common.NewRelationship(c.Source.ID, c.Target.ID, resp.Kind, resp.Confidence, common.OriginInferred)
	rel.Reasoning = strings.TrimSpace(resp.Reasoning)
	return rel, true, nil
}
