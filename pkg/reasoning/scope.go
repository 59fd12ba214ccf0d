package reasoning

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"

	"github.com/google/cel-go/cel"
)

// Scope selects the entities an inference pass may connect. It is a CEL
// expression over name, type, description and sources, for example
//
//	type == "Person" && sources.exists(s, s.startsWith("hr/"))
//
// A nil Scope selects every entity.
type Scope struct {
	expr string
	prg  cel.Program
}

var scopeEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("sources", cel.ListType(cel.StringType)),
	)
})

// ParseScope compiles expr. An empty expression yields a nil Scope.
func ParseScope(expr string) (*Scope, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := scopeEnv()
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("invalid scope %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("invalid scope %q: must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("invalid scope %q: %w", expr, err)
	}
	return &Scope{expr: expr, prg: prg}, nil
}

func (s *Scope) String() string {
	if s == nil {
		return "*"
	}
	return s.expr
}

// Match reports whether e is inside the scope.
func (s *Scope) Match(e common.Entity) (bool, error) {
	if s == nil {
		return true, nil
	}
	sources := make([]string, 0, len(e.Provenance))
	for _, p := range e.Provenance {
		sources = append(sources, p.SourceID)
	}
	out, _, err := s.prg.Eval(map[string]any{
		"name":        e.Name,
		"type":        string(e.Type),
		"description": e.Description,
		"sources":     sources,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate scope on %s: %w", e.ID, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("scope did not evaluate to bool")
	}
	return b, nil
}
