package compliance

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/openedc/ledgercore/pkg/event"
)

// RuleSet holds compiled completeness rules. Rules are CEL expressions over
// a record's envelope fields; every rule must evaluate to true for the
// record to count as complete.
type RuleSet struct {
	programs map[string]cel.Program
}

// CompileRules builds a RuleSet from named CEL expressions. Expressions see
// the record envelope as typed variables and must produce a bool.
func CompileRules(exprs map[string]string) (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("subject_id", cel.StringType),
		cel.Variable("scope_id", cel.StringType),
		cel.Variable("actor_id", cel.StringType),
		cel.Variable("actor_role", cel.StringType),
		cel.Variable("reason", cel.StringType),
		cel.Variable("payload", cel.DynType),
		cel.Variable("has_parent", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("compliance rules env: %w", err)
	}

	rs := &RuleSet{programs: make(map[string]cel.Program, len(exprs))}
	for name, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %q must evaluate to bool, got %s", name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program rule %q: %w", name, err)
		}
		rs.programs[name] = prg
	}
	return rs, nil
}

// Evaluate runs every rule against one record and reports whether all pass.
func (rs *RuleSet) Evaluate(rec event.Record) (bool, error) {
	if rs == nil || len(rs.programs) == 0 {
		return true, nil
	}

	var payload any
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return false, fmt.Errorf("record %d payload: %w", rec.SequenceID, err)
		}
	}
	vars := map[string]any{
		"kind":       string(rec.Kind),
		"subject_id": rec.SubjectID,
		"scope_id":   rec.ScopeID,
		"actor_id":   rec.ActorID,
		"actor_role": rec.ActorRole,
		"reason":     rec.Reason,
		"payload":    payload,
		"has_parent": rec.ParentSequenceID != nil,
	}

	for name, prg := range rs.programs {
		out, _, err := prg.Eval(vars)
		if err != nil {
			return false, fmt.Errorf("rule %q on record %d: %w", name, rec.SequenceID, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return false, fmt.Errorf("rule %q produced non-bool", name)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
