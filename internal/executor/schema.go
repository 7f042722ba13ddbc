package executor

import (
	"fmt"

	"github.com/forgelabs/agentforge/internal/state"
)

// FieldDecl declares one field of a stage's output schema. Check, when set,
// validates the field's value beyond its registered kind.
type FieldDecl struct {
	Field    state.Field
	Required bool
	Check    func(v any) error
}

// Schema is a stage's declared output shape, validated before any merge.
type Schema struct {
	Stage  string
	Fields []FieldDecl
}

// Validate checks out against the schema: required fields present, every
// field declared, kinds matching the state registry, per-field checks
// passing. Violations are schema errors, not transient ones.
func (s Schema) Validate(out state.Output) error {
	declared := make(map[state.Field]FieldDecl, len(s.Fields))
	for _, d := range s.Fields {
		declared[d.Field] = d
	}

	for _, d := range s.Fields {
		v, ok := out[d.Field]
		if !ok {
			if d.Required {
				return &SchemaError{Stage: s.Stage, Err: fmt.Errorf("required field %q missing", d.Field)}
			}
			continue
		}
		kind, known := state.KindOf(d.Field)
		if !known {
			return &SchemaError{Stage: s.Stage, Err: fmt.Errorf("field %q not registered", d.Field)}
		}
		if err := checkKind(kind, v); err != nil {
			return &SchemaError{Stage: s.Stage, Err: fmt.Errorf("field %q: %w", d.Field, err)}
		}
		if d.Check != nil {
			if err := d.Check(v); err != nil {
				return &SchemaError{Stage: s.Stage, Err: fmt.Errorf("field %q: %w", d.Field, err)}
			}
		}
	}

	for f := range out {
		if _, ok := declared[f]; !ok {
			return &SchemaError{Stage: s.Stage, Err: fmt.Errorf("undeclared field %q in output", f)}
		}
	}
	return nil
}

func checkKind(kind state.Kind, v any) error {
	switch kind {
	case state.KindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected %s, got %T", kind, v)
		}
	case state.KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected %s, got %T", kind, v)
		}
	case state.KindStringList:
		switch vv := v.(type) {
		case []string:
		case []any:
			for i, e := range vv {
				if _, ok := e.(string); !ok {
					return fmt.Errorf("expected %s, element %d is %T", kind, i, e)
				}
			}
		default:
			return fmt.Errorf("expected %s, got %T", kind, v)
		}
	case state.KindObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected %s, got %T", kind, v)
		}
	}
	return nil
}
