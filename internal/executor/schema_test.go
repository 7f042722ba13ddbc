package executor

import (
	"fmt"
	"testing"

	"github.com/forgelabs/agentforge/internal/state"
)

func codeSchema() Schema {
	return Schema{
		Stage: "generate_code",
		Fields: []FieldDecl{
			{Field: state.FieldAgentCode, Required: true},
			{Field: state.FieldValidationStatus},
			{Field: state.FieldDocumentationRefs},
		},
	}
}

func TestSchemaValidateOK(t *testing.T) {
	out := state.Output{
		state.FieldAgentCode:         "code",
		state.FieldDocumentationRefs: []any{"ref"},
	}
	if err := codeSchema().Validate(out); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestSchemaValidateMissingRequired(t *testing.T) {
	err := codeSchema().Validate(state.Output{state.FieldValidationStatus: "passed"})
	if err == nil {
		t.Fatal("missing required field did not error")
	}
	if !IsSchema(err) {
		t.Errorf("error %v is not a schema error", err)
	}
}

func TestSchemaValidateUndeclaredField(t *testing.T) {
	out := state.Output{
		state.FieldAgentCode: "code",
		state.FieldPlan:      map[string]any{},
	}
	if err := codeSchema().Validate(out); err == nil {
		t.Error("undeclared field did not error")
	}
}

func TestSchemaValidateKindMismatch(t *testing.T) {
	out := state.Output{state.FieldAgentCode: 12}
	if err := codeSchema().Validate(out); err == nil {
		t.Error("kind mismatch did not error")
	}
}

func TestSchemaValidateFieldCheck(t *testing.T) {
	s := Schema{
		Stage: "draft_plan",
		Fields: []FieldDecl{{
			Field:    state.FieldPlan,
			Required: true,
			Check: func(v any) error {
				plan := v.(map[string]any)
				if plan["strategy"] == nil {
					return fmt.Errorf("plan has no strategy")
				}
				return nil
			},
		}},
	}

	good := state.Output{state.FieldPlan: map[string]any{"strategy": "single_agent"}}
	if err := s.Validate(good); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	bad := state.Output{state.FieldPlan: map[string]any{}}
	if err := s.Validate(bad); err == nil {
		t.Error("failing check did not error")
	}
}
