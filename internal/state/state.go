package state

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Field names a single typed slot in the pipeline state.
type Field string

// Fields accumulated across an agent-generation run. Inputs are seeded at run
// start; the rest are produced by stages.
const (
	FieldSOP                Field = "sop"
	FieldKBDescription      Field = "kb_description"
	FieldHandoffDescription Field = "handoff_description"
	FieldKnowledgeBaseID    Field = "knowledge_base_id"
	FieldAgentID            Field = "agent_id"
	FieldPersonalityText    Field = "personality_text"

	FieldPersonality         Field = "personality"
	FieldRequirements        Field = "requirements"
	FieldPlan                Field = "plan"
	FieldPlanFeedback        Field = "plan_feedback"
	FieldAgentCode           Field = "agent_code"
	FieldValidationStatus    Field = "validation_status"
	FieldDocumentationRefs   Field = "documentation_refs"
	FieldImplementationNotes Field = "implementation_notes"
	FieldCodeFeedback        Field = "code_feedback"
	FieldGeneratedPrompt     Field = "generated_prompt"
	FieldFinalCode           Field = "final_code"
)

// Kind is the value type a field holds.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindStringList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindStringList:
		return "string list"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

type fieldSpec struct {
	Kind      Kind
	Revisable bool
}

// registry declares every known field. Write-once unless Revisable: fields a
// gate's draft stage owns are rewritten on each revise pass, everything else
// is set exactly once.
var registry = map[Field]fieldSpec{
	FieldSOP:                {Kind: KindString},
	FieldKBDescription:      {Kind: KindString},
	FieldHandoffDescription: {Kind: KindString},
	FieldKnowledgeBaseID:    {Kind: KindString},
	FieldAgentID:            {Kind: KindString},
	FieldPersonalityText:    {Kind: KindString},

	FieldPersonality:         {Kind: KindObject},
	FieldRequirements:        {Kind: KindObject},
	FieldPlan:                {Kind: KindObject, Revisable: true},
	FieldPlanFeedback:        {Kind: KindString, Revisable: true},
	FieldAgentCode:           {Kind: KindString, Revisable: true},
	FieldValidationStatus:    {Kind: KindString, Revisable: true},
	FieldDocumentationRefs:   {Kind: KindStringList, Revisable: true},
	FieldImplementationNotes: {Kind: KindString, Revisable: true},
	FieldCodeFeedback:        {Kind: KindString, Revisable: true},
	FieldGeneratedPrompt:     {Kind: KindObject},
	FieldFinalCode:           {Kind: KindString},
}

// Known reports whether f is a registered field.
func Known(f Field) bool {
	_, ok := registry[f]
	return ok
}

// Revisable reports whether f may be overwritten after it is first set.
func Revisable(f Field) bool {
	return registry[f].Revisable
}

// KindOf returns the declared kind for a registered field.
func KindOf(f Field) (Kind, bool) {
	spec, ok := registry[f]
	return spec.Kind, ok
}

// Inputs is the initial request payload seeded into a fresh state.
type Inputs struct {
	SOP                string `json:"sop"`
	KBDescription      string `json:"kb_description"`
	HandoffDescription string `json:"handoff_description"`
	KnowledgeBaseID    string `json:"knowledge_base_id"`
	AgentID            string `json:"agent_id"`
	PersonalityText    string `json:"personality_text,omitempty"`
}

// Validate checks the required input fields are present.
func (in Inputs) Validate() error {
	if in.SOP == "" {
		return fmt.Errorf("inputs: sop is required")
	}
	if in.KBDescription == "" {
		return fmt.Errorf("inputs: kb_description is required")
	}
	if in.HandoffDescription == "" {
		return fmt.Errorf("inputs: handoff_description is required")
	}
	return nil
}

// Output is the set of field updates a stage produced in one invocation.
type Output map[Field]any

// State is the accumulating record for one run. It is additive: a field
// written by an earlier stage is never deleted, only overwritten when
// revisable. Not safe for concurrent use; each run owns exactly one State.
type State struct {
	runID                string
	values               map[Field]any
	acceptedWithWarnings bool
	frozen               bool
}

// New creates a State seeded from the initial request payload.
func New(runID string, in Inputs) (*State, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	s := &State{runID: runID, values: make(map[Field]any)}
	s.values[FieldSOP] = in.SOP
	s.values[FieldKBDescription] = in.KBDescription
	s.values[FieldHandoffDescription] = in.HandoffDescription
	if in.KnowledgeBaseID != "" {
		s.values[FieldKnowledgeBaseID] = in.KnowledgeBaseID
	}
	if in.AgentID != "" {
		s.values[FieldAgentID] = in.AgentID
	}
	if in.PersonalityText != "" {
		s.values[FieldPersonalityText] = in.PersonalityText
	}
	return s, nil
}

// RunID returns the id of the run this state belongs to.
func (s *State) RunID() string { return s.runID }

// Merge applies a stage's output. Unknown fields, kind mismatches and
// write-once collisions all fail loudly — a collision on a non-revisable
// field is a programming error in the pipeline wiring, not a recoverable
// condition.
func (s *State) Merge(node string, out Output) error {
	if s.frozen {
		return fmt.Errorf("state for run %s is frozen, node %q may not merge", s.runID, node)
	}
	// Validate the whole batch before applying any of it.
	for f, v := range out {
		spec, ok := registry[f]
		if !ok {
			return fmt.Errorf("node %q produced unknown field %q", node, f)
		}
		norm, err := normalize(spec.Kind, v)
		if err != nil {
			return fmt.Errorf("node %q field %q: %w", node, f, err)
		}
		if _, exists := s.values[f]; exists && !spec.Revisable {
			return fmt.Errorf("node %q rewrote write-once field %q", node, f)
		}
		out[f] = norm
	}
	for f, v := range out {
		s.values[f] = v
	}
	return nil
}

// Has reports whether f has been written.
func (s *State) Has(f Field) bool {
	_, ok := s.values[f]
	return ok
}

// Get returns the raw value for f.
func (s *State) Get(f Field) (any, bool) {
	v, ok := s.values[f]
	return v, ok
}

// GetString returns the string value of f, or "" when unset.
func (s *State) GetString(f Field) string {
	v, _ := s.values[f].(string)
	return v
}

// GetStringList returns the string-list value of f, or nil when unset.
func (s *State) GetStringList(f Field) []string {
	v, _ := s.values[f].([]string)
	return v
}

// GetObject returns the object value of f, or nil when unset.
func (s *State) GetObject(f Field) map[string]any {
	v, _ := s.values[f].(map[string]any)
	return v
}

// SetAcceptedWithWarnings annotates the run as having passed a gate by
// forced acceptance.
func (s *State) SetAcceptedWithWarnings() { s.acceptedWithWarnings = true }

// AcceptedWithWarnings reports whether any gate was force-accepted.
func (s *State) AcceptedWithWarnings() bool { return s.acceptedWithWarnings }

// Freeze marks the state terminal. Further merges error.
func (s *State) Freeze() { s.frozen = true }

// Frozen reports whether the state has been frozen at a terminal node.
func (s *State) Frozen() bool { return s.frozen }

// Fields returns the names of all written fields, sorted.
func (s *State) Fields() []Field {
	out := make([]Field, 0, len(s.values))
	for f := range s.values {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Artifacts returns a copy of the given fields and their values, for the
// final output record. Unset fields are skipped.
func (s *State) Artifacts(fields ...Field) map[string]any {
	out := make(map[string]any)
	for _, f := range fields {
		if v, ok := s.values[f]; ok {
			out[string(f)] = v
		}
	}
	return out
}

// View returns a read-only view restricted to the listed fields. Executors
// receive only the slice of state their node is documented to depend on.
func (s *State) View(fields ...Field) *View {
	allowed := make(map[Field]bool, len(fields))
	for _, f := range fields {
		allowed[f] = true
	}
	return &View{state: s, allowed: allowed}
}

// View is an immutable, field-restricted read view of a State.
type View struct {
	state   *State
	allowed map[Field]bool
}

// RunID returns the id of the underlying run.
func (v *View) RunID() string { return v.state.runID }

// Has reports whether f is visible and written.
func (v *View) Has(f Field) bool {
	return v.allowed[f] && v.state.Has(f)
}

// Get returns the value of f if the view permits reading it.
func (v *View) Get(f Field) (any, bool) {
	if !v.allowed[f] {
		return nil, false
	}
	return v.state.Get(f)
}

// GetString returns the string value of f, or "" when unset or not visible.
func (v *View) GetString(f Field) string {
	raw, _ := v.Get(f)
	s, _ := raw.(string)
	return s
}

// GetObject returns the object value of f, or nil when unset or not visible.
func (v *View) GetObject(f Field) map[string]any {
	raw, _ := v.Get(f)
	m, _ := raw.(map[string]any)
	return m
}

// normalize coerces v into the canonical Go representation for kind.
// JSON round-trips turn []string into []any; this undoes that.
func normalize(kind Kind, v any) (any, error) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case KindStringList:
		switch vv := v.(type) {
		case []string:
			return vv, nil
		case []any:
			out := make([]string, len(vv))
			for i, e := range vv {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("expected string list, element %d is %T", i, e)
				}
				out[i] = s
			}
			return out, nil
		default:
			return nil, fmt.Errorf("expected string list, got %T", v)
		}
	case KindObject:
		m, ok := v.(map[string]any)
		if !ok || m == nil {
			return nil, fmt.Errorf("expected object, got %T", v)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown kind %v", kind)
	}
}

// stateJSON is the serialized form of State.
type stateJSON struct {
	RunID                string         `json:"run_id"`
	Values               map[string]any `json:"values"`
	AcceptedWithWarnings bool           `json:"accepted_with_warnings"`
	Frozen               bool           `json:"frozen"`
}

// MarshalJSON implements json.Marshaler.
func (s *State) MarshalJSON() ([]byte, error) {
	values := make(map[string]any, len(s.values))
	for f, v := range s.values {
		values[string(f)] = v
	}
	return json.Marshal(stateJSON{
		RunID:                s.runID,
		Values:               values,
		AcceptedWithWarnings: s.acceptedWithWarnings,
		Frozen:               s.frozen,
	})
}

// UnmarshalJSON implements json.Unmarshaler, re-normalizing loaded values
// against the field registry.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	values := make(map[Field]any, len(raw.Values))
	for name, v := range raw.Values {
		f := Field(name)
		spec, ok := registry[f]
		if !ok {
			return fmt.Errorf("unmarshal state: unknown field %q", name)
		}
		norm, err := normalize(spec.Kind, v)
		if err != nil {
			return fmt.Errorf("unmarshal state field %q: %w", name, err)
		}
		values[f] = norm
	}
	s.runID = raw.RunID
	s.values = values
	s.acceptedWithWarnings = raw.AcceptedWithWarnings
	s.frozen = raw.Frozen
	return nil
}
