// Package creator wires the agent-generation pipeline: parse the SOP and
// personality, draft an architecture plan behind a review gate, generate
// agent code behind a second review gate, then produce the system prompt.
package creator

import (
	"context"
	"fmt"

	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/graph"
	"github.com/forgelabs/agentforge/internal/state"
)

// Node ids of the pipeline. The two gated nodes double as gate names in the
// configuration.
const (
	NodeParsePersonality  graph.NodeID = "parse_personality"
	NodeParseRequirements graph.NodeID = "parse_requirements"
	NodeDraftPlan         graph.NodeID = "draft_plan"
	NodeReviewPlan        graph.NodeID = "review_plan"
	NodeGenerateCode      graph.NodeID = "generate_code"
	NodeReviewCode        graph.NodeID = "review_code"
	NodeGeneratePrompt    graph.NodeID = "generate_prompt"
)

// ArtifactFields are the state fields surfaced in the final output record.
var ArtifactFields = []state.Field{
	state.FieldRequirements,
	state.FieldPlan,
	state.FieldGeneratedPrompt,
	state.FieldFinalCode,
	state.FieldValidationStatus,
	state.FieldDocumentationRefs,
	state.FieldImplementationNotes,
}

// Strategies the plan may declare. Executor variants are selected by this
// field, not by object identity.
const (
	StrategySingleAgent = "single_agent"
	StrategyMultiAgent  = "multi_agent"
)

func checkStrategy(v any) error {
	plan, _ := v.(map[string]any)
	s, _ := plan["strategy"].(string)
	switch s {
	case StrategySingleAgent, StrategyMultiAgent:
		return nil
	default:
		return fmt.Errorf("plan strategy must be %q or %q, got %q", StrategySingleAgent, StrategyMultiAgent, s)
	}
}

// Build constructs the validated pipeline graph with LLM executors bound to
// the given chat client.
func Build(client executor.ChatClient, opts executor.LLMOptions) (*graph.Graph, error) {
	parsePersonality := &personalityExecutor{
		llm: executor.NewLLM(client, opts, string(NodeParsePersonality), systemPrompt, personalityTemplate,
			personalityVars,
			executor.Binding{WholeTo: state.FieldPersonality}),
	}

	parseRequirements := executor.NewLLM(client, opts, string(NodeParseRequirements), systemPrompt, requirementsTemplate,
		requirementsVars,
		executor.Binding{WholeTo: state.FieldRequirements})

	draftPlan := executor.NewLLM(client, opts, string(NodeDraftPlan), systemPrompt, draftPlanTemplate,
		draftPlanVars,
		executor.Binding{WholeTo: state.FieldPlan})

	reviewPlan := executor.NewLLM(client, opts, string(NodeReviewPlan), systemPrompt, reviewPlanTemplate,
		reviewPlanVars,
		executor.Binding{Verdict: true, FeedbackTo: state.FieldPlanFeedback})

	generateCode := executor.NewLLM(client, opts, string(NodeGenerateCode), systemPrompt, generateCodeTemplate,
		generateCodeVars,
		executor.Binding{Keys: map[string]state.Field{
			"agent_code":           state.FieldAgentCode,
			"validation_status":    state.FieldValidationStatus,
			"documentation_refs":   state.FieldDocumentationRefs,
			"implementation_notes": state.FieldImplementationNotes,
		}})

	reviewCode := executor.NewLLM(client, opts, string(NodeReviewCode), systemPrompt, reviewCodeTemplate,
		reviewCodeVars,
		executor.Binding{Verdict: true, FeedbackTo: state.FieldCodeFeedback})

	generatePrompt := executor.NewLLM(client, opts, string(NodeGeneratePrompt), systemPrompt, generatePromptTemplate,
		generatePromptVars,
		executor.Binding{
			WholeTo: state.FieldGeneratedPrompt,
			Copy:    map[state.Field]state.Field{state.FieldFinalCode: state.FieldAgentCode},
		})

	g := &graph.Graph{
		Entry: NodeParsePersonality,
		Nodes: map[graph.NodeID]*graph.Node{
			NodeParsePersonality: {
				ID:     NodeParsePersonality,
				Exec:   parsePersonality,
				Reads:  []state.Field{state.FieldPersonalityText},
				Schema: executor.Schema{Stage: string(NodeParsePersonality), Fields: []executor.FieldDecl{{Field: state.FieldPersonality, Required: true}}},
				Next:   NodeParseRequirements,
			},
			NodeParseRequirements: {
				ID:   NodeParseRequirements,
				Exec: parseRequirements,
				Reads: []state.Field{
					state.FieldSOP, state.FieldKBDescription,
					state.FieldHandoffDescription, state.FieldPersonality,
				},
				Schema: executor.Schema{Stage: string(NodeParseRequirements), Fields: []executor.FieldDecl{{Field: state.FieldRequirements, Required: true}}},
				Next:   NodeDraftPlan,
			},
			NodeDraftPlan: {
				ID:   NodeDraftPlan,
				Exec: draftPlan,
				Reads: []state.Field{
					state.FieldRequirements, state.FieldKnowledgeBaseID,
					state.FieldPlanFeedback,
				},
				Schema: executor.Schema{Stage: string(NodeDraftPlan), Fields: []executor.FieldDecl{{Field: state.FieldPlan, Required: true, Check: checkStrategy}}},
				Next:   NodeGenerateCode,
				Gated:  true,
				Review: NodeReviewPlan,
			},
			NodeReviewPlan: {
				ID:     NodeReviewPlan,
				Exec:   reviewPlan,
				Reads:  []state.Field{state.FieldPlan, state.FieldRequirements},
				Schema: executor.Schema{Stage: string(NodeReviewPlan), Fields: []executor.FieldDecl{{Field: state.FieldPlanFeedback, Required: true}}},
				Next:   NodeGenerateCode,
			},
			NodeGenerateCode: {
				ID:   NodeGenerateCode,
				Exec: generateCode,
				Reads: []state.Field{
					state.FieldPlan, state.FieldRequirements,
					state.FieldKnowledgeBaseID, state.FieldAgentID,
					state.FieldCodeFeedback,
				},
				Schema: executor.Schema{Stage: string(NodeGenerateCode), Fields: []executor.FieldDecl{
					{Field: state.FieldAgentCode, Required: true},
					{Field: state.FieldValidationStatus},
					{Field: state.FieldDocumentationRefs},
					{Field: state.FieldImplementationNotes},
				}},
				Next:   NodeGeneratePrompt,
				Gated:  true,
				Review: NodeReviewCode,
			},
			NodeReviewCode: {
				ID:     NodeReviewCode,
				Exec:   reviewCode,
				Reads:  []state.Field{state.FieldAgentCode, state.FieldPlan, state.FieldRequirements},
				Schema: executor.Schema{Stage: string(NodeReviewCode), Fields: []executor.FieldDecl{{Field: state.FieldCodeFeedback, Required: true}}},
				Next:   NodeGeneratePrompt,
			},
			NodeGeneratePrompt: {
				ID:   NodeGeneratePrompt,
				Exec: generatePrompt,
				Reads: []state.Field{
					state.FieldRequirements, state.FieldPlan,
					state.FieldPersonality, state.FieldAgentCode,
				},
				Schema: executor.Schema{Stage: string(NodeGeneratePrompt), Fields: []executor.FieldDecl{
					{Field: state.FieldGeneratedPrompt, Required: true},
					{Field: state.FieldFinalCode, Required: true},
				}},
				Next: graph.End,
			},
		},
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Bounds converts configured gate bounds to node-keyed engine bounds.
func Bounds(gateBounds map[string]int) map[graph.NodeID]int {
	out := make(map[graph.NodeID]int, len(gateBounds))
	for name, n := range gateBounds {
		out[graph.NodeID(name)] = n
	}
	return out
}

// personalityExecutor skips the reasoning call when no personality text was
// supplied: the parsed personality is then an empty object, and downstream
// prompts omit it.
type personalityExecutor struct {
	llm *executor.LLM
}

func (p *personalityExecutor) Invoke(ctx context.Context, view *state.View) (*executor.Result, error) {
	if view.GetString(state.FieldPersonalityText) == "" {
		return &executor.Result{Output: state.Output{state.FieldPersonality: map[string]any{}}}, nil
	}
	return p.llm.Invoke(ctx, view)
}

func (p *personalityExecutor) Repair(ctx context.Context, view *state.View, failed *executor.Result, cause error) (*executor.Result, error) {
	return p.llm.Repair(ctx, view, failed, cause)
}
