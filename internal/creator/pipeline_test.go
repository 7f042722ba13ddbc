package creator

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/graph"
	"github.com/forgelabs/agentforge/internal/state"
)

// silentChat never expects to be called.
type silentChat struct {
	t *testing.T
}

func (s *silentChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.t.Fatal("unexpected chat completion call")
	return openai.ChatCompletionResponse{}, nil
}

func buildTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := Build(&silentChat{t: t}, executor.LLMOptions{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return g
}

func TestBuildProducesValidGraph(t *testing.T) {
	g := buildTestGraph(t)

	if g.Entry != NodeParsePersonality {
		t.Errorf("entry = %q", g.Entry)
	}

	// The drafting chain in order.
	wantChain := []graph.NodeID{
		NodeParsePersonality, NodeParseRequirements, NodeDraftPlan,
		NodeGenerateCode, NodeGeneratePrompt, graph.End,
	}
	cur := g.Entry
	for i, want := range wantChain {
		if cur != want {
			t.Fatalf("chain[%d] = %q, want %q", i, cur, want)
		}
		if cur == graph.End {
			break
		}
		n, err := g.Node(cur)
		if err != nil {
			t.Fatal(err)
		}
		cur = n.Next
	}
}

func TestBuildGateWiring(t *testing.T) {
	g := buildTestGraph(t)

	plan, _ := g.Node(NodeDraftPlan)
	if !plan.Gated || plan.Review != NodeReviewPlan {
		t.Errorf("draft_plan gate wiring = gated %v review %q", plan.Gated, plan.Review)
	}
	code, _ := g.Node(NodeGenerateCode)
	if !code.Gated || code.Review != NodeReviewCode {
		t.Errorf("generate_code gate wiring = gated %v review %q", code.Gated, code.Review)
	}
	review, _ := g.Node(NodeReviewPlan)
	if review.Gated {
		t.Error("review node is gated")
	}
}

func TestBuildSchemasMatchRegistry(t *testing.T) {
	g := buildTestGraph(t)
	for id, n := range g.Nodes {
		for _, d := range n.Schema.Fields {
			if !state.Known(d.Field) {
				t.Errorf("node %s declares unregistered field %q", id, d.Field)
			}
		}
		for _, f := range n.Reads {
			if !state.Known(f) {
				t.Errorf("node %s reads unregistered field %q", id, f)
			}
		}
	}
}

func TestCheckStrategy(t *testing.T) {
	cases := []struct {
		strategy string
		ok       bool
	}{
		{StrategySingleAgent, true},
		{StrategyMultiAgent, true},
		{"swarm", false},
		{"", false},
	}
	for _, tc := range cases {
		err := checkStrategy(map[string]any{"strategy": tc.strategy})
		if (err == nil) != tc.ok {
			t.Errorf("checkStrategy(%q) err = %v", tc.strategy, err)
		}
	}
	if err := checkStrategy("not an object"); err == nil {
		t.Error("non-object plan did not error")
	}
}

func TestPersonalityExecutorSkipsEmptyText(t *testing.T) {
	g := buildTestGraph(t)
	node, _ := g.Node(NodeParsePersonality)

	st, err := state.New("run-1", state.Inputs{
		SOP:                "sop",
		KBDescription:      "kb",
		HandoffDescription: "handoff",
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := node.Exec.Invoke(context.Background(), st.View(node.Reads...))
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	obj, ok := res.Output[state.FieldPersonality].(map[string]any)
	if !ok || len(obj) != 0 {
		t.Errorf("personality output = %v, want empty object", res.Output)
	}
	if err := node.Schema.Validate(res.Output); err != nil {
		t.Errorf("skip output fails schema: %v", err)
	}
}

func TestBoundsConversion(t *testing.T) {
	b := Bounds(map[string]int{"draft_plan": 3, "generate_code": 2})
	if b[NodeDraftPlan] != 3 || b[NodeGenerateCode] != 2 {
		t.Errorf("Bounds() = %v", b)
	}
}

func TestPromptVarsRenderAcrossStages(t *testing.T) {
	g := buildTestGraph(t)

	st, err := state.New("run-1", state.Inputs{
		SOP:                "take pizza orders",
		KBDescription:      "menu and allergens",
		HandoffDescription: "transfer angry callers",
		KnowledgeBaseID:    "kb-9",
	})
	if err != nil {
		t.Fatal(err)
	}
	merges := []struct {
		node string
		out  state.Output
	}{
		{"parse_personality", state.Output{state.FieldPersonality: map[string]any{"tone": "warm"}}},
		{"parse_requirements", state.Output{state.FieldRequirements: map[string]any{"goal": "take orders"}}},
		{"draft_plan", state.Output{state.FieldPlan: map[string]any{"strategy": "single_agent"}}},
		{"review_plan", state.Output{state.FieldPlanFeedback: ""}},
		{"generate_code", state.Output{state.FieldAgentCode: "agent code"}},
		{"review_code", state.Output{state.FieldCodeFeedback: ""}},
	}
	for _, m := range merges {
		if err := st.Merge(m.node, m.out); err != nil {
			t.Fatal(err)
		}
	}

	// Every stage's vars func must satisfy its template with realistic state.
	varsByNode := map[graph.NodeID]func(*state.View) executor.Vars{
		NodeParsePersonality:  personalityVars,
		NodeParseRequirements: requirementsVars,
		NodeDraftPlan:         draftPlanVars,
		NodeReviewPlan:        reviewPlanVars,
		NodeGenerateCode:      generateCodeVars,
		NodeReviewCode:        reviewCodeVars,
		NodeGeneratePrompt:    generatePromptVars,
	}
	templates := map[graph.NodeID]string{
		NodeParsePersonality:  personalityTemplate,
		NodeParseRequirements: requirementsTemplate,
		NodeDraftPlan:         draftPlanTemplate,
		NodeReviewPlan:        reviewPlanTemplate,
		NodeGenerateCode:      generateCodeTemplate,
		NodeReviewCode:        reviewCodeTemplate,
		NodeGeneratePrompt:    generatePromptTemplate,
	}

	for id, tmpl := range templates {
		node, err := g.Node(id)
		if err != nil {
			t.Fatal(err)
		}
		vars := varsByNode[id](st.View(node.Reads...))
		if _, err := executor.RenderPrompt(tmpl, vars); err != nil {
			t.Errorf("stage %s: render: %v", id, err)
		}
	}
}
