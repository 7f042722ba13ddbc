package creator

import (
	"encoding/json"

	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/state"
)

const systemPrompt = `You are an expert AI-agent architect. You design and implement
production conversational agents from standard operating procedures.
Always answer with a single JSON object and nothing else.`

const personalityTemplate = `Extract the voice and personality attributes from the text below.

Personality description:
{{personality_text}}

Respond with a JSON object with these keys:
- "tone": overall tone of voice (e.g. "warm", "formal")
- "traits": list of personality traits
- "style_rules": list of concrete phrasing rules the agent must follow
- "avoid": list of behaviors or phrasings to avoid`

const requirementsTemplate = `Analyze this standard operating procedure and extract structured
requirements for a conversational agent.

SOP:
{{sop}}

{{#if kb_description}}Knowledge base available to the agent:
{{kb_description}}

{{/if}}{{#if handoff_description}}Human handoff conditions:
{{handoff_description}}

{{/if}}{{#if personality}}Parsed personality:
{{personality}}

{{/if}}Respond with a JSON object with these keys:
- "goal": one-sentence statement of what the agent accomplishes
- "tasks": list of discrete tasks the agent performs
- "inputs": list of data the agent collects from the user
- "tools": list of external capabilities required (lookups, handoff, etc.)
- "constraints": list of rules and prohibitions from the SOP
- "handoff_triggers": list of conditions that require a human`

const draftPlanTemplate = `Design an architecture plan for a conversational agent that satisfies
these requirements.

Requirements:
{{requirements}}

{{#if knowledge_base_id}}The agent has knowledge base {{knowledge_base_id}} attached; plan for
retrieval where the requirements call for it.

{{/if}}{{#if plan_feedback}}A reviewer rejected the previous plan. Revise it to address every
point of feedback:
{{plan_feedback}}

{{/if}}Respond with a JSON object with these keys:
- "strategy": "single_agent" or "multi_agent"
- "agents": list of agents, each with "name", "role" and "responsibilities"
- "conversation_flow": ordered list of conversation phases
- "tools": list of tools each agent needs
- "data_flow": how collected inputs move between phases
- "rationale": why this structure fits the requirements`

const reviewPlanTemplate = `Review this architecture plan against the requirements. Approve it only
if every requirement is covered and the strategy choice is justified.

Requirements:
{{requirements}}

Plan:
{{plan}}

Respond with a JSON object with these keys:
- "approved": boolean
- "feedback": actionable revision instructions (empty string if approved)
- "blocking_issues": list of defects that prevent approval (empty if approved)`

const generateCodeTemplate = `Implement the agent described by this plan. Produce complete,
runnable agent definition code.

Plan:
{{plan}}

Requirements:
{{requirements}}

{{#if knowledge_base_id}}Attach knowledge base {{knowledge_base_id}} to the agent.

{{/if}}{{#if agent_id}}Use agent id {{agent_id}}.

{{/if}}{{#if code_feedback}}A reviewer rejected the previous implementation. Revise it to address
every point of feedback:
{{code_feedback}}

{{/if}}Respond with a JSON object with these keys:
- "agent_code": the full agent definition source as a string
- "validation_status": "passed", or a short description of known gaps
- "documentation_refs": list of API documentation sections you relied on
- "implementation_notes": caveats the operator should know about`

const reviewCodeTemplate = `Review this agent implementation against the plan and requirements.
Approve it only if it is complete, syntactically plausible and covers
every planned behavior.

Code:
{{agent_code}}

Plan:
{{plan}}

Requirements:
{{requirements}}

Respond with a JSON object with these keys:
- "approved": boolean
- "feedback": actionable revision instructions (empty string if approved)
- "blocking_issues": list of defects that prevent approval (empty if approved)`

const generatePromptTemplate = `Write the production system prompt for the implemented agent.

Requirements:
{{requirements}}

Plan:
{{plan}}

{{#if personality}}Personality:
{{personality}}

{{/if}}Agent code (for tool and variable names):
{{agent_code}}

Respond with a JSON object with these keys:
- "system_prompt": the complete system prompt text
- "greeting": the agent's opening message
- "variables": list of template variables the prompt expects`

// jsonVar renders a state object as indented JSON for prompt interpolation.
// Unset fields render as the empty string so {{#if ...}} blocks drop out.
func jsonVar(view *state.View, f state.Field) string {
	raw, ok := view.Get(f)
	if !ok {
		return ""
	}
	if m, isObj := raw.(map[string]any); isObj && len(m) == 0 {
		return ""
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

func personalityVars(view *state.View) executor.Vars {
	return executor.Vars{
		"personality_text": view.GetString(state.FieldPersonalityText),
	}
}

func requirementsVars(view *state.View) executor.Vars {
	return executor.Vars{
		"sop":                 view.GetString(state.FieldSOP),
		"kb_description":      view.GetString(state.FieldKBDescription),
		"handoff_description": view.GetString(state.FieldHandoffDescription),
		"personality":         jsonVar(view, state.FieldPersonality),
	}
}

func draftPlanVars(view *state.View) executor.Vars {
	return executor.Vars{
		"requirements":      jsonVar(view, state.FieldRequirements),
		"knowledge_base_id": view.GetString(state.FieldKnowledgeBaseID),
		"plan_feedback":     view.GetString(state.FieldPlanFeedback),
	}
}

func reviewPlanVars(view *state.View) executor.Vars {
	return executor.Vars{
		"requirements": jsonVar(view, state.FieldRequirements),
		"plan":         jsonVar(view, state.FieldPlan),
	}
}

func generateCodeVars(view *state.View) executor.Vars {
	return executor.Vars{
		"plan":              jsonVar(view, state.FieldPlan),
		"requirements":      jsonVar(view, state.FieldRequirements),
		"knowledge_base_id": view.GetString(state.FieldKnowledgeBaseID),
		"agent_id":          view.GetString(state.FieldAgentID),
		"code_feedback":     view.GetString(state.FieldCodeFeedback),
	}
}

func reviewCodeVars(view *state.View) executor.Vars {
	return executor.Vars{
		"agent_code":   view.GetString(state.FieldAgentCode),
		"plan":         jsonVar(view, state.FieldPlan),
		"requirements": jsonVar(view, state.FieldRequirements),
	}
}

func generatePromptVars(view *state.View) executor.Vars {
	return executor.Vars{
		"requirements": jsonVar(view, state.FieldRequirements),
		"plan":         jsonVar(view, state.FieldPlan),
		"personality":  jsonVar(view, state.FieldPersonality),
		"agent_code":   view.GetString(state.FieldAgentCode),
	}
}
