package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgelabs/agentforge/internal/gate"
	"github.com/forgelabs/agentforge/internal/state"
)

// ChatClient is the subset of the OpenAI client the LLM executor needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMOptions configures the chat client shared by all LLM stage executors.
type LLMOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
}

// NewChatClient builds a client for any OpenAI-compatible endpoint.
func NewChatClient(opts LLMOptions) ChatClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// Binding maps the JSON object a stage's model returns onto pipeline state
// fields and, for review stages, a verdict.
type Binding struct {
	// WholeTo stores the entire returned object under one object field.
	WholeTo state.Field
	// Keys copies individual top-level keys into their own fields.
	Keys map[string]state.Field
	// Verdict lifts approved/feedback/blocking_issues into a gate verdict.
	Verdict bool
	// FeedbackTo additionally stores the verdict feedback as a state field
	// so the next draft pass can read it.
	FeedbackTo state.Field
	// Copy fills output fields from the stage's own view (dest <- src),
	// for terminal stages that freeze a prior field under a final name.
	Copy map[state.Field]state.Field
}

// LLM is a stage executor backed by a chat completion call: it renders the
// stage prompt from its state view, requests a JSON object, and binds the
// response onto state fields. It keeps no state of its own, so retries
// simply produce a new candidate output.
type LLM struct {
	client      ChatClient
	model       string
	temperature float32
	stage       string
	system      string
	template    string
	vars        func(view *state.View) Vars
	bind        Binding
}

// NewLLM creates an LLM executor for one stage.
func NewLLM(client ChatClient, opts LLMOptions, stage, system, template string, vars func(*state.View) Vars, bind Binding) *LLM {
	return &LLM{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
		stage:       stage,
		system:      system,
		template:    template,
		vars:        vars,
		bind:        bind,
	}
}

// Invoke implements Executor.
func (l *LLM) Invoke(ctx context.Context, view *state.View) (*Result, error) {
	prompt, err := RenderPrompt(l.template, l.vars(view))
	if err != nil {
		return nil, fmt.Errorf("stage %q: render prompt: %w", l.stage, err)
	}

	messages := []openai.ChatCompletionMessage{}
	if l.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: l.system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: l.temperature,
		Messages:    messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classify(fmt.Errorf("stage %q: %w", l.stage, err))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, Transient(fmt.Errorf("stage %q: empty completion", l.stage))
	}
	content := resp.Choices[0].Message.Content

	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		// Leave the raw payload for the engine's repair pass.
		return &Result{Output: state.Output{}, Raw: content}, nil
	}
	return l.bindResult(view, obj, content), nil
}

// Repair implements Repairer: one lenient re-parse of a near-miss payload.
func (l *LLM) Repair(_ context.Context, view *state.View, failed *Result, cause error) (*Result, error) {
	obj, err := ExtractJSONObject(failed.Raw)
	if err != nil {
		return nil, &SchemaError{Stage: l.stage, Err: fmt.Errorf("repair failed: %v (original: %w)", err, cause)}
	}
	return l.bindResult(view, obj, failed.Raw), nil
}

func (l *LLM) bindResult(view *state.View, obj map[string]any, raw string) *Result {
	out := state.Output{}

	if l.bind.WholeTo != "" {
		out[l.bind.WholeTo] = obj
	}
	for key, field := range l.bind.Keys {
		if v, ok := obj[key]; ok {
			out[field] = v
		}
	}
	for dest, src := range l.bind.Copy {
		if v, ok := view.Get(src); ok {
			out[dest] = v
		}
	}

	res := &Result{Output: out, Raw: raw}
	if l.bind.Verdict {
		v := &gate.Verdict{}
		v.Approved, _ = obj["approved"].(bool)
		v.Feedback, _ = obj["feedback"].(string)
		if !v.Approved {
			v.BlockingIssues = stringSlice(obj["blocking_issues"])
		}
		if l.bind.FeedbackTo != "" {
			out[l.bind.FeedbackTo] = v.Feedback
		}
		res.Verdict = v
	}
	return res
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// classify sorts an API error into the failure taxonomy: rate limits,
// server-side errors and transport failures are transient, everything else
// is not.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 408, apiErr.HTTPStatusCode == 429, apiErr.HTTPStatusCode >= 500:
			return Transient(err)
		default:
			return err
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return err
}
