// Package executor defines the contract between the workflow engine and the
// external reasoning capability that produces each stage's output, plus an
// implementation backed by an OpenAI-compatible chat API.
package executor

import (
	"context"

	"github.com/forgelabs/agentforge/internal/gate"
	"github.com/forgelabs/agentforge/internal/state"
)

// Result is the outcome of one stage invocation. It is never mutated after
// creation. Review stages additionally carry a verdict. Raw keeps the
// unparsed payload for repair and diagnostics.
type Result struct {
	Output  state.Output
	Verdict *gate.Verdict
	Raw     string
}

// Executor turns a stage's state view into a candidate output. Implementations
// must be side-effect-free with respect to pipeline state and safe to retry:
// re-invocation produces a new candidate, never mutates prior state.
type Executor interface {
	Invoke(ctx context.Context, view *state.View) (*Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, view *state.View) (*Result, error)

// Invoke implements Executor.
func (f Func) Invoke(ctx context.Context, view *state.View) (*Result, error) {
	return f(ctx, view)
}

// Repairer is an optional capability: an executor that can attempt one local
// recovery of a near-miss output that failed schema validation. A second
// schema failure is non-transient.
type Repairer interface {
	Repair(ctx context.Context, view *state.View, failed *Result, cause error) (*Result, error)
}
