package run

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/graph"
	"github.com/forgelabs/agentforge/internal/state"
)

// Supervisor applies operational policy around stage invocations: a
// per-invocation timeout and bounded retries for transient failures. It sits
// between the engine and the executors as the engine's Invoker.
type Supervisor struct {
	timeoutFor func(stage string) time.Duration
	policy     RetryPolicy
	progress   io.Writer
}

// NewSupervisor creates a supervisor. timeoutFor maps a stage name to its
// invocation timeout; a nil func or zero duration means no timeout.
func NewSupervisor(timeoutFor func(stage string) time.Duration, policy RetryPolicy) *Supervisor {
	return &Supervisor{timeoutFor: timeoutFor, policy: policy}
}

// SetProgress sets a writer for live retry output.
func (s *Supervisor) SetProgress(w io.Writer) { s.progress = w }

func (s *Supervisor) logf(format string, args ...any) {
	if s.progress != nil {
		fmt.Fprintf(s.progress, "  → "+format+"\n", args...)
	}
}

// Invoke implements graph.Invoker. Each attempt gets a fresh timeout; the
// retry budget covers transient failures only, so a schema violation or a
// run-level cancellation propagates on the first occurrence.
func (s *Supervisor) Invoke(ctx context.Context, node *graph.Node, view *state.View) (*executor.Result, error) {
	var timeout time.Duration
	if s.timeoutFor != nil {
		timeout = s.timeoutFor(string(node.ID))
	}

	tries := 0
	res, err := retry(ctx, s.policy, fmt.Sprintf("stage %s", node.ID), func() (*executor.Result, error) {
		tries++
		if tries > 1 {
			s.logf("stage %s retry %d/%d", node.ID, tries, s.policy.MaxAttempts)
		}
		ictx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			ictx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return node.Exec.Invoke(ictx, view)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
