package graph

import (
	"context"
	"fmt"
	"io"

	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/gate"
	"github.com/forgelabs/agentforge/internal/state"
)

// DefaultMaxIterations bounds a gate's revise loop when no per-gate value is
// configured.
const DefaultMaxIterations = 3

// Invoker executes one stage invocation. The supervisor supplies it so the
// engine stays ignorant of operational policy: per-stage timeouts and
// transient-failure retries live behind this interface.
type Invoker interface {
	Invoke(ctx context.Context, node *Node, view *state.View) (*executor.Result, error)
}

// Checkpointer persists the run after every node. Supplied externally; a
// restarted process resumes from the last saved checkpoint.
type Checkpointer interface {
	Save(runID string, cp *state.Checkpoint) error
}

// Audit receives engine events for the audit trail. Errors are best-effort:
// a failed audit write never fails the run.
type Audit interface {
	StageInvoked(runID, node string, attempt int, outcome, detail string) error
	GateIteration(runID, gateName string, iteration int, approved bool, summary string) error
}

// RunError is an abnormal run termination. The partial state and gate audit
// are preserved for diagnostics, never silently swallowed.
type RunError struct {
	Node  NodeID
	Err   error
	State *state.State
	Gates map[string]*gate.State
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed at node %q: %v", e.Node, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Outcome is a completed run: the frozen final state and the retired gate
// states for audit.
type Outcome struct {
	State *state.State
	Gates map[string]*gate.State
	Final NodeID
}

// RunOpts configures one engine run.
type RunOpts struct {
	// Start is the node to enter at; empty means the graph's entry node.
	// Resumed runs start at the checkpoint's next un-executed node.
	Start NodeID
	// Gates carries prior gate states when resuming.
	Gates map[string]*gate.State
	// Bounds maps a gated node id to its max iterations. Per-gate, not
	// global: plan review and code review may warrant different bounds.
	Bounds map[NodeID]int
	// Guard, when set, is consulted before each node starts. Returning an
	// error stops the run at the node boundary; the supervisor uses this
	// for cooperative cancellation and the run-level deadline.
	Guard func(next NodeID) error
}

// Engine walks a graph from its entry node to End, one node at a time. A run
// is strictly sequential: every node's input is the accumulated output of all
// prior nodes, so no two nodes of the same run ever execute concurrently.
type Engine struct {
	graph      *Graph
	invoker    Invoker
	checkpoint Checkpointer
	audit      Audit
	progress   io.Writer
}

// NewEngine creates an engine for a validated graph.
func NewEngine(g *Graph, invoker Invoker, checkpoint Checkpointer) (*Engine, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	return &Engine{graph: g, invoker: invoker, checkpoint: checkpoint}, nil
}

// SetAudit attaches an audit sink.
func (e *Engine) SetAudit(a Audit) { e.audit = a }

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) { e.progress = w }

func (e *Engine) logf(format string, args ...any) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// Run executes the graph against st until End is reached or a fatal error
// propagates. On failure the returned error is a *RunError carrying the
// partial state.
func (e *Engine) Run(ctx context.Context, st *state.State, opts RunOpts) (*Outcome, error) {
	runID := st.RunID()
	cur := opts.Start
	if cur == "" {
		cur = e.graph.Entry
	}
	gates := opts.Gates
	if gates == nil {
		gates = make(map[string]*gate.State)
	}

	fail := func(node NodeID, err error) (*Outcome, error) {
		return nil, &RunError{Node: node, Err: err, State: st, Gates: gates}
	}

	for cur != End {
		// Cancellation and the run deadline are honored at node
		// boundaries only, so a merge is never half-applied.
		if err := ctx.Err(); err != nil {
			return fail(cur, err)
		}
		if opts.Guard != nil {
			if err := opts.Guard(cur); err != nil {
				return fail(cur, err)
			}
		}

		node, err := e.graph.Node(cur)
		if err != nil {
			return fail(cur, err)
		}

		gs := gates[string(cur)]
		attempt := 0
		if gs != nil {
			attempt = gs.Iteration
		}

		e.logf("node %s (attempt %d)", cur, attempt+1)
		res, err := e.invokeAndMerge(ctx, node, st, attempt)
		if err != nil {
			return fail(cur, err)
		}

		var next NodeID
		if node.Gated {
			if gs == nil {
				bound := opts.Bounds[cur]
				if bound <= 0 {
					bound = DefaultMaxIterations
				}
				gs, err = gate.NewState(string(cur), bound)
				if err != nil {
					return fail(cur, err)
				}
				gates[string(cur)] = gs
			}
			next, err = e.reviewAndRoute(ctx, node, st, gs, res)
			if err != nil {
				return fail(cur, err)
			}
		} else {
			next, err = Route(node, res, nil)
			if err != nil {
				return fail(cur, err)
			}
		}

		if next == End {
			st.Freeze()
		}
		if e.checkpoint != nil {
			cp := &state.Checkpoint{Node: string(next), State: st, Gates: gates}
			if err := e.checkpoint.Save(runID, cp); err != nil {
				return fail(cur, fmt.Errorf("checkpoint: %w", err))
			}
		}
		cur = next
	}

	e.logf("run %s reached terminal node", runID)
	return &Outcome{State: st, Gates: gates, Final: cur}, nil
}

// invokeAndMerge runs one node's executor, validates the output schema, and
// merges the output into the state. A schema violation gets one repair
// attempt when the executor supports it.
func (e *Engine) invokeAndMerge(ctx context.Context, node *Node, st *state.State, attempt int) (*executor.Result, error) {
	view := st.View(node.Reads...)
	res, err := e.invoker.Invoke(ctx, node, view)
	if err != nil {
		e.auditStage(st.RunID(), node.ID, attempt, "fail", err.Error())
		return nil, err
	}

	if err := node.Schema.Validate(res.Output); err != nil {
		repairer, ok := node.Exec.(executor.Repairer)
		if !ok {
			e.auditStage(st.RunID(), node.ID, attempt, "schema_fail", err.Error())
			return nil, err
		}
		e.logf("node %s output failed schema, attempting repair: %v", node.ID, err)
		repaired, rerr := repairer.Repair(ctx, view, res, err)
		if rerr != nil {
			e.auditStage(st.RunID(), node.ID, attempt, "schema_fail", rerr.Error())
			return nil, rerr
		}
		if verr := node.Schema.Validate(repaired.Output); verr != nil {
			e.auditStage(st.RunID(), node.ID, attempt, "schema_fail", verr.Error())
			return nil, verr
		}
		res = repaired
	}

	if err := st.Merge(string(node.ID), res.Output); err != nil {
		e.auditStage(st.RunID(), node.ID, attempt, "merge_fail", err.Error())
		return nil, err
	}
	e.auditStage(st.RunID(), node.ID, attempt, "success", "")
	return res, nil
}

// reviewAndRoute runs the paired review node, observes the verdict through
// the iteration guard, and routes. Forced acceptance annotates the run.
func (e *Engine) reviewAndRoute(ctx context.Context, node *Node, st *state.State, gs *gate.State, res *executor.Result) (NodeID, error) {
	review, err := e.graph.Node(node.Review)
	if err != nil {
		return "", err
	}

	e.logf("reviewing %s (iteration %d/%d)", node.ID, gs.Iteration, gs.MaxIterations)
	rres, err := e.invokeAndMerge(ctx, review, st, gs.Iteration)
	if err != nil {
		return "", err
	}
	if rres.Verdict == nil {
		return "", fmt.Errorf("review node %q returned no verdict", review.ID)
	}

	decision, err := gs.Observe(rres.Verdict)
	if err != nil {
		return "", err
	}
	last := gs.Log[len(gs.Log)-1]
	e.auditGate(st.RunID(), gs.Gate, last.Iteration, last.Approved, last.Summary)
	e.logf("gate %s: %s", gs.Gate, decision)

	if decision == gate.ForceAccept {
		st.SetAcceptedWithWarnings()
	}
	return Route(node, res, gs)
}

func (e *Engine) auditStage(runID string, node NodeID, attempt int, outcome, detail string) {
	if e.audit != nil {
		_ = e.audit.StageInvoked(runID, string(node), attempt, outcome, detail)
	}
}

func (e *Engine) auditGate(runID, gateName string, iteration int, approved bool, summary string) {
	if e.audit != nil {
		_ = e.audit.GateIteration(runID, gateName, iteration, approved, summary)
	}
}
