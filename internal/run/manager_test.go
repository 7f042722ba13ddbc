package run

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forgelabs/agentforge/internal/config"
	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/graph"
	"github.com/forgelabs/agentforge/internal/state"
)

func testInputs() state.Inputs {
	return state.Inputs{
		SOP:                "handle returns",
		KBDescription:      "returns policy",
		HandoffDescription: "escalate damage claims",
	}
}

func testPipeline() config.Pipeline {
	return config.Pipeline{
		Name:              "test",
		Defaults:          config.Defaults{StageTimeout: "2s"},
		Retry:             config.Retry{MaxAttempts: 3, BaseDelay: "1ms", MaxDelay: "5ms"},
		MaxConcurrentRuns: 2,
	}
}

// twoStageGraph builds draft_plan -> generate_prompt with pluggable draft
// behavior.
func twoStageGraph(t *testing.T, draft executor.Executor) *graph.Graph {
	t.Helper()
	g := &graph.Graph{
		Entry: "draft_plan",
		Nodes: map[graph.NodeID]*graph.Node{
			"draft_plan": {
				ID:     "draft_plan",
				Exec:   draft,
				Schema: executor.Schema{Stage: "draft_plan", Fields: []executor.FieldDecl{{Field: state.FieldPlan, Required: true}}},
				Next:   "generate_prompt",
			},
			"generate_prompt": {
				ID:     "generate_prompt",
				Exec:   promptExec(),
				Schema: executor.Schema{Stage: "generate_prompt", Fields: []executor.FieldDecl{{Field: state.FieldGeneratedPrompt, Required: true}}},
				Next:   graph.End,
			},
		},
	}
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}
	return g
}

func planExec() executor.Executor {
	return executor.Func(func(context.Context, *state.View) (*executor.Result, error) {
		return &executor.Result{Output: state.Output{
			state.FieldPlan: map[string]any{"strategy": "single_agent"},
		}}, nil
	})
}

func promptExec() executor.Executor {
	return executor.Func(func(context.Context, *state.View) (*executor.Result, error) {
		return &executor.Result{Output: state.Output{
			state.FieldGeneratedPrompt: map[string]any{"system_prompt": "You are an agent."},
		}}, nil
	})
}

func newTestManager(t *testing.T, g *graph.Graph, p config.Pipeline) *Manager {
	t.Helper()
	mgr, err := NewManager(Opts{
		Graph:    g,
		Store:    state.NewStore(t.TempDir()),
		Pipeline: p,
	})
	if err != nil {
		t.Fatal(err)
	}
	return mgr
}

func TestSubmitCompletesRun(t *testing.T) {
	mgr := newTestManager(t, twoStageGraph(t, planExec()), testPipeline())

	runID, err := mgr.Submit(testInputs())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	mgr.Wait()

	rec, err := mgr.Status(runID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status = %q (%s)", rec.Status, rec.Error)
	}

	final, err := mgr.Final(runID)
	if err != nil {
		t.Fatal(err)
	}
	if final.AcceptedWithWarnings {
		t.Error("clean run marked accepted_with_warnings")
	}
	if _, ok := final.Artifacts["generated_prompt"]; !ok {
		t.Errorf("artifacts = %v, missing generated_prompt", final.Artifacts)
	}
}

func TestSubmitRejectsInvalidInputs(t *testing.T) {
	mgr := newTestManager(t, twoStageGraph(t, planExec()), testPipeline())
	if _, err := mgr.Submit(state.Inputs{SOP: "only sop"}); err == nil {
		t.Error("invalid inputs did not error")
	}
}

func TestSubmitBackpressure(t *testing.T) {
	block := make(chan struct{})
	var once sync.Once
	slow := executor.Func(func(ctx context.Context, _ *state.View) (*executor.Result, error) {
		<-block
		return &executor.Result{Output: state.Output{
			state.FieldPlan: map[string]any{"strategy": "single_agent"},
		}}, nil
	})
	defer once.Do(func() { close(block) })

	p := testPipeline()
	p.MaxConcurrentRuns = 1
	mgr := newTestManager(t, twoStageGraph(t, slow), p)

	if _, err := mgr.Submit(testInputs()); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Submit(testInputs()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second submit err = %v, want ErrBusy", err)
	}

	once.Do(func() { close(block) })
	mgr.Wait()

	// Capacity freed, submissions accepted again.
	if _, err := mgr.Submit(testInputs()); err != nil {
		t.Errorf("submit after drain err = %v", err)
	}
	mgr.Wait()
}

func TestTransientFailuresRetriedWithinRun(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	flaky := executor.Func(func(context.Context, *state.View) (*executor.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return nil, executor.Transient(errors.New("upstream 503"))
		}
		return &executor.Result{Output: state.Output{
			state.FieldPlan: map[string]any{"strategy": "single_agent"},
		}}, nil
	})

	mgr := newTestManager(t, twoStageGraph(t, flaky), testPipeline())
	runID, err := mgr.Submit(testInputs())
	if err != nil {
		t.Fatal(err)
	}
	mgr.Wait()

	rec, _ := mgr.Status(runID)
	if rec.Status != StatusCompleted {
		t.Errorf("status = %q (%s), want completed after retries", rec.Status, rec.Error)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestSchemaFailureAbortsRun(t *testing.T) {
	bad := executor.Func(func(context.Context, *state.View) (*executor.Result, error) {
		return &executor.Result{Output: state.Output{}}, nil
	})
	mgr := newTestManager(t, twoStageGraph(t, bad), testPipeline())

	runID, err := mgr.Submit(testInputs())
	if err != nil {
		t.Fatal(err)
	}
	mgr.Wait()

	rec, _ := mgr.Status(runID)
	if rec.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "schema") {
		t.Errorf("error = %q, want schema failure", rec.Error)
	}
}

func TestCancelStopsAtNodeBoundary(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	draft := executor.Func(func(context.Context, *state.View) (*executor.Result, error) {
		close(started)
		<-proceed
		return &executor.Result{Output: state.Output{
			state.FieldPlan: map[string]any{"strategy": "single_agent"},
		}}, nil
	})

	mgr := newTestManager(t, twoStageGraph(t, draft), testPipeline())
	runID, err := mgr.Submit(testInputs())
	if err != nil {
		t.Fatal(err)
	}

	<-started
	if err := mgr.Cancel(runID); err != nil {
		t.Fatal(err)
	}
	close(proceed)
	mgr.Wait()

	rec, _ := mgr.Status(runID)
	if rec.Status != StatusCanceled {
		t.Fatalf("status = %q, want canceled", rec.Status)
	}

	// The in-flight stage completed and was checkpointed before the stop.
	cp, err := mgr.store.Load(runID)
	if err != nil {
		t.Fatal(err)
	}
	if !cp.State.Has(state.FieldPlan) {
		t.Error("in-flight stage output lost on cancel")
	}
	if cp.Node != "generate_prompt" {
		t.Errorf("checkpoint node = %q", cp.Node)
	}
}

func TestCancelUnknownRun(t *testing.T) {
	mgr := newTestManager(t, twoStageGraph(t, planExec()), testPipeline())
	if err := mgr.Cancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResumeContinuesFromCheckpoint(t *testing.T) {
	store := state.NewStore(t.TempDir())
	mgr, err := NewManager(Opts{
		Graph:    twoStageGraph(t, planExec()),
		Store:    store,
		Pipeline: testPipeline(),
	})
	if err != nil {
		t.Fatal(err)
	}

	// A checkpoint from an interrupted earlier session, parked between
	// the two stages.
	st, err := state.New("run-resume", testInputs())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Merge("draft_plan", state.Output{state.FieldPlan: map[string]any{"strategy": "single_agent"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("run-resume", &state.Checkpoint{Node: "generate_prompt", State: st}); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Resume("run-resume"); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	mgr.Wait()

	rec, _ := mgr.Status("run-resume")
	if rec.Status != StatusCompleted {
		t.Fatalf("status = %q (%s)", rec.Status, rec.Error)
	}
	final, err := mgr.Final("run-resume")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := final.Artifacts["generated_prompt"]; !ok {
		t.Error("resumed run produced no prompt artifact")
	}
}

func TestResumeCompletedRunRejected(t *testing.T) {
	store := state.NewStore(t.TempDir())
	mgr, err := NewManager(Opts{
		Graph:    twoStageGraph(t, planExec()),
		Store:    store,
		Pipeline: testPipeline(),
	})
	if err != nil {
		t.Fatal(err)
	}

	st, _ := state.New("run-done", testInputs())
	if err := store.Save("run-done", &state.Checkpoint{Node: "end", State: st}); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Resume("run-done"); err == nil {
		t.Error("resume of a completed run did not error")
	}
}

func TestRunDeadlineStopsRun(t *testing.T) {
	slow := executor.Func(func(context.Context, *state.View) (*executor.Result, error) {
		time.Sleep(30 * time.Millisecond)
		return &executor.Result{Output: state.Output{
			state.FieldPlan: map[string]any{"strategy": "single_agent"},
		}}, nil
	})
	p := testPipeline()
	p.RunTimeout = "10ms"
	mgr := newTestManager(t, twoStageGraph(t, slow), p)

	runID, err := mgr.Submit(testInputs())
	if err != nil {
		t.Fatal(err)
	}
	mgr.Wait()

	rec, _ := mgr.Status(runID)
	if rec.Status != StatusFailed {
		t.Fatalf("status = %q, want failed on deadline", rec.Status)
	}
	if !strings.Contains(rec.Error, "deadline") {
		t.Errorf("error = %q, want deadline", rec.Error)
	}
}
