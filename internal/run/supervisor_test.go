package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/graph"
	"github.com/forgelabs/agentforge/internal/state"
)

func supervisorView(t *testing.T) *state.View {
	t.Helper()
	st, err := state.New("run-1", testInputs())
	if err != nil {
		t.Fatal(err)
	}
	return st.View()
}

func TestSupervisorAppliesStageTimeout(t *testing.T) {
	calls := 0
	hang := executor.Func(func(ctx context.Context, _ *state.View) (*executor.Result, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})
	node := &graph.Node{ID: "draft_plan", Exec: hang, Next: graph.End}

	sup := NewSupervisor(
		func(string) time.Duration { return 10 * time.Millisecond },
		fastPolicy(2),
	)

	_, err := sup.Invoke(context.Background(), node, supervisorView(t))
	if err == nil {
		t.Fatal("hung stage did not error")
	}
	var rerr *RetryError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %T, want RetryError after timeout retries", err)
	}
	// A per-invocation timeout is transient, so the budget was spent.
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline cause", err)
	}
}

func TestSupervisorFreshTimeoutPerAttempt(t *testing.T) {
	calls := 0
	exec := executor.Func(func(ctx context.Context, _ *state.View) (*executor.Result, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		// Second attempt gets its own budget, not the leftovers.
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) < 5*time.Millisecond {
			return nil, errors.New("attempt started with an exhausted deadline")
		}
		return &executor.Result{Output: state.Output{}}, nil
	})
	node := &graph.Node{ID: "draft_plan", Exec: exec, Next: graph.End}

	sup := NewSupervisor(
		func(string) time.Duration { return 20 * time.Millisecond },
		fastPolicy(3),
	)
	if _, err := sup.Invoke(context.Background(), node, supervisorView(t)); err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSupervisorNoTimeoutConfigured(t *testing.T) {
	exec := executor.Func(func(ctx context.Context, _ *state.View) (*executor.Result, error) {
		if _, ok := ctx.Deadline(); ok {
			return nil, errors.New("unexpected deadline")
		}
		return &executor.Result{Output: state.Output{}}, nil
	})
	node := &graph.Node{ID: "draft_plan", Exec: exec, Next: graph.End}

	sup := NewSupervisor(nil, fastPolicy(1))
	if _, err := sup.Invoke(context.Background(), node, supervisorView(t)); err != nil {
		t.Errorf("Invoke() error: %v", err)
	}
}
