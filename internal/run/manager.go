// Package run supervises pipeline executions: per-stage timeouts and retries,
// run-level deadlines, cooperative cancellation, bounded concurrency across
// runs, and checkpoint-based resume.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/forgelabs/agentforge/internal/config"
	"github.com/forgelabs/agentforge/internal/creator"
	"github.com/forgelabs/agentforge/internal/db"
	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/gate"
	"github.com/forgelabs/agentforge/internal/graph"
	"github.com/forgelabs/agentforge/internal/state"
)

var (
	// ErrBusy is returned when the run concurrency bound is reached.
	// Callers surface it as backpressure, never queue silently.
	ErrBusy = errors.New("run capacity reached, try again later")
	// ErrNotFound is returned for an unknown run id.
	ErrNotFound = errors.New("run not found")
	// ErrCanceled stops a run at the next node boundary after Cancel.
	ErrCanceled = errors.New("run canceled")
	// ErrDeadline stops a run at the next node boundary once the run-level
	// deadline has passed.
	ErrDeadline = errors.New("run deadline exceeded")
)

// Run statuses.
const (
	StatusRunning               = "running"
	StatusCompleted             = "completed"
	StatusCompletedWithWarnings = "completed_with_warnings"
	StatusFailed                = "failed"
	StatusCanceled              = "canceled"
)

// Record is the externally visible status of one run.
type Record struct {
	RunID                string    `json:"run_id"`
	Status               string    `json:"status"`
	Node                 string    `json:"node,omitempty"`
	Error                string    `json:"error,omitempty"`
	AcceptedWithWarnings bool      `json:"accepted_with_warnings,omitempty"`
	SubmittedAt          time.Time `json:"submitted_at"`
	FinishedAt           time.Time `json:"finished_at,omitempty"`
}

// IterationLog is one gate iteration in the final output record.
type IterationLog struct {
	Gate      string `json:"gate"`
	Iteration int    `json:"iteration"`
	Approved  bool   `json:"approved"`
	Summary   string `json:"summary"`
}

// FinalRecord is the output record of a finished run.
type FinalRecord struct {
	RunID                string         `json:"run_id"`
	Status               string         `json:"status"`
	AcceptedWithWarnings bool           `json:"accepted_with_warnings"`
	ForcedGates          []string       `json:"forced_gates,omitempty"`
	Artifacts            map[string]any `json:"artifacts"`
	IterationLogs        []IterationLog `json:"iteration_logs"`
}

// Metrics receives run lifecycle observations. The HTTP layer implements it
// with prometheus; a nil Metrics disables instrumentation.
type Metrics interface {
	RunStarted()
	RunFinished(status string, d time.Duration)
	ForcedAccept(gateName string)
	StageDuration(stage string, d time.Duration)
}

// Opts configures a Manager.
type Opts struct {
	Graph    *graph.Graph
	Store    *state.Store
	DB       *db.DB
	Pipeline config.Pipeline
	Metrics  Metrics
	Progress io.Writer
}

type handle struct {
	record   Record
	canceled bool
	deadline time.Time
}

// Manager owns the run lifecycle. At most Pipeline.MaxConcurrentRuns runs
// execute at once; submissions beyond that are rejected with ErrBusy.
type Manager struct {
	engine   *graph.Engine
	store    *state.Store
	db       *db.DB
	pipeline config.Pipeline
	metrics  Metrics
	progress io.Writer

	sem *semaphore.Weighted

	mu   sync.Mutex
	runs map[string]*handle
	wg   sync.WaitGroup
}

// NewManager wires the engine, supervisor and stores into a run manager.
func NewManager(o Opts) (*Manager, error) {
	if o.Graph == nil || o.Store == nil {
		return nil, errors.New("run: graph and store are required")
	}

	sup := NewSupervisor(o.Pipeline.StageTimeout, RetryPolicy{
		MaxAttempts:  o.Pipeline.Retry.MaxAttempts,
		BaseDelay:    o.Pipeline.Retry.BaseDelayDuration(),
		MaxDelay:     o.Pipeline.Retry.MaxDelayDuration(),
		JitterFactor: 0.1,
	})
	sup.SetProgress(o.Progress)

	m := &Manager{
		store:    o.Store,
		db:       o.DB,
		pipeline: o.Pipeline,
		metrics:  o.Metrics,
		progress: o.Progress,
		runs:     make(map[string]*handle),
	}

	var invoker graph.Invoker = sup
	if o.Metrics != nil {
		invoker = &timedInvoker{next: sup, metrics: o.Metrics}
	}

	engine, err := graph.NewEngine(o.Graph, invoker, o.Store)
	if err != nil {
		return nil, err
	}
	if o.DB != nil {
		engine.SetAudit(o.DB)
	}
	engine.SetProgress(o.Progress)
	m.engine = engine

	limit := o.Pipeline.MaxConcurrentRuns
	if limit <= 0 {
		limit = 4
	}
	m.sem = semaphore.NewWeighted(int64(limit))
	return m, nil
}

// Submit starts a new run for the given inputs and returns its id. The run
// executes asynchronously; poll Status for progress.
func (m *Manager) Submit(in state.Inputs) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	if !m.sem.TryAcquire(1) {
		return "", ErrBusy
	}

	runID := uuid.New().String()
	st, err := state.New(runID, in)
	if err != nil {
		m.sem.Release(1)
		return "", err
	}

	m.track(runID)
	m.logEvent(runID, "submitted", "", "")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.sem.Release(1)
		m.execute(runID, st, graph.RunOpts{
			Bounds: creator.Bounds(m.pipeline.GateBounds()),
			Guard:  m.guard(runID),
		})
	}()
	return runID, nil
}

// Resume continues an interrupted run from its last checkpoint.
func (m *Manager) Resume(runID string) error {
	cp, err := m.store.Load(runID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if cp.Node == string(graph.End) {
		return fmt.Errorf("run %s already reached its terminal node", runID)
	}
	if !m.sem.TryAcquire(1) {
		return ErrBusy
	}

	m.track(runID)
	m.logEvent(runID, "resumed", cp.Node, "")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.sem.Release(1)
		m.execute(runID, cp.State, graph.RunOpts{
			Start:  graph.NodeID(cp.Node),
			Gates:  cp.Gates,
			Bounds: creator.Bounds(m.pipeline.GateBounds()),
			Guard:  m.guard(runID),
		})
	}()
	return nil
}

// Cancel requests cooperative cancellation. The in-flight stage finishes and
// its output is merged; the run stops at the next node boundary with its
// checkpoint intact.
func (m *Manager) Cancel(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if h.record.Status != StatusRunning {
		return fmt.Errorf("run %s is %s, not cancelable", runID, h.record.Status)
	}
	h.canceled = true
	return nil
}

// Status returns the record for one run.
func (m *Manager) Status(runID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.runs[runID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return h.record, nil
}

// List returns records for all runs this process has seen, newest first.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.runs))
	for _, h := range m.runs {
		out = append(out, h.record)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Final loads the final output record of a completed run from the store.
func (m *Manager) Final(runID string) (*FinalRecord, error) {
	var rec FinalRecord
	if err := m.store.LoadFinal(runID, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &rec, nil
}

// Wait blocks until all in-flight runs finish. For one-shot CLI use and
// graceful shutdown.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) track(runID string) {
	h := &handle{record: Record{
		RunID:       runID,
		Status:      StatusRunning,
		SubmittedAt: time.Now().UTC(),
	}}
	if d := m.pipeline.RunDeadline(); d > 0 {
		h.deadline = time.Now().Add(d)
	}
	m.mu.Lock()
	m.runs[runID] = h
	m.mu.Unlock()
}

// guard is consulted by the engine before every node. It carries the
// cancellation flag and the run-level deadline to the node boundary.
func (m *Manager) guard(runID string) func(next graph.NodeID) error {
	return func(next graph.NodeID) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		h, ok := m.runs[runID]
		if !ok {
			return ErrNotFound
		}
		if h.canceled {
			return ErrCanceled
		}
		if !h.deadline.IsZero() && time.Now().After(h.deadline) {
			return ErrDeadline
		}
		h.record.Node = string(next)
		return nil
	}
}

func (m *Manager) execute(runID string, st *state.State, opts graph.RunOpts) {
	started := time.Now()
	m.logEvent(runID, "started", string(opts.Start), "")
	if m.metrics != nil {
		m.metrics.RunStarted()
	}

	outcome, err := m.engine.Run(context.Background(), st, opts)

	status := StatusCompleted
	var gates map[string]*gate.State
	switch {
	case err == nil:
		gates = outcome.Gates
		if outcome.State.AcceptedWithWarnings() {
			status = StatusCompletedWithWarnings
		}
	case errors.Is(err, ErrCanceled):
		status = StatusCanceled
	default:
		status = StatusFailed
	}

	var runErr *graph.RunError
	if errors.As(err, &runErr) {
		gates = runErr.Gates
	}

	m.finish(runID, status, err)
	m.logEvent(runID, eventFor(status), "", errDetail(err))
	for _, gs := range gates {
		if gs.ForceAccepted {
			m.logEvent(runID, "force_accepted", gs.Gate, "")
			if m.metrics != nil {
				m.metrics.ForcedAccept(gs.Gate)
			}
		}
	}
	if m.metrics != nil {
		m.metrics.RunFinished(status, time.Since(started))
	}

	if err != nil {
		m.logf("run %s %s: %v", runID, status, err)
		return
	}

	final := buildFinal(runID, status, outcome)
	if serr := m.store.SaveFinal(runID, final); serr != nil {
		m.logf("run %s: save final record: %v", runID, serr)
	}
	m.logf("run %s %s", runID, status)
}

func (m *Manager) finish(runID, status string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.runs[runID]
	if !ok {
		return
	}
	h.record.Status = status
	h.record.FinishedAt = time.Now().UTC()
	if err != nil {
		h.record.Error = err.Error()
	}
	if status == StatusCompletedWithWarnings {
		h.record.AcceptedWithWarnings = true
	}
}

func (m *Manager) logEvent(runID, event, node, detail string) {
	if m.db != nil {
		_ = m.db.LogRunEvent(runID, event, node, detail)
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.progress != nil {
		fmt.Fprintf(m.progress, format+"\n", args...)
	}
}

func eventFor(status string) string {
	switch status {
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	default:
		return "completed"
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func buildFinal(runID, status string, outcome *graph.Outcome) *FinalRecord {
	final := &FinalRecord{
		RunID:                runID,
		Status:               status,
		AcceptedWithWarnings: outcome.State.AcceptedWithWarnings(),
		Artifacts:            outcome.State.Artifacts(creator.ArtifactFields...),
	}

	names := make([]string, 0, len(outcome.Gates))
	for name := range outcome.Gates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		gs := outcome.Gates[name]
		if gs.ForceAccepted {
			final.ForcedGates = append(final.ForcedGates, name)
		}
		for _, entry := range gs.Log {
			final.IterationLogs = append(final.IterationLogs, IterationLog{
				Gate:      name,
				Iteration: entry.Iteration,
				Approved:  entry.Approved,
				Summary:   entry.Summary,
			})
		}
	}
	return final
}

// timedInvoker wraps the supervisor with a stage duration observation.
type timedInvoker struct {
	next    graph.Invoker
	metrics Metrics
}

func (t *timedInvoker) Invoke(ctx context.Context, node *graph.Node, view *state.View) (*executor.Result, error) {
	started := time.Now()
	res, err := t.next.Invoke(ctx, node, view)
	t.metrics.StageDuration(string(node.ID), time.Since(started))
	return res, err
}
