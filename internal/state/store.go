package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/forgelabs/agentforge/internal/gate"
)

// Checkpoint is everything needed to resume a run after a process restart:
// the accumulated state, the next node to execute, and the gate states (live
// and retired) at the time of the last successful merge.
type Checkpoint struct {
	Node      string                 `json:"node"`
	State     *State                 `json:"state"`
	Gates     map[string]*gate.State `json:"gates,omitempty"`
	UpdatedAt string                 `json:"updated_at"`
}

// Store persists run checkpoints on disk, one directory per run.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.agentforge/runs, creating the directory
// if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".agentforge", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string { return s.baseDir }

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) checkpointPath(runID string) string {
	return filepath.Join(s.runDir(runID), "checkpoint.json")
}

// Save writes the checkpoint for a run. Called after every successful node
// merge; the write is atomic so a reader never observes a torn checkpoint.
func (s *Store) Save(runID string, cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return writeJSON(s.checkpointPath(runID), cp)
}

// Load reads the checkpoint for a run.
func (s *Store) Load(runID string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := readJSON(s.checkpointPath(runID), &cp); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return &cp, nil
}

// SaveFinal writes the run's final output record alongside the checkpoint.
func (s *Store) SaveFinal(runID string, record any) error {
	return writeJSON(filepath.Join(s.runDir(runID), "final.json"), record)
}

// LoadFinal reads the final output record of a run into v.
func (s *Store) LoadFinal(runID string, v any) error {
	return readJSON(filepath.Join(s.runDir(runID), "final.json"), v)
}

// SaveStageOutput archives one stage invocation's raw output for diagnostics.
func (s *Store) SaveStageOutput(runID, node string, attempt int, out Output) error {
	name := fmt.Sprintf("%s-attempt-%d.json", node, attempt)
	raw := make(map[string]any, len(out))
	for f, v := range out {
		raw[string(f)] = v
	}
	return writeJSON(filepath.Join(s.runDir(runID), "stages", name), raw)
}

// List returns the ids of all persisted runs, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(runID string) error {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", runID)
	}
	return os.RemoveAll(dir)
}
