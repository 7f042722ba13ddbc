package db

import "fmt"

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	RunID     string
	Event     string
	Node      string
	Detail    string
	Timestamp string
}

// StageInvocation represents a row in the stage_invocations table.
type StageInvocation struct {
	ID        int
	RunID     string
	Node      string
	Attempt   int
	Outcome   string
	Detail    string
	Timestamp string
}

// GateIteration represents a row in the gate_iterations table.
type GateIteration struct {
	ID        int
	RunID     string
	Gate      string
	Iteration int
	Approved  bool
	Summary   string
	Timestamp string
}

// LogRunEvent inserts a run lifecycle event.
func (d *DB) LogRunEvent(runID, event, node, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_events (run_id, event, node, detail) VALUES (?, ?, ?, ?)`,
		runID, event, node, detail,
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// StageInvoked inserts a stage invocation record. Satisfies the engine's
// audit interface.
func (d *DB) StageInvoked(runID, node string, attempt int, outcome, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO stage_invocations (run_id, node, attempt, outcome, detail) VALUES (?, ?, ?, ?, ?)`,
		runID, node, attempt, outcome, detail,
	)
	if err != nil {
		return fmt.Errorf("log stage invocation: %w", err)
	}
	return nil
}

// GateIteration inserts a gate iteration record. Satisfies the engine's
// audit interface.
func (d *DB) GateIteration(runID, gate string, iteration int, approved bool, summary string) error {
	_, err := d.conn.Exec(
		`INSERT INTO gate_iterations (run_id, gate, iteration, approved, summary) VALUES (?, ?, ?, ?, ?)`,
		runID, gate, iteration, approved, summary,
	)
	if err != nil {
		return fmt.Errorf("log gate iteration: %w", err)
	}
	return nil
}

// RunEvents returns all events for a run, oldest first.
func (d *DB) RunEvents(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, event, COALESCE(node, ''), COALESCE(detail, ''), timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &e.Node, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// StageInvocations returns all invocation records for a run, oldest first.
func (d *DB) StageInvocations(runID string) ([]StageInvocation, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, node, attempt, outcome, COALESCE(detail, ''), timestamp
		 FROM stage_invocations WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage invocations: %w", err)
	}
	defer rows.Close()

	var invs []StageInvocation
	for rows.Next() {
		var s StageInvocation
		if err := rows.Scan(&s.ID, &s.RunID, &s.Node, &s.Attempt, &s.Outcome, &s.Detail, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage invocation: %w", err)
		}
		invs = append(invs, s)
	}
	return invs, rows.Err()
}

// GateIterations returns all gate iteration records for a run, oldest first.
func (d *DB) GateIterations(runID string) ([]GateIteration, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, gate, iteration, approved, COALESCE(summary, ''), timestamp
		 FROM gate_iterations WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query gate iterations: %w", err)
	}
	defer rows.Close()

	var iters []GateIteration
	for rows.Next() {
		var g GateIteration
		var approved int
		if err := rows.Scan(&g.ID, &g.RunID, &g.Gate, &g.Iteration, &approved, &g.Summary, &g.Timestamp); err != nil {
			return nil, fmt.Errorf("scan gate iteration: %w", err)
		}
		g.Approved = approved != 0
		iters = append(iters, g)
	}
	return iters, rows.Err()
}

// ForcedAcceptCount returns how many runs recorded a force_accepted event.
func (d *DB) ForcedAcceptCount() (int, error) {
	var n int
	err := d.conn.QueryRow(
		`SELECT COUNT(DISTINCT run_id) FROM run_events WHERE event = 'force_accepted'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count forced accepts: %w", err)
	}
	return n, nil
}
