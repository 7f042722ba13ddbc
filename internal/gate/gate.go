// Package gate implements the bounded draft->review->revise loop: a review
// verdict per iteration, an iteration guard enforcing the per-gate bound, and
// an audit log distinguishing clean approvals from forced acceptance.
package gate

import (
	"fmt"
	"strings"
)

// Verdict is a review stage's structured approve/reject decision.
type Verdict struct {
	Approved       bool     `json:"approved"`
	Feedback       string   `json:"feedback"`
	BlockingIssues []string `json:"blocking_issues,omitempty"`
}

// Validate enforces the verdict invariant: an approval carries no blocking
// issues.
func (v *Verdict) Validate() error {
	if v.Approved && len(v.BlockingIssues) > 0 {
		return fmt.Errorf("approved verdict carries %d blocking issues", len(v.BlockingIssues))
	}
	return nil
}

// Summary renders a one-line description of the verdict for the audit log.
func (v *Verdict) Summary() string {
	if v.Approved {
		return "approved"
	}
	if len(v.BlockingIssues) > 0 {
		return "rejected: " + strings.Join(v.BlockingIssues, "; ")
	}
	if v.Feedback != "" {
		return "rejected: " + firstLine(v.Feedback)
	}
	return "rejected"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Decision is the guard's routing choice after observing a verdict.
type Decision int

const (
	// Revise loops back to the draft stage for another pass.
	Revise Decision = iota
	// Advance moves past the gate on a clean approval.
	Advance
	// ForceAccept moves past the gate without approval because the
	// iteration bound was reached.
	ForceAccept
)

func (d Decision) String() string {
	switch d {
	case Revise:
		return "revise"
	case Advance:
		return "advance"
	case ForceAccept:
		return "force_accept"
	default:
		return "unknown"
	}
}

// LogEntry records one gate iteration for post-hoc audit.
type LogEntry struct {
	Iteration int    `json:"iteration"`
	Approved  bool   `json:"approved"`
	Summary   string `json:"summary"`
}

// State tracks one gate's revise loop. Iteration counts rejections observed:
// a gate approved on the first attempt exits with Iteration == 0. The
// invariant Iteration <= MaxIterations holds after every transition.
type State struct {
	Gate          string     `json:"gate"`
	Iteration     int        `json:"iteration"`
	MaxIterations int        `json:"max_iterations"`
	LastVerdict   *Verdict   `json:"last_verdict,omitempty"`
	ForceAccepted bool       `json:"force_accepted"`
	Retired       bool       `json:"retired"`
	Log           []LogEntry `json:"log"`
}

// NewState creates gate state with the given per-gate iteration bound.
// maxIterations must be positive.
func NewState(name string, maxIterations int) (*State, error) {
	if maxIterations <= 0 {
		return nil, fmt.Errorf("gate %q: max_iterations must be positive, got %d", name, maxIterations)
	}
	return &State{Gate: name, MaxIterations: maxIterations}, nil
}

// Observe records a verdict, advances the iteration count on rejection, and
// returns the routing decision. On the decision that exits the gate the
// state is retired but kept for audit.
func (s *State) Observe(v *Verdict) (Decision, error) {
	if s.Retired {
		return Advance, fmt.Errorf("gate %q already retired", s.Gate)
	}
	if err := v.Validate(); err != nil {
		return Revise, fmt.Errorf("gate %q: %w", s.Gate, err)
	}
	s.LastVerdict = v
	s.Log = append(s.Log, LogEntry{Iteration: s.Iteration, Approved: v.Approved, Summary: v.Summary()})

	if v.Approved {
		s.Retired = true
		return Advance, nil
	}

	s.Iteration++
	if s.Iteration >= s.MaxIterations {
		// Forward progress over unbounded looping: exit the gate, keep
		// the rejecting feedback visible in the audit log.
		s.ForceAccepted = true
		s.Retired = true
		return ForceAccept, nil
	}
	return Revise, nil
}
