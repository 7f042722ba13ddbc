package graph

import (
	"errors"
	"fmt"

	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/gate"
)

// ErrNoTransition is returned when a node produced no successful result; the
// caller decides between retry and abort, the router never advances past a
// failure.
var ErrNoTransition = errors.New("no transition for failed node")

// Route maps (node, result, gate state) to the next node id. It is a pure
// function of its arguments: no I/O, no clock, no hidden state, so identical
// inputs always yield the identical next node.
//
// Policy:
//   - ungated node with a successful result: the configured successor;
//   - ungated node without a result: ErrNoTransition;
//   - gated node, verdict approved: the successor after the gate;
//   - gated node, rejected below the iteration bound: back to the draft node;
//   - gated node, rejected at the bound: the successor, force-accepted.
func Route(n *Node, res *executor.Result, gs *gate.State) (NodeID, error) {
	if res == nil {
		return "", ErrNoTransition
	}
	if !n.Gated {
		return n.Next, nil
	}
	if gs == nil || gs.LastVerdict == nil {
		return "", fmt.Errorf("gated node %q routed without a verdict", n.ID)
	}
	if gs.LastVerdict.Approved || gs.ForceAccepted {
		return n.Next, nil
	}
	return n.ID, nil
}
