// Package graph implements the workflow engine: a narrow node graph (linear
// stages plus paired draft/review gates), a pure router, and the engine that
// walks it, merging stage outputs into the run's state and checkpointing
// after every node.
package graph

import (
	"fmt"

	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/state"
)

// NodeID identifies a node in the graph.
type NodeID string

// End is the terminal marker: a node whose Next is End is the last stage of
// the run.
const End NodeID = "end"

// Node is one stage of the workflow. A gated node names its paired review
// node; the engine runs the review after every draft pass and loops until
// the gate approves or its iteration bound forces acceptance.
type Node struct {
	ID     NodeID
	Exec   executor.Executor
	Reads  []state.Field
	Schema executor.Schema
	Next   NodeID

	Gated  bool
	Review NodeID
}

// Graph is a validated workflow: an entry node and a chain of successors
// ending at End. Review nodes hang off their draft nodes and are never part
// of the chain; unrestricted cycles are deliberately not expressible, which
// is what makes termination provable.
type Graph struct {
	Entry NodeID
	Nodes map[NodeID]*Node
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (*Node, error) {
	n, ok := g.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %q not in graph", id)
	}
	return n, nil
}

// Validate checks the graph's shape: the entry chain must reach End without
// revisiting a node, every gated node needs a review partner that is itself
// ungated and outside the chain, and every node needs an executor.
func (g *Graph) Validate() error {
	if g.Entry == "" || g.Entry == End {
		return fmt.Errorf("graph has no entry node")
	}
	reviews := make(map[NodeID]NodeID)
	for id, n := range g.Nodes {
		if n.ID != id {
			return fmt.Errorf("node %q registered under id %q", n.ID, id)
		}
		if n.Exec == nil {
			return fmt.Errorf("node %q has no executor", id)
		}
		if n.Gated {
			if n.Review == "" {
				return fmt.Errorf("gated node %q has no review node", id)
			}
			rn, ok := g.Nodes[n.Review]
			if !ok {
				return fmt.Errorf("gated node %q: review node %q not in graph", id, n.Review)
			}
			if rn.Gated {
				return fmt.Errorf("review node %q may not itself be gated", n.Review)
			}
			if prev, dup := reviews[n.Review]; dup {
				return fmt.Errorf("review node %q paired with both %q and %q", n.Review, prev, id)
			}
			reviews[n.Review] = id
		}
	}

	// Walk the chain from entry to End.
	seen := make(map[NodeID]bool)
	for cur := g.Entry; cur != End; {
		if seen[cur] {
			return fmt.Errorf("cycle through node %q", cur)
		}
		seen[cur] = true
		n, ok := g.Nodes[cur]
		if !ok {
			return fmt.Errorf("chain references unknown node %q", cur)
		}
		if n.Next == "" {
			return fmt.Errorf("node %q has no successor", cur)
		}
		if _, isReview := reviews[cur]; isReview {
			return fmt.Errorf("review node %q appears in the stage chain", cur)
		}
		cur = n.Next
	}

	// Every node is either on the chain or a paired review node.
	for id := range g.Nodes {
		if _, onChain := seen[id]; !onChain {
			if _, isReview := reviews[id]; !isReview {
				return fmt.Errorf("node %q is unreachable", id)
			}
		}
	}
	return nil
}
