package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Node names. Edges and NodesVisited refer to these.
const (
	NodeSmartRouter  = "smart_router"
	NodeOrchestrator = "orchestrator"
	NodeGreet        = "greet"
	NodeOptimizedRAG = "optimized_rag"
	NodeRespond      = "respond"
	NodeValidate     = "validate_response"
	NodeRetryRespond = "retry_respond"
	NodeHandoff      = "handoff"

	// End terminates the walk.
	End = "__end__"
)

// maxSteps bounds a single turn. The deepest legal path visits six
// nodes, so hitting this means a broken edge table.
const maxSteps = 12

// NodeFunc executes one node and returns its state delta.
type NodeFunc func(ctx context.Context, s *State) (*Update, error)

// EdgeFunc picks the next node after the updated state is merged.
type EdgeFunc func(s *State) string

// Graph is a table-driven executor: named nodes plus a routing
// function per node. A nil edge means the node is terminal.
type Graph struct {
	entry string
	nodes map[string]NodeFunc
	edges map[string]EdgeFunc
}

// NewGraph creates an empty graph with the given entry node.
func NewGraph(entry string) *Graph {
	return &Graph{
		entry: entry,
		nodes: make(map[string]NodeFunc),
		edges: make(map[string]EdgeFunc),
	}
}

// AddNode registers a node. A nil edge routes straight to End.
func (g *Graph) AddNode(name string, fn NodeFunc, edge EdgeFunc) {
	g.nodes[name] = fn
	g.edges[name] = edge
}

// Run walks the graph from the entry node, merging each node's update
// into the state, until an edge returns End. The state's NodesVisited
// records actual execution order.
func (g *Graph) Run(ctx context.Context, s *State) error {
	current := g.entry
	for steps := 0; ; steps++ {
		if steps >= maxSteps {
			return fmt.Errorf("graph exceeded %d steps at node %q", maxSteps, current)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fn, ok := g.nodes[current]
		if !ok {
			return fmt.Errorf("graph routed to unknown node %q", current)
		}

		started := time.Now()
		update, err := fn(ctx, s)
		if err != nil {
			return fmt.Errorf("node %s: %w", current, err)
		}
		s.apply(update)
		s.NodesVisited = append(s.NodesVisited, current)

		slog.Debug("Graph: node completed",
			"node", current,
			"duration_ms", time.Since(started).Milliseconds(),
		)

		edge := g.edges[current]
		if edge == nil {
			return nil
		}
		next := edge(s)
		if next == End {
			return nil
		}
		current = next
	}
}
