package lifecycle

import (
	"fmt"
	"os"
)

// GraphNode is one notified client in a traversal graph.
type GraphNode struct {
	ID    string `json:"id"`
	Phase string `json:"phase"`
}

// GraphEdge is a "notified before" ordering edge between two traversal
// steps. Parallel-phase members all point from a synthetic phase-start
// node rather than from each other, since the phase defines no ordering
// between them.
type GraphEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Graph is a debug-oriented rendering of a transition's notification
// order — the phase traversal made inspectable. This is purely a
// diagnostic aid; nothing in the transition engine reads it back.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// traversalStep is one notification the engine dispatched, recorded in
// the order it was sent, for BuildTraversalGraph to render.
type traversalStep struct {
	id    ClientID
	kind  ShutdownKind
	phase string
}

// BuildTraversalGraph renders the most recently completed (or in
// progress) transition's notification order as a Graph: one node per
// notified client, edges linking sequential steps in dispatch order, and
// a single synthetic node per parallel phase that fans out to every
// member notified simultaneously.
func (e *Engine) BuildTraversalGraph() Graph {
	e.mu.Lock()
	steps := make([]traversalStep, len(e.lastTraversal))
	copy(steps, e.lastTraversal)
	e.mu.Unlock()

	graph := Graph{
		Nodes: make([]GraphNode, 0, len(steps)),
		Edges: make([]GraphEdge, 0, len(steps)),
	}

	var previous string
	parallelAnchor := make(map[string]string)
	for _, step := range steps {
		nodeID := fmt.Sprintf("%d", uint64(step.id))
		graph.Nodes = append(graph.Nodes, GraphNode{ID: nodeID, Phase: step.phase})

		if step.kind.isParallel() {
			anchor, ok := parallelAnchor[step.phase]
			if !ok {
				anchor = step.phase + "-start"
				graph.Nodes = append(graph.Nodes, GraphNode{ID: anchor, Phase: step.phase})
				if previous != "" {
					graph.Edges = append(graph.Edges, GraphEdge{From: previous, To: anchor})
				}
				parallelAnchor[step.phase] = anchor
			}
			graph.Edges = append(graph.Edges, GraphEdge{From: anchor, To: nodeID, Label: "parallel"})
			continue
		}

		if previous != "" {
			graph.Edges = append(graph.Edges, GraphEdge{From: previous, To: nodeID, Label: "sequential"})
		}
		previous = nodeID
	}

	return graph
}

// ToDOT converts the graph to Graphviz DOT format.
func (g Graph) ToDOT() string {
	var result string
	result += "digraph Transition {\n"
	result += "  rankdir=LR;\n\n"

	for _, node := range g.Nodes {
		result += fmt.Sprintf("  %q [label=%q, shape=box];\n", node.ID, node.ID)
	}

	result += "\n"

	for _, edge := range g.Edges {
		if edge.Label != "" {
			result += fmt.Sprintf("  %q -> %q [label=%q];\n", edge.From, edge.To, edge.Label)
		} else {
			result += fmt.Sprintf("  %q -> %q;\n", edge.From, edge.To)
		}
	}

	result += "}\n"
	return result
}

// WriteTraversalGraph writes the current traversal graph to path in DOT
// format, for operators debugging a stuck shutdown/run-up.
func (e *Engine) WriteTraversalGraph(path string) error {
	dot := e.BuildTraversalGraph().ToDOT()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lifecycle: creating graph output file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(dot); err != nil {
		return fmt.Errorf("lifecycle: writing graph: %w", err)
	}
	return nil
}
