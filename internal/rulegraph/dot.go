package rulegraph

import (
	"fmt"
	"strings"
)

// Dot renders the compiled graph in Graphviz DOT form for diagnostics. The
// output is deterministic: node numbering follows the arena and edges follow
// declaration order.
func (g *Graph) Dot() string {
	var sb strings.Builder
	sb.WriteString("digraph rulegraph {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box];\n")

	for i := range g.nodes {
		n := &g.nodes[i]
		switch n.Kind {
		case KindParam:
			fmt.Fprintf(&sb, "  n%d [label=%q shape=ellipse];\n", n.ID, fmt.Sprintf("Param(%s)", n.Output))
		case KindRule:
			fmt.Fprintf(&sb, "  n%d [label=%q];\n", n.ID, fmt.Sprintf("%s\n%s", n.Rule.Name, n.Output))
		}
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		if n.Kind != KindRule {
			continue
		}
		for j, in := range n.Inputs {
			fmt.Fprintf(&sb, "  n%d -> n%d [label=%q];\n", n.ID, in, fmt.Sprintf("in %s", n.Rule.Params[j]))
		}
		for _, edge := range n.Gets {
			for _, m := range edge.Members {
				fmt.Fprintf(&sb, "  n%d -> n%d [label=%q style=dashed];\n", n.ID, m.Node,
					fmt.Sprintf("%s via %s", edge.Constraint, m.Subject))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
