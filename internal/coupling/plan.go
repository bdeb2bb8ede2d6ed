package coupling

import (
	"fmt"
	"strings"
)

// Group is one step of a plan: a single port, or every port of an
// algebraic loop.
type Group struct {
	Nodes []int
}

func (g Group) IsLoop() bool { return len(g.Nodes) > 1 }

// Plan is the evaluation order of a graph. Concatenating the groups gives
// a topological order of the condensed graph.
type Plan struct {
	graph  *Graph
	Groups []Group
}

func (p *Plan) Graph() *Graph { return p.graph }

// Ports returns the ports of group i in arena order.
func (p *Plan) Ports(i int) []Port {
	out := make([]Port, len(p.Groups[i].Nodes))
	for k, v := range p.Groups[i].Nodes {
		out[k] = p.graph.nodes[v].port
	}
	return out
}

// Loops counts the algebraic loops.
func (p *Plan) Loops() int {
	n := 0
	for _, g := range p.Groups {
		if g.IsLoop() {
			n++
		}
	}
	return n
}

// Position returns the index of the group containing port, or -1.
func (p *Plan) Position(port Port) int {
	v, ok := p.graph.index[port]
	if !ok {
		return -1
	}
	for i, g := range p.Groups {
		for _, n := range g.Nodes {
			if n == v {
				return i
			}
		}
	}
	return -1
}

// loopInputs returns the connected inputs of a group, in arena order.
func (p *Plan) loopInputs(g Group) []int {
	var out []int
	for _, v := range g.Nodes {
		n := p.graph.nodes[v]
		if n.kind == inputNode && n.source >= 0 {
			out = append(out, v)
		}
	}
	return out
}

func (p *Plan) String() string {
	var b strings.Builder
	for i, g := range p.Groups {
		ports := p.Ports(i)
		names := make([]string, len(ports))
		for k, port := range ports {
			names[k] = port.String()
		}
		if g.IsLoop() {
			fmt.Fprintf(&b, "%3d. loop [%s]\n", i+1, strings.Join(names, ", "))
			continue
		}
		n := p.graph.nodes[g.Nodes[0]]
		if n.kind == inputNode && n.source >= 0 {
			fmt.Fprintf(&b, "%3d. %s <- %s\n", i+1, names[0], p.graph.nodes[n.source].port)
		} else {
			fmt.Fprintf(&b, "%3d. %s\n", i+1, names[0])
		}
	}
	return b.String()
}
