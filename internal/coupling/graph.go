package coupling

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/san-kum/hybridsim/internal/fmi"
)

type nodeKind int

const (
	inputNode nodeKind = iota
	outputNode
)

type node struct {
	port Port
	kind nodeKind
	// source is the output node feeding an input node, or -1.
	source int
}

// Graph is the port dependency graph. Nodes live in an arena indexed in
// declaration order: units in the given order, then each unit's inputs
// and outputs in directory order. Edges run from an output to every input
// it feeds, and from an input to every output of the same unit that
// depends on it directly.
type Graph struct {
	nodes []node
	edges [][]int
	index map[Port]int
}

// NewGraph validates conns against the units' directories and builds the
// dependency graph.
func NewGraph(units []UnitPorts, conns []Connection) (*Graph, error) {
	g := &Graph{index: make(map[Port]int)}
	descs := make(map[string]*fmi.ModelDescription, len(units))

	for _, u := range units {
		if _, dup := descs[u.Name]; dup {
			return nil, fmt.Errorf("duplicate unit %q: %w", u.Name, ErrInvalidConnection)
		}
		descs[u.Name] = u.Desc
		for _, v := range u.Desc.Variables {
			switch v.Causality {
			case fmi.Input:
				g.add(Port{u.Name, v.Name}, inputNode)
			case fmi.Output:
				g.add(Port{u.Name, v.Name}, outputNode)
			}
		}
	}
	g.edges = make([][]int, len(g.nodes))

	for _, c := range conns {
		from, err := g.resolve(descs, c.From, outputNode)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", c, err)
		}
		to, err := g.resolve(descs, c.To, inputNode)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", c, err)
		}
		if prev := g.nodes[to].source; prev >= 0 {
			return nil, fmt.Errorf("connection %s: input already fed by %s: %w",
				c, g.nodes[prev].port, ErrInvalidConnection)
		}
		g.nodes[to].source = from
		g.edges[from] = append(g.edges[from], to)
	}

	for _, u := range units {
		inputs := u.Desc.Inputs()
		for _, out := range u.Desc.Outputs() {
			o := g.index[Port{u.Name, out.Name}]
			for _, in := range inputs {
				if u.Desc.Feedthrough(&out, &in) {
					i := g.index[Port{u.Name, in.Name}]
					g.edges[i] = append(g.edges[i], o)
				}
			}
		}
	}
	return g, nil
}

func (g *Graph) add(p Port, kind nodeKind) {
	g.index[p] = len(g.nodes)
	g.nodes = append(g.nodes, node{port: p, kind: kind, source: -1})
}

func (g *Graph) resolve(descs map[string]*fmi.ModelDescription, p Port, want nodeKind) (int, error) {
	desc, ok := descs[p.Unit]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q: %w", p.Unit, ErrInvalidConnection)
	}
	v, ok := desc.Lookup(p.Name)
	if !ok {
		return 0, fmt.Errorf("unit %q has no variable %q: %w", p.Unit, p.Name, ErrInvalidConnection)
	}
	idx, ok := g.index[Port{p.Unit, v.Name}]
	if !ok || g.nodes[idx].kind != want {
		role := "an output"
		if want == inputNode {
			role = "an input"
		}
		return 0, fmt.Errorf("%s is %s, not %s: %w", p, v.Causality, role, ErrInvalidConnection)
	}
	return idx, nil
}

// Len is the number of ports in the arena.
func (g *Graph) Len() int { return len(g.nodes) }

// Port returns the port at arena index i.
func (g *Graph) Port(i int) Port { return g.nodes[i].port }

// Source returns the output feeding input p, if it is connected.
func (g *Graph) Source(p Port) (Port, bool) {
	i, ok := g.index[p]
	if !ok || g.nodes[i].source < 0 {
		return Port{}, false
	}
	return g.nodes[g.nodes[i].source].port, true
}

// Connected lists the connected inputs in declaration order.
func (g *Graph) Connected() []Port {
	var out []Port
	for _, n := range g.nodes {
		if n.kind == inputNode && n.source >= 0 {
			out = append(out, n.port)
		}
	}
	return out
}

// components returns the strongly connected components with Tarjan's
// algorithm, iteratively. Components come out in reverse topological
// order; members of each are sorted by arena index.
func (g *Graph) components() [][]int {
	n := len(g.nodes)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	var comps [][]int
	next := 0

	type frame struct{ v, edge int }
	for root := 0; root < n; root++ {
		if index[root] >= 0 {
			continue
		}
		call := []frame{{root, 0}}
		index[root], low[root] = next, next
		next++
		stack = append(stack, root)
		onStack[root] = true

		for len(call) > 0 {
			top := &call[len(call)-1]
			v := top.v
			if top.edge < len(g.edges[v]) {
				w := g.edges[v][top.edge]
				top.edge++
				switch {
				case index[w] < 0:
					index[w], low[w] = next, next
					next++
					stack = append(stack, w)
					onStack[w] = true
					call = append(call, frame{w, 0})
				case onStack[w]:
					low[v] = min(low[v], index[w])
				}
				continue
			}

			call = call[:len(call)-1]
			if len(call) > 0 {
				parent := call[len(call)-1].v
				low[parent] = min(low[parent], low[v])
			}
			if low[v] == index[v] {
				var comp []int
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == v {
						break
					}
				}
				sort.Ints(comp)
				comps = append(comps, comp)
			}
		}
	}
	return comps
}

// Plan condenses the graph into components and orders them with Kahn's
// algorithm. Ties go to the component holding the lowest arena index.
func (g *Graph) Plan() *Plan {
	comps := g.components()
	compOf := make([]int, len(g.nodes))
	for c, members := range comps {
		for _, v := range members {
			compOf[v] = c
		}
	}

	succ := make([]map[int]bool, len(comps))
	indeg := make([]int, len(comps))
	for v, ws := range g.edges {
		for _, w := range ws {
			cv, cw := compOf[v], compOf[w]
			if cv == cw {
				continue
			}
			if succ[cv] == nil {
				succ[cv] = make(map[int]bool)
			}
			if !succ[cv][cw] {
				succ[cv][cw] = true
				indeg[cw]++
			}
		}
	}

	ready := &compHeap{comps: comps}
	for c := range comps {
		if indeg[c] == 0 {
			heap.Push(ready, c)
		}
	}
	plan := &Plan{graph: g}
	for ready.Len() > 0 {
		c := heap.Pop(ready).(int)
		plan.Groups = append(plan.Groups, Group{Nodes: comps[c]})
		var next []int
		for w := range succ[c] {
			next = append(next, w)
		}
		sort.Ints(next)
		for _, w := range next {
			indeg[w]--
			if indeg[w] == 0 {
				heap.Push(ready, w)
			}
		}
	}
	return plan
}

// compHeap orders component ids by their smallest member.
type compHeap struct {
	comps [][]int
	ids   []int
}

func (h *compHeap) Len() int           { return len(h.ids) }
func (h *compHeap) Less(i, j int) bool { return h.comps[h.ids[i]][0] < h.comps[h.ids[j]][0] }
func (h *compHeap) Swap(i, j int)      { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }
func (h *compHeap) Push(x any)         { h.ids = append(h.ids, x.(int)) }
func (h *compHeap) Pop() any {
	old := h.ids
	x := old[len(old)-1]
	h.ids = old[:len(old)-1]
	return x
}
