package librarian

import (
	"sort"

	"github.com/neuromancer/neuromancer/ident"
)

// Graph is a directed graph of job identifiers. Vertices live in an arena and
// edges are held as lists of arena indexes.
type Graph struct {
	index    map[ident.ID]int
	vertices []ident.ID
	children [][]int
}

func NewGraph() *Graph {
	return &Graph{index: make(map[ident.ID]int)}
}

// AddVertex adds id and returns its arena index. Adding an existing vertex
// returns the existing index.
func (g *Graph) AddVertex(id ident.ID) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	i := len(g.vertices)
	g.index[id] = i
	g.vertices = append(g.vertices, id)
	g.children = append(g.children, nil)
	return i
}

// AddEdge adds an edge from parent to child, adding either vertex if it is
// missing. It returns false if the edge already existed.
func (g *Graph) AddEdge(parent, child ident.ID) bool {
	p := g.AddVertex(parent)
	c := g.AddVertex(child)

	cs := g.children[p]
	i := sort.SearchInts(cs, c)
	if i < len(cs) && cs[i] == c {
		return false
	}
	cs = append(cs, 0)
	copy(cs[i+1:], cs[i:])
	cs[i] = c
	g.children[p] = cs
	return true
}

// Children returns the children of id in the order their vertices were added.
func (g *Graph) Children(id ident.ID) ([]ident.ID, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	ret := make([]ident.ID, 0, len(g.children[i]))
	for _, c := range g.children[i] {
		ret = append(ret, g.vertices[c])
	}
	return ret, true
}

func (g *Graph) Has(id ident.ID) bool {
	_, ok := g.index[id]
	return ok
}

// Len returns the number of vertices.
func (g *Graph) Len() int {
	return len(g.vertices)
}

// Repair rebuilds the index from the arena and drops dangling edges.
func (g *Graph) Repair() {
	n := len(g.vertices)
	if len(g.children) > n {
		g.children = g.children[:n]
	}
	for len(g.children) < n {
		g.children = append(g.children, nil)
	}

	g.index = make(map[ident.ID]int, n)
	for i, id := range g.vertices {
		g.index[id] = i
	}
	for p, cs := range g.children {
		kept := cs[:0]
		for _, c := range cs {
			if c < n {
				kept = append(kept, c)
			}
		}
		sort.Ints(kept)
		g.children[p] = kept
	}
}
