package librarian

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuromancer/neuromancer/ident"
)

func TestGraph(t *testing.T) {
	g := NewGraph()
	a, b, c := ident.New(), ident.New(), ident.New()

	assert.Equal(t, 0, g.AddVertex(a))
	assert.Equal(t, 0, g.AddVertex(a))
	assert.True(t, g.AddEdge(a, c))
	assert.True(t, g.AddEdge(a, b))
	assert.False(t, g.AddEdge(a, b))
	assert.Equal(t, 3, g.Len())

	children, ok := g.Children(a)
	require.True(t, ok)
	// Ordered by arena index: c was added before b.
	assert.Equal(t, []ident.ID{c, b}, children)

	children, ok = g.Children(b)
	require.True(t, ok)
	assert.Empty(t, children)

	_, ok = g.Children(ident.New())
	assert.False(t, ok)
	assert.True(t, g.Has(c))
}

func TestGraphRepair(t *testing.T) {
	g := NewGraph()
	a, b := ident.New(), ident.New()
	g.AddEdge(a, b)

	// Simulate an AddVertex that died before updating the children arena.
	x := ident.New()
	g.vertices = append(g.vertices, x)
	delete(g.index, a)
	g.children[0] = append(g.children[0], 7)

	g.Repair()
	assert.Equal(t, 3, g.Len())
	assert.True(t, g.Has(a))
	assert.True(t, g.Has(x))
	children, ok := g.Children(a)
	require.True(t, ok)
	assert.Equal(t, []ident.ID{b}, children)
	assert.True(t, g.AddEdge(x, a))
}
