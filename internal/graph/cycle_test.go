package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindCycles_DAG(t *testing.T) {
	g := dependencyGraph{
		"a": {"b", "c"},
		"b": {"c"},
		"c": nil,
	}
	assert.Empty(t, findCycles(g))
}

func TestFindCycles_ThreeNodeCycle(t *testing.T) {
	g := dependencyGraph{
		"A": {"B"},
		"B": {"C"},
		"C": {"A"},
	}
	cycles := findCycles(g)
	assert.Equal(t, [][]string{{"A", "B", "C", "A"}}, cycles)
}

func TestFindCycles_SelfLoop(t *testing.T) {
	g := dependencyGraph{
		"A": {"A"},
		"B": nil,
	}
	assert.Equal(t, [][]string{{"A", "A"}}, findCycles(g))
}

func TestFindCycles_NamingIsIndependentOfInsertionOrder(t *testing.T) {
	g := dependencyGraph{
		"C": {"A"},
		"A": {"B"},
		"B": {"C"},
	}
	for range 10 {
		assert.Equal(t, [][]string{{"A", "B", "C", "A"}}, findCycles(g))
	}
}

func TestFindCycles_MultipleCycles(t *testing.T) {
	g := dependencyGraph{
		"a": {"b"},
		"b": {"a"},
		"x": {"y"},
		"y": {"x"},
		"z": {"a"},
	}
	assert.Equal(t, [][]string{{"a", "b", "a"}, {"x", "y", "x"}}, findCycles(g))
}

func TestFindCycles_DeadEndInsideComponent(t *testing.T) {
	// B → C → B is a detour; the only way back to A runs through D.
	g := dependencyGraph{
		"A": {"B"},
		"B": {"C", "D"},
		"C": {"B"},
		"D": {"A"},
	}
	cycles := findCycles(g)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"A", "B", "D", "A"}, cycles[0])
	assertClosedCycle(t, g, cycles[0])
}

func TestFindCycles_AlwaysClosed(t *testing.T) {
	g := dependencyGraph{
		"a": {"b", "e"},
		"b": {"c"},
		"c": {"b", "d"},
		"d": {"c", "e"},
		"e": {"a", "d"},
	}
	for _, cycle := range findCycles(g) {
		assertClosedCycle(t, g, cycle)
	}
}

// assertClosedCycle checks that cycle starts and ends on the same node and
// follows an edge at every step.
func assertClosedCycle(t *testing.T, g dependencyGraph, cycle []string) {
	t.Helper()
	require.GreaterOrEqual(t, len(cycle), 2)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1], "cycle %v is not closed", cycle)
	for i := 0; i+1 < len(cycle); i++ {
		assert.Contains(t, g[cycle[i]], cycle[i+1], "cycle %v: no edge %s → %s", cycle, cycle[i], cycle[i+1])
	}
}

func TestTopoOrder(t *testing.T) {
	g := dependencyGraph{
		"quad":   {"double"},
		"double": nil,
		"alpha":  nil,
		"mix":    {"alpha", "quad"},
	}
	assert.Equal(t, []string{"alpha", "double", "quad", "mix"}, topoOrder(g))
}
