package graph

import (
	"slices"
)

// dependencyGraph maps entry ID → IDs of the entries it depends on.
// Neighbor lists are kept sorted so every traversal is deterministic.
type dependencyGraph map[string][]string

// nodes returns all entry IDs in sorted order.
func (g dependencyGraph) nodes() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// findCycles returns every cycle in the graph as a closed path, e.g.
// ["A", "B", "C", "A"]. A DAG returns nil.
//
// The algorithm:
//  1. Tarjan's algorithm finds strongly connected components
//  2. Each SCC with more than one node, or a single node with a self-loop,
//     is a cycle
//  3. The cycle path starts at the smallest ID in the SCC and follows
//     sorted edges inside the SCC back to the start
func findCycles(g dependencyGraph) [][]string {
	var cycles [][]string
	for _, scc := range tarjanSCC(g) {
		if len(scc) > 1 || hasSelfLoop(scc[0], g) {
			cycles = append(cycles, reconstructCyclePath(scc, g))
		}
	}
	slices.SortFunc(cycles, func(a, b []string) int {
		return slices.Compare(a, b)
	})
	return cycles
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, g dependencyGraph) bool {
	return slices.Contains(g[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(g dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.nodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// reconstructCyclePath builds a closed cycle path through a sorted SCC.
//
// A depth-first search from the smallest member follows sorted edges inside
// the SCC, preferring to extend the path, and closes it on the first node
// with an edge back to the start. Every member is reachable from the start,
// so some node on the search closes the cycle.
func reconstructCyclePath(scc []string, g dependencyGraph) []string {
	if len(scc) == 1 {
		return []string{scc[0], scc[0]}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	seen := map[string]bool{start: true}
	var path []string

	var search func(node string) bool
	search = func(node string) bool {
		path = append(path, node)
		next := slices.Sorted(slices.Values(g[node]))
		for _, neighbor := range next {
			if members[neighbor] && !seen[neighbor] {
				seen[neighbor] = true
				if search(neighbor) {
					return true
				}
			}
		}
		if slices.Contains(next, start) {
			path = append(path, start)
			return true
		}
		path = path[:len(path)-1]
		return false
	}

	search(start)
	return path
}

// topoOrder returns entry IDs so that every entry comes after all of its
// dependencies. Ties are broken by ID. The graph must be acyclic.
func topoOrder(g dependencyGraph) []string {
	remaining := make(map[string]int, len(g))   // unmet dependency count
	dependents := make(map[string][]string, len(g))
	for _, id := range g.nodes() {
		remaining[id] = len(g[id])
		for _, dep := range g[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for _, id := range g.nodes() {
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range dependents[id] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				pos, _ := slices.BinarySearch(ready, dependent)
				ready = slices.Insert(ready, pos, dependent)
			}
		}
	}
	return order
}
