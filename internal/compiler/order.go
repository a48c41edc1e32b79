package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/navq/internal/ir"
)

// CycleError reports foreign keys that form a loop of required
// relationships. Rows of such tables cannot be inserted in any order.
type CycleError struct {
	Path []string `json:"path"` // ["Gears", "Squads", "Gears"]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("required foreign keys form a cycle: %s", strings.Join(e.Path, " → "))
}

// DependencyOrder returns the model's tables ordered so that every table
// comes after the tables its required foreign keys point at. Seeding rows in
// this order never violates a required relationship.
//
// Optional relationships (any nullable foreign key column) do not create
// edges, so cycles through optional keys (Weapon.SynergyWith, a
// LocustHorde/LocustLeader pair) are fine. A cycle made only of required
// keys is reported as a CycleError.
//
// Ties are broken by table name so the order is deterministic.
func DependencyOrder(spec *ir.ModelSpec) ([]string, error) {
	graph := buildTableGraph(spec)

	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			return nil, &CycleError{Path: reconstructCyclePath(scc, graph)}
		}
	}

	// Kahn's algorithm over table → tables it depends on.
	indegree := make(map[string]int, len(graph))
	dependents := make(map[string][]string)
	for table, deps := range graph {
		if _, ok := indegree[table]; !ok {
			indegree[table] = 0
		}
		for _, dep := range deps {
			indegree[table]++
			dependents[dep] = append(dependents[dep], table)
		}
	}

	var ready []string
	for table, n := range indegree {
		if n == 0 {
			ready = append(ready, table)
		}
	}

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		slices.Sort(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order, nil
}

// tableGraph maps table → tables it requires rows in.
type tableGraph map[string][]string

func buildTableGraph(spec *ir.ModelSpec) tableGraph {
	byName := make(map[string]ir.EntitySpec, len(spec.Entities))
	for _, e := range spec.Entities {
		byName[e.Name] = e
	}

	rootOf := func(name string) ir.EntitySpec {
		cur := byName[name]
		for cur.Base != "" {
			base, ok := byName[cur.Base]
			if !ok {
				break
			}
			cur = base
		}
		return cur
	}

	// Every property of a hierarchy lives on the root table; properties of
	// derived types are nullable columns there.
	propertyOf := func(entity, prop string) (ir.PropertySpec, bool, bool) {
		root := rootOf(entity).Name
		for _, e := range spec.Entities {
			if rootOf(e.Name).Name != root {
				continue
			}
			if p, ok := e.Property(prop); ok {
				return p, e.Base != "", true
			}
		}
		return ir.PropertySpec{}, false, false
	}

	graph := make(tableGraph)
	for _, e := range spec.Entities {
		table := rootOf(e.Name).Table
		if _, ok := graph[table]; !ok {
			graph[table] = []string{}
		}
	}

	for _, e := range spec.Entities {
		for _, nav := range e.Navigations {
			if _, ok := byName[nav.Target]; !ok {
				continue
			}
			dependent, principal := e.Name, nav.Target
			if nav.DependentSide() == ir.DependentTarget {
				dependent, principal = nav.Target, e.Name
			}

			required := true
			for _, fk := range nav.ForeignKey {
				p, onDerived, ok := propertyOf(dependent, fk)
				if !ok || p.Nullable || onDerived {
					required = false
					break
				}
			}
			if !required {
				continue
			}

			from := rootOf(dependent).Table
			to := rootOf(principal).Table
			if !slices.Contains(graph[from], to) {
				graph[from] = append(graph[from], to)
			}
		}
	}

	for table := range graph {
		slices.Sort(graph[table])
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph tableGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are deterministic.
func tarjanSCC(graph tableGraph) [][]string {
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

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

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
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// reconstructCyclePath follows edges inside an SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph tableGraph) []string {
	if len(scc) == 1 {
		return []string{scc[0], scc[0]}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
