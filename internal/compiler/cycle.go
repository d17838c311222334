package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// CycleWarning represents a potential feedback loop between listeners.
//
// Cycles are warnings, not errors, because they may settle: a listener only
// re-fires when the field it writes actually changes. Loops that never settle
// fail at runtime with DEPTH_EXCEEDED.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["count", "total", "count"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles finds listeners that can trigger each other.
//
// The algorithm:
//  1. Build a listener -> listener graph: a listener that writes field F
//     reaches every listener subscribed to F or field:F
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// Commit listeners never get edges: listener writes are flushed without a
// commit notification.
func AnalyzeCycles(spec *StoreSpec) []CycleWarning {
	if spec == nil || len(spec.Listeners) == 0 {
		return []CycleWarning{}
	}

	graph := buildListenerGraph(spec)
	sccs := tarjanSCC(graph)

	var warnings []CycleWarning
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	if warnings == nil {
		warnings = []CycleWarning{}
	}
	return warnings
}

// listenerGraph maps topic -> topics of listeners its write can trigger.
type listenerGraph map[string][]string

func buildListenerGraph(spec *StoreSpec) listenerGraph {
	graph := make(listenerGraph)

	// field -> listeners watching it
	watchers := make(map[string][]string)
	for _, topic := range sortedKeys(spec.Listeners) {
		if field, ok := watchedField(topic, spec); ok {
			watchers[field] = append(watchers[field], topic)
		}
	}

	for _, topic := range sortedKeys(spec.Listeners) {
		// Initialize with empty slice so the node exists in the graph
		graph[topic] = append([]string{}, watchers[spec.Listeners[topic].Set]...)
	}
	return graph
}

// watchedField reports the field whose changes fire the listener on topic.
func watchedField(topic string, spec *StoreSpec) (string, bool) {
	if name, ok := strings.CutPrefix(topic, "field:"); ok {
		return name, true
	}
	if _, ok := spec.Field(topic); ok {
		return topic, true
	}
	return "", false
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph listenerGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are deterministic.
func tarjanSCC(graph listenerGraph) [][]string {
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
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range sortedKeys(graph) {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, graph listenerGraph) CycleWarning {
	if len(scc) == 1 {
		topic := scc[0]
		return CycleWarning{
			Path:    []string{topic, topic},
			Message: fmt.Sprintf("Self-triggering listener detected: %s -> %s", topic, topic),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential listener cycle detected: %s", strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph listenerGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
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
