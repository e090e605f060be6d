package planner

import (
	"github.com/agrimind/orchestrator/internal/orchestration"
)

// cycleCheck is the result of DAG validation over plan steps.
type cycleCheck struct {
	HasCycle    bool
	CyclePath   []string
	SortedOrder []string
}

// detectCycles checks plan step dependencies using Kahn's algorithm
// (topological sort). A cyclic plan would hang the execution engine.
func detectCycles(steps []orchestration.PlanStep) cycleCheck {
	if len(steps) == 0 {
		return cycleCheck{SortedOrder: []string{}}
	}

	inDegree := make(map[string]int, len(steps))
	graph := make(map[string][]string, len(steps)) // step -> steps that depend on it
	known := make(map[string]bool, len(steps))

	for _, st := range steps {
		known[st.ID] = true
		if _, ok := inDegree[st.ID]; !ok {
			inDegree[st.ID] = 0
		}
		if _, ok := graph[st.ID]; !ok {
			graph[st.ID] = []string{}
		}
	}

	// If A depends on B, add edge B -> A.
	for _, st := range steps {
		for _, dep := range st.DependsOn {
			if dep == st.ID || !known[dep] {
				// Self and unknown dependencies are reported by the
				// planner's reference checks, not as cycles.
				continue
			}
			graph[dep] = append(graph[dep], st.ID)
			inDegree[st.ID]++
		}
	}

	queue := []string{}
	// Seed in plan order so the sorted order is deterministic.
	for _, st := range steps {
		if inDegree[st.ID] == 0 {
			queue = append(queue, st.ID)
		}
	}

	sorted := []string{}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)

		for _, dependent := range graph[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) == len(known) {
		return cycleCheck{SortedOrder: sorted}
	}

	// Cycle detected: the unprocessed nodes are involved.
	var cycleNodes []string
	for _, st := range steps {
		if inDegree[st.ID] > 0 {
			cycleNodes = append(cycleNodes, st.ID)
		}
	}
	return cycleCheck{
		HasCycle:  true,
		CyclePath: findCyclePath(graph, cycleNodes),
	}
}

// findCyclePath walks the residual graph to name the actual cycle.
func findCyclePath(graph map[string][]string, cycleNodes []string) []string {
	if len(cycleNodes) == 0 {
		return nil
	}
	inCycle := make(map[string]bool, len(cycleNodes))
	for _, n := range cycleNodes {
		inCycle[n] = true
	}

	var visited map[string]bool
	var dfs func(node string, path []string) []string
	dfs = func(node string, path []string) []string {
		if visited[node] {
			for i, n := range path {
				if n == node {
					return append(path[i:], node)
				}
			}
			return nil
		}
		if !inCycle[node] {
			return nil
		}
		visited[node] = true
		path = append(path, node)
		for _, next := range graph[node] {
			if result := dfs(next, path); result != nil {
				return result
			}
		}
		return nil
	}

	for _, start := range cycleNodes {
		visited = make(map[string]bool)
		if result := dfs(start, nil); len(result) > 1 {
			return result
		}
	}
	return cycleNodes
}
