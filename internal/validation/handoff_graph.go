// Package validation checks static agent configuration at startup.
package validation

import (
	"fmt"
	"sort"
	"strings"
)

// HandoffNode is the minimal information needed to validate the handoff graph.
type HandoffNode struct {
	Name     string
	Handoffs []string
}

// GraphResult contains the result of handoff graph analysis
type GraphResult struct {
	// UnknownTargets maps an agent to handoff targets that are not registered.
	UnknownTargets map[string][]string
	// DeadEnds lists agents with no handoff path back to the default agent.
	DeadEnds []string
	// Unreachable lists agents the default agent can never hand off to. It is
	// informational; such agents can still be selected explicitly.
	Unreachable  []string
	ErrorMessage string
}

func (r GraphResult) Valid() bool {
	return len(r.UnknownTargets) == 0 && len(r.DeadEnds) == 0
}

// AnalyzeHandoffGraph checks that every handoff target exists and that every
// agent can reach the default agent by following handoff edges.
//
// Reachability runs a BFS from the default agent over reversed edges: an agent
// that the walk never visits has no path back.
func AnalyzeHandoffGraph(nodes []HandoffNode, defaultAgent string) GraphResult {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.Name] = true
	}

	result := GraphResult{UnknownTargets: map[string][]string{}}
	reverse := make(map[string][]string) // target -> agents that hand off to it
	forward := make(map[string][]string)
	for _, n := range nodes {
		for _, target := range n.Handoffs {
			if !known[target] {
				result.UnknownTargets[n.Name] = append(result.UnknownTargets[n.Name], target)
				continue
			}
			reverse[target] = append(reverse[target], n.Name)
			forward[n.Name] = append(forward[n.Name], target)
		}
	}

	if !known[defaultAgent] {
		result.ErrorMessage = fmt.Sprintf("default agent %q is not registered", defaultAgent)
		for _, n := range nodes {
			result.DeadEnds = append(result.DeadEnds, n.Name)
		}
		sort.Strings(result.DeadEnds)
		return result
	}

	canReturn := walk(defaultAgent, reverse)
	reachable := walk(defaultAgent, forward)
	for _, n := range nodes {
		if !canReturn[n.Name] {
			result.DeadEnds = append(result.DeadEnds, n.Name)
		}
		if !reachable[n.Name] {
			result.Unreachable = append(result.Unreachable, n.Name)
		}
	}
	sort.Strings(result.DeadEnds)
	sort.Strings(result.Unreachable)

	var problems []string
	if len(result.UnknownTargets) > 0 {
		agents := make([]string, 0, len(result.UnknownTargets))
		for a := range result.UnknownTargets {
			agents = append(agents, a)
		}
		sort.Strings(agents)
		for _, a := range agents {
			problems = append(problems, fmt.Sprintf("%s hands off to unknown %s", a, strings.Join(result.UnknownTargets[a], ", ")))
		}
	}
	if len(result.DeadEnds) > 0 {
		problems = append(problems, fmt.Sprintf("no path back to %s from: %s", defaultAgent, strings.Join(result.DeadEnds, ", ")))
	}
	result.ErrorMessage = strings.Join(problems, "; ")
	return result
}

func walk(start string, edges map[string][]string) map[string]bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range edges[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// ValidateHandoffGraph is a convenience function that returns an error if the
// graph has unknown targets or dead ends.
func ValidateHandoffGraph(nodes []HandoffNode, defaultAgent string) error {
	result := AnalyzeHandoffGraph(nodes, defaultAgent)
	if !result.Valid() {
		return fmt.Errorf("invalid handoff graph: %s", result.ErrorMessage)
	}
	return nil
}
