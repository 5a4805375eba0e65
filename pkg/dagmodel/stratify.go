package dagmodel

import "fmt"

// Layer is a maximal set of tasks whose dependencies are all satisfied by
// lower layers, in input-declaration order (spec.md §3, §8 property 1).
type Layer []Task

// Stratify partitions the DAG into layers using Kahn's algorithm. Ties
// within a layer preserve the order tasks appear in d.Tasks, giving
// deterministic, input-order-stable layers (spec.md §4.8 "Stratification").
//
// Returns ErrInvalidDAG if a cycle remains after all resolvable tasks have
// been peeled off, or if Validate rejects the DAG outright.
func Stratify(d *DAG) ([]Layer, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(d.Tasks))
	dependents := make(map[string][]string, len(d.Tasks))
	byID := make(map[string]Task, len(d.Tasks))

	for _, t := range d.Tasks {
		byID[t.ID] = t
		indegree[t.ID] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	remaining := len(d.Tasks)
	var layers []Layer

	// ready holds ids whose indegree is currently zero, re-derived each
	// round in original declaration order to keep layers deterministic.
	for remaining > 0 {
		var ready []string
		for _, t := range d.Tasks {
			if _, done := indegreeConsumed(indegree, t.ID); done {
				continue
			}
			if indegree[t.ID] == 0 {
				ready = append(ready, t.ID)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("%w: cycle detected among remaining tasks", ErrInvalidDAG)
		}

		layer := make(Layer, 0, len(ready))
		for _, id := range ready {
			layer = append(layer, byID[id])
			indegree[id] = -1 // mark consumed
			remaining--
		}
		for _, id := range ready {
			for _, dependent := range dependents[id] {
				if indegree[dependent] > 0 {
					indegree[dependent]--
				}
			}
		}
		layers = append(layers, layer)
	}

	return layers, nil
}

// indegreeConsumed reports whether a task has already been placed into a
// layer (indegree was set to -1 as a consumed marker).
func indegreeConsumed(indegree map[string]int, id string) (int, bool) {
	v := indegree[id]
	return v, v < 0
}
