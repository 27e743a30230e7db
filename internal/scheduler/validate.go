package scheduler

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// validateAcyclic confirms the task set forms a DAG with no dangling
// dependency references, the same check the teacher runs with
// gammazero/toposort before accepting a task graph.
func validateAcyclic(tasks []Task) error {
	ids := make(map[TaskID]struct{}, len(tasks))
	for _, t := range tasks {
		ids[t.ID()] = struct{}{}
	}

	edges := make([]toposort.Edge, 0, len(tasks))
	for _, t := range tasks {
		deps := t.Dependencies()
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, string(t.ID())})
			continue
		}
		for _, dep := range deps {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("scheduler: task %q depends on unknown task %q", t.ID(), dep)
			}
			edges = append(edges, toposort.Edge{string(dep), string(t.ID())})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return fmt.Errorf("scheduler: task graph contains a cycle: %w", err)
	}

	count := 0
	for _, id := range sorted {
		if id != nil {
			count++
		}
	}
	if count != len(tasks) {
		return fmt.Errorf("scheduler: topological sort lost %d of %d task(s), likely a disconnected cycle", len(tasks)-count, len(tasks))
	}
	return nil
}
