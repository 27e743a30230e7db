package scheduler

// selectTask implements the assignment engine of spec.md §4.3: prefer a
// task with positive locality for w, falling back to the globally
// highest-priority executable task with no restriction against w. Stale
// entries left behind in executableOn by a task that became blocked again
// or was claimed by another worker are skipped and lazily dropped here
// rather than eagerly cleaned up elsewhere.
func (s *Scheduler) selectTask(w WorkerName) (TaskID, bool) {
	if on := s.executableOn[w]; on != nil {
		var picked TaskID
		found := false
		var stale []TaskID
		on.Each(func(id TaskID) bool {
			rec, ok := s.records[id]
			if !ok || rec.status != statusExecutable {
				stale = append(stale, id)
				return true
			}
			picked = id
			found = true
			return false
		})
		for _, id := range stale {
			on.Remove(id)
		}
		if found {
			return picked, true
		}
	}

	var picked TaskID
	found := false
	var stale []TaskID
	s.executable.Each(func(id TaskID) bool {
		rec, ok := s.records[id]
		if !ok || rec.status != statusExecutable {
			stale = append(stale, id)
			return true
		}
		if s.forbidden[id][w] {
			return true
		}
		picked = id
		found = true
		return false
	})
	for _, id := range stale {
		s.executable.Remove(id)
	}
	if found {
		return picked, true
	}
	return "", false
}
