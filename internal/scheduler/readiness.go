package scheduler

import (
	"fmt"
	"time"

	"github.com/taskgraph/meshsched/internal/events"
)

// setExecutable moves id into the executable set and into the per-worker
// executableOn index of every live, unforbidden worker whose locality score
// for id is positive, per spec.md §4.3.
// Callers must hold mu. It is a fatal configuration error for a task to
// become executable with no live worker permitted to run it.
func (s *Scheduler) setExecutable(id TaskID) {
	rec := s.records[id]
	rec.status = statusExecutable
	rec.blockedOn = nil
	s.executable.Insert(id)

	liveAndPermitted := 0
	for w := range s.workers {
		if !s.health.allowed(w) {
			continue
		}
		if s.forbidden[id][w] {
			continue
		}
		liveAndPermitted++
		if s.locality[w][id] > 0 {
			if on := s.executableOn[w]; on != nil {
				on.Insert(id)
			}
		}
		// A worker parked idle (no candidate task last time it checked) may
		// now have one: pull it back onto the ready FIFO with a fresh set
		// of slots, per spec.md §4.4.
		if s.slots.isIdle(w) {
			s.slots.clearIdle(w)
			s.slots.push(w, s.concurrency)
			for i := 0; i < s.concurrency; i++ {
				s.cond.Signal()
			}
		}
	}

	s.publish(events.TopicTask, events.TaskExecutableEvent{ID: string(id), Timestamp: time.Now()})

	if len(s.workers) > 0 && liveAndPermitted == 0 {
		s.abortLocked(fmt.Errorf("scheduler: task %q has no live worker permitted to run it", id))
	}
}

// scheduleDelayedExecutable re-adds id to the executable set after delay,
// implementing the generic-failure retry path. A zero delay re-adds
// synchronously; callers rely on this for deterministic tests.
func (s *Scheduler) scheduleDelayedExecutable(id TaskID, delay time.Duration) {
	if delay <= 0 {
		s.setExecutable(id)
		return
	}
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.aborted {
			return
		}
		rec, ok := s.records[id]
		if !ok || rec.status != statusBlocked {
			return
		}
		s.setExecutable(id)
		s.cond.Signal()
	})
}
