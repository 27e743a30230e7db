package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskgraph/meshsched/internal/events"
)

// taskFailed implements the §4.4 failure resolver. Callers must hold mu
// and must have already removed id from executingSet. The cause's
// concrete type selects the resolution path; an unrecognized type is
// treated as a generic failure subject to the retry budget.
//
// This is implemented with ordinary recursion rather than the explicit
// worklist the design notes suggest: a dependent's blockedOn bookkeeping
// must be set by an inner call before the outer call's own checks run,
// and mu is never reacquired by a nested call, so recursion preserves the
// exact ordering without needing a reentrant lock.
func (s *Scheduler) taskFailed(id TaskID) {
	rec := s.records[id]
	switch c := rec.task.Exception().(type) {
	case *DependenciesFailed:
		s.resolveDependenciesFailed(id, c)
	case *FailedDependency:
		s.resolveFailedDependency(id)
	case *NotConnected:
		s.resolveNotConnected(id, c)
	default:
		s.resolveGeneric(id, c)
	}
}

// resolveNotConnected handles transport loss to the worker a task was
// dispatched to: the worker is marked failed and the task rejoins
// executable immediately, without consuming a retry attempt.
func (s *Scheduler) resolveNotConnected(id TaskID, c *NotConnected) {
	s.markWorkerFailed(c.Worker)
	if s.allWorkersFailed() {
		s.abortLocked(fmt.Errorf("scheduler: every worker failed; last report: %w", c))
		return
	}
	s.setExecutable(id)
}

// resolveFailedDependency handles a task invalidated by an upstream
// cascade. The worker it last executed on is marked failed — the report
// that got it here means that worker's materialized result for this task
// can no longer be trusted — then its own downstream dependents (which may
// have already consumed its now-stale output) are cascaded before the
// task itself rejoins executable. Never consumes a retry attempt.
func (s *Scheduler) resolveFailedDependency(id TaskID) {
	rec := s.records[id]
	if w, ok := rec.task.ExecutedOnLast(); ok {
		s.markWorkerFailed(w)
		if s.allWorkersFailed() {
			s.abortLocked(fmt.Errorf("scheduler: every worker failed; last report: %s", rec.task.Exception()))
			return
		}
	}
	s.cascadeFail(id)
	s.setExecutable(id)
}

// resolveGeneric handles an ordinary task failure: it consumes one retry
// attempt, and either terminally fails the task (cascading to its
// dependents) or schedules it to rejoin executable after a backoff delay.
func (s *Scheduler) resolveGeneric(id TaskID, cause error) {
	rec := s.records[id]
	rec.failures++

	if rec.failures >= s.attempts {
		// completeLocked already emitted a DoneEvent for this failed
		// attempt; terminal status just stops it from being rescheduled.
		rec.status = statusTerminallyFailed
		s.publish(events.TopicTask, events.TaskFailedEvent{ID: string(id), Err: cause, Timestamp: time.Now()})
		s.cascadeFail(id)
		return
	}

	// Spread retries across different workers: the worker that just failed
	// the task is forbidden from receiving it again, mirroring the
	// original scheduler's forbidden_on bookkeeping on generic retry. Only
	// applied when another live, unforbidden worker remains — forbidding
	// the sole remaining option would strand the task rather than spread
	// its retries, which spec.md §8's single-worker retry-then-succeed
	// scenario explicitly exercises.
	if w, ok := rec.task.ExecutedOnLast(); ok && s.hasOtherPermittedWorker(id, w) {
		if s.forbidden[id] == nil {
			s.forbidden[id] = make(map[WorkerName]bool)
		}
		s.forbidden[id][w] = true
		if on := s.executableOn[w]; on != nil {
			on.Remove(id)
		}
	}

	if rec.backoff == nil {
		rec.backoff = s.retryBackoff.newPolicy()
	}
	delay := rec.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = 0
	}
	s.publish(events.TopicTask, events.TaskRetryEvent{
		ID:        string(id),
		Attempt:   rec.failures,
		Delay:     delay,
		Timestamp: time.Now(),
	})
	rec.status = statusBlocked
	s.scheduleDelayedExecutable(id, delay)
}

// resolveDependenciesFailed handles a task reporting that specific
// dependencies, as observed on particular workers, are stale and must be
// re-executed. The reporter itself did not fail on its own account, so it
// never consumes a retry attempt: each reported dependency that actually
// gets invalidated is routed back through the resolver as a
// FailedDependency, whose own cascade (cascadeFail, via resolveFailedDependency)
// is what blocks the reporter on it — the same mechanism that blocks any
// other dependent of an invalidated task. If nothing was actually
// invalidated (every report was stale or pointed at a dependency that
// hadn't executed yet), the reporter has nothing left to wait on and
// simply rejoins executable, mirroring the original scheduler's
// _transient_failure: "if not task.blocked, mark executable".
//
// Per spec.md §4.6.1, an unattributed report (worker key "") cascade-fails
// the dependency unconditionally; an attributed report only applies if the
// reported worker still matches the dependency's last executor — a report
// naming a worker the dependency has since moved on from is stale and is
// logged and ignored rather than cascaded. A depID unknown to the scheduler
// aborts the run outright.
func (s *Scheduler) resolveDependenciesFailed(reporterID TaskID, c *DependenciesFailed) {
	for w, ids := range c.Failures {
		for _, depID := range ids {
			drec, ok := s.records[depID]
			if !ok {
				s.abortLocked(fmt.Errorf("scheduler: task %q reported failure of unknown dependency %q", reporterID, depID))
				return
			}
			if drec.status != statusExecuted {
				continue
			}
			if w != "" {
				actual, ok := drec.task.ExecutedOnLast()
				if !ok || actual != w {
					log.Printf("scheduler: ignoring stale dependencies-failed report for %q on worker %q (last executed on %q)", depID, w, actual)
					continue
				}
			}
			drec.task.MarkFailed(&FailedDependency{
				Cause: fmt.Sprintf("dependency %q invalidated by report from %q", depID, reporterID),
			})
			s.taskFailed(depID)
		}
	}

	rec := s.records[reporterID]
	if len(rec.blockedOn) > 0 {
		rec.status = statusBlocked
		return
	}
	s.setExecutable(reporterID)
}

// cascadeFail propagates the failure or invalidation of depID to its
// dependents. A dependent already executed has consumed depID's now-bad
// output and must itself be invalidated and re-run; a dependent not yet
// started is simply re-blocked on depID; a dependent already mid-flight
// is left running, per the no-preemption design (its stale result is a
// known, accepted limitation rather than a correctness gap spec.md
// requires closing).
func (s *Scheduler) cascadeFail(depID TaskID) {
	rec, ok := s.records[depID]
	if !ok {
		return
	}
	for _, childID := range rec.task.Dependents() {
		child, ok := s.records[childID]
		if !ok {
			continue
		}
		switch child.status {
		case statusTerminallyFailed:
			continue
		case statusExecuted:
			child.task.MarkFailed(&FailedDependency{
				Cause: fmt.Sprintf("dependency %q failed", depID),
			})
			s.taskFailed(childID)
		case statusExecutable:
			s.blockDependentOn(childID, depID)
		case statusBlocked, statusExecuting:
			if child.blockedOn == nil {
				child.blockedOn = make(map[TaskID]struct{})
			}
			child.blockedOn[depID] = struct{}{}
		}
	}
}

// blockDependentOn demotes a currently-executable dependent back to
// blocked because one of its dependencies, depID, has been invalidated.
// It only removes the dependent from the global executable set: per-worker
// executableOn entries are left for selectTask's existing stale-entry
// cleanup, since scrubbing every worker's index here would duplicate that
// logic for no benefit.
func (s *Scheduler) blockDependentOn(childID, depID TaskID) {
	child := s.records[childID]
	s.executable.Remove(childID)
	child.status = statusBlocked
	if child.blockedOn == nil {
		child.blockedOn = make(map[TaskID]struct{})
	}
	child.blockedOn[depID] = struct{}{}
}
