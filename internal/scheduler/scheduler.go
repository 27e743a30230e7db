// Package scheduler drives a fixed, pre-computed DAG of tasks to
// completion across a pool of remote workers, honoring per-task worker
// affinities and restrictions, bounded per-worker concurrency, bounded
// retry counts, and cascading dependency failures.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/taskgraph/meshsched/internal/events"
)

type status int

const (
	statusBlocked status = iota
	statusExecutable
	statusExecuting
	statusExecuted
	statusTerminallyFailed
)

func (s status) String() string {
	switch s {
	case statusBlocked:
		return "blocked"
	case statusExecutable:
		return "executable"
	case statusExecuting:
		return "executing"
	case statusExecuted:
		return "executed"
	case statusTerminallyFailed:
		return "terminally-failed"
	default:
		return "unknown"
	}
}

// record is the scheduler-owned status record for one task, per the design
// note that the five containers in spec.md §3 are better modeled as one
// enum field plus auxiliary indexes than as five independent sets.
type record struct {
	task      Task
	status    status
	blockedOn map[TaskID]struct{}
	failures  int
	backoff   interface{ NextBackOff() time.Duration }
}

// Config configures a Scheduler run.
type Config struct {
	Workers      []Worker
	Concurrency  int // per-worker dispatch slots; default 1
	Attempts     int // max executions per task before terminal failure; default 1
	RetryBackoff RetryBackoff
	Events       *events.EventBus // optional instrumentation sink
}

// Scheduler is the core driver described in spec.md. All mutable state is
// guarded by mu; cond signals worker-slot availability and abort to the
// single driver loop in Run.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	runID uuid.UUID

	records  map[TaskID]*record
	priority map[TaskID]int

	executable   *orderedTaskSet
	executableOn map[WorkerName]*orderedTaskSet
	executingSet map[TaskID]struct{}

	locality  map[WorkerName]map[TaskID]int
	forbidden map[TaskID]map[WorkerName]bool

	workers     map[WorkerName]Worker
	workerOrder []WorkerName
	slots       *slotPool
	health      *workerHealth

	concurrency  int
	attempts     int
	retryBackoff RetryBackoff

	done   DoneFunc
	events *events.EventBus

	aborted     bool
	terminalErr error
}

// New constructs a Scheduler over tasks. Tasks are registered in ascending
// priority order; empty task sets and duplicate ids are rejected, and the
// task graph is validated for cycles before classification.
func New(tasks []Task, done DoneFunc, cfg Config) (*Scheduler, error) {
	if len(tasks) == 0 {
		return nil, errors.New("scheduler: task set must not be empty")
	}

	sorted := make([]Task, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	if err := validateAcyclic(sorted); err != nil {
		return nil, err
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	s := &Scheduler{
		records:      make(map[TaskID]*record, len(sorted)),
		priority:     make(map[TaskID]int, len(sorted)),
		executableOn: make(map[WorkerName]*orderedTaskSet, len(cfg.Workers)),
		executingSet: make(map[TaskID]struct{}),
		locality:     make(map[WorkerName]map[TaskID]int, len(cfg.Workers)),
		forbidden:    make(map[TaskID]map[WorkerName]bool),
		workers:      make(map[WorkerName]Worker, len(cfg.Workers)),
		slots:        newSlotPool(),
		health:       newWorkerHealth(),
		concurrency:  concurrency,
		attempts:     attempts,
		retryBackoff: cfg.RetryBackoff,
		done:         done,
		events:       cfg.Events,
		runID:        uuid.New(),
	}
	s.cond = sync.NewCond(&s.mu)

	for _, t := range sorted {
		id := t.ID()
		if _, dup := s.records[id]; dup {
			return nil, fmt.Errorf("scheduler: duplicate task id %q", id)
		}
		s.records[id] = &record{task: t, status: statusBlocked}
		s.priority[id] = t.Priority()
	}
	s.executable = newOrderedTaskSet(s.executableLess)

	for _, w := range cfg.Workers {
		name := w.Name()
		if _, dup := s.workers[name]; dup {
			return nil, fmt.Errorf("scheduler: duplicate worker name %q", name)
		}
		s.workers[name] = w
		s.workerOrder = append(s.workerOrder, name)
		s.locality[name] = make(map[TaskID]int)
		s.executableOn[name] = newOrderedTaskSet(s.executableOnLess(name))
	}
	// Slots are seeded in the caller's worker order, not map iteration
	// order, so which worker gets first pick of an equally-eligible task is
	// deterministic and reproducible across runs.
	for _, name := range s.workerOrder {
		s.slots.push(name, s.concurrency)
	}

	return s, nil
}

func (s *Scheduler) executableLess(a, b TaskID) bool {
	if pa, pb := s.priority[a], s.priority[b]; pa != pb {
		return pa < pb
	}
	return a < b
}

func (s *Scheduler) executableOnLess(w WorkerName) func(a, b TaskID) bool {
	return func(a, b TaskID) bool {
		la, lb := s.locality[w][a], s.locality[w][b]
		if la != lb {
			return la > lb
		}
		if pa, pb := s.priority[a], s.priority[b]; pa != pb {
			return pa < pb
		}
		return a < b
	}
}

func (s *Scheduler) workerNameList() []WorkerName {
	names := make([]WorkerName, 0, len(s.workers))
	for w := range s.workers {
		names = append(names, w)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// classify runs the single construction-time pass described in spec.md
// §4.1: query locality for every task, then settle each task into
// executed, blocked, or executable.
func (s *Scheduler) classify() error {
	names := s.workerNameList()

	for id, rec := range s.records {
		for w, score := range rec.task.Locality(names) {
			switch {
			case score > 0:
				s.locality[w][id] = score
			case score < 0:
				if s.forbidden[id] == nil {
					s.forbidden[id] = make(map[WorkerName]bool)
				}
				s.forbidden[id][w] = true
			}
		}
	}

	executedCount := 0
	for id, rec := range s.records {
		if _, ok := rec.task.StoppedOn(); ok {
			rec.status = statusExecuted
			executedCount++
			s.emitDone(DoneEvent{Task: rec.task})
			continue
		}

		unresolved := make(map[TaskID]struct{})
		for _, dep := range rec.task.Dependencies() {
			drec, ok := s.records[dep]
			if !ok || drec.status != statusExecuted {
				unresolved[dep] = struct{}{}
			}
		}
		if len(unresolved) > 0 {
			rec.status = statusBlocked
			rec.blockedOn = unresolved
			continue
		}

		if len(s.workers) > 0 && len(s.forbidden[id]) >= len(s.workers) {
			return fmt.Errorf("scheduler: task %q is forbidden on every worker", id)
		}
		s.setExecutable(id)
	}

	if s.executable.Len() == 0 {
		if executedCount == 0 {
			return errors.New("scheduler: no executable entry points: task graph is entirely blocked")
		}
		return errors.New("scheduler: no executable entry points remain: every task is already executed")
	}

	if len(s.workers) > 0 {
		permittedAny := false
	outer:
		for id := range s.records {
			for w := range s.workers {
				if !s.forbidden[id][w] {
					permittedAny = true
					break outer
				}
			}
		}
		if !permittedAny {
			return errors.New("scheduler: every worker is forbidden by every task")
		}
	}

	log.Printf("scheduler: run %s classified %d task(s), %d executable, %d worker(s)",
		s.runID, len(s.records), s.executable.Len(), len(s.workers))
	return nil
}

// Run drives the scheduler to completion or abort. It blocks until the job
// finishes, returning nil on success, the recorded fatal error, or a
// generic "aborted" error. The same outcome is also delivered to DoneFunc
// as the terminal event, exactly once.
func (s *Scheduler) Run() error {
	s.mu.Lock()
	if err := s.classify(); err != nil {
		s.mu.Unlock()
		s.emitDone(DoneEvent{TerminalErr: err})
		return err
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		for s.slots.len() == 0 && !s.aborted {
			s.cond.Wait()
		}

		if s.aborted {
			s.mu.Unlock()
			s.cancelExecuting()
			s.mu.Lock()
			err := s.terminalErr
			s.mu.Unlock()
			if err == nil {
				err = errors.New("aborted")
			}
			s.emitDone(DoneEvent{TerminalErr: err})
			s.publish(events.TopicRun, events.RunFinishedEvent{Err: err, Timestamp: time.Now()})
			return err
		}

		w, _ := s.slots.pop()
		if !s.health.allowed(w) {
			s.mu.Unlock()
			continue
		}

		if s.executable.Len() == 0 && len(s.executingSet) == 0 {
			s.mu.Unlock()
			s.emitDone(DoneEvent{})
			s.publish(events.TopicRun, events.RunFinishedEvent{Timestamp: time.Now()})
			return nil
		}

		id, ok := s.selectTask(w)
		if !ok {
			s.slots.markIdle(w)
			s.mu.Unlock()
			continue
		}
		s.dispatch(id, w)
		s.mu.Unlock()
	}
}

// dispatch assumes mu is held. It moves id into executing and calls
// Execute; a synchronous dispatch error (other than cancellation) is
// driven through the same completion path a future callback would take.
func (s *Scheduler) dispatch(id TaskID, w WorkerName) {
	rec := s.records[id]
	s.executable.Remove(id)
	if on := s.executableOn[w]; on != nil {
		on.Remove(id)
	}
	rec.status = statusExecuting
	s.executingSet[id] = struct{}{}
	s.publish(events.TopicTask, events.TaskExecutingEvent{
		ID:        string(id),
		Worker:    string(w),
		Timestamp: time.Now(),
	})

	future, err := rec.task.Execute(w)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Cancellation during dispatch is absorbed silently: the task
			// stays in executing and completes via its own future.
			return
		}
		rec.task.MarkFailed(err)
		s.completeLocked(id, w)
		return
	}
	// A future that is already resolved runs its callback inside OnDone, on
	// this goroutine, while mu is still held; onTaskDone takes mu, so it is
	// always started on a goroutine of its own.
	future.OnDone(func() { go s.onTaskDone(id, w) })
}

// onTaskDone handles a task's completion. dispatch starts it on a fresh
// goroutine from the callback registered on the task's Future.
func (s *Scheduler) onTaskDone(id TaskID, w WorkerName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		// Late callback after abort: the driver loop has already exited
		// and reclaimed state around this run. Short-circuit.
		return
	}
	s.completeLocked(id, w)
}

// completeLocked implements spec.md §4.5. Callers must hold mu and must
// already know the run has not aborted.
func (s *Scheduler) completeLocked(id TaskID, w WorkerName) {
	defer func() {
		if r := recover(); r != nil {
			s.abortLocked(fmt.Errorf("scheduler: invariant violation completing %q: %v", id, r))
		}
	}()

	rec, ok := s.records[id]
	if !ok {
		s.slots.push(w, 1)
		s.cond.Signal()
		return
	}
	delete(s.executingSet, id)

	// emitDone fires once per execution attempt that reaches completeLocked,
	// success or failure, terminal or not: callers see a DoneEvent for every
	// failed attempt of a task as well as its eventual success, not just a
	// single event for the terminal outcome.
	failed := rec.task.Failed()
	s.emitDone(DoneEvent{Task: rec.task})

	if !failed {
		rec.status = statusExecuted
		rec.blockedOn = nil
		s.publish(events.TopicTask, events.TaskExecutedEvent{
			ID:        string(id),
			Worker:    string(w),
			Timestamp: time.Now(),
		})

		for _, depID := range rec.task.Dependents() {
			drec, ok := s.records[depID]
			if !ok || drec.blockedOn == nil {
				continue
			}
			delete(drec.blockedOn, id)
			// Only a genuinely blocked dependent can be promoted here. A
			// dependent left statusExecuting by cascadeFail's no-preemption
			// path keeps running to completion on its own; promoting it to
			// executable here would dispatch it a second time.
			if len(drec.blockedOn) == 0 && drec.status == statusBlocked {
				s.setExecutable(depID)
			}
		}
	} else {
		s.taskFailed(id)
	}

	if !s.aborted {
		s.slots.push(w, 1)
		s.cond.Signal()
	}
}

// cancelExecuting fans cancellation out to every task mid-flight, using
// errgroup the way the teacher's ParallelRunner fanned out task execution,
// so one slow Cancel doesn't delay the others.
func (s *Scheduler) cancelExecuting() {
	s.mu.Lock()
	tasks := make([]Task, 0, len(s.executingSet))
	for id := range s.executingSet {
		if rec, ok := s.records[id]; ok {
			tasks = append(tasks, rec.task)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			t.Cancel()
			return nil
		})
	}
	_ = g.Wait()
}

// Abort requests termination. If err is non-nil and no fatal cause is
// already recorded, it becomes the terminal error. Safe to call from any
// goroutine, any number of times.
func (s *Scheduler) Abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked(err)
}

func (s *Scheduler) abortLocked(err error) {
	if s.aborted {
		if err != nil && s.terminalErr == nil {
			s.terminalErr = err
		}
		return
	}
	s.aborted = true
	if err != nil {
		s.terminalErr = err
	}
	s.cond.Broadcast()
}

// markWorkerFailed assumes mu is held. It is idempotent: the first call
// trips the health breaker (which is what actually gates further dispatch
// to w, via health.allowed) and publishes WorkerFailedEvent; later calls
// for the same worker are no-ops.
func (s *Scheduler) markWorkerFailed(w WorkerName) {
	if !s.health.allowed(w) {
		return
	}
	s.health.markFailed(w)
	s.publish(events.TopicWorker, events.WorkerFailedEvent{Worker: string(w), Timestamp: time.Now()})
}

// allWorkersFailed assumes mu is held.
func (s *Scheduler) allWorkersFailed() bool {
	if len(s.workers) == 0 {
		return false
	}
	for w := range s.workers {
		if s.health.allowed(w) {
			return false
		}
	}
	return true
}

// hasOtherPermittedWorker reports whether some worker besides exclude is
// both live and not already forbidden for id. Assumes mu is held.
func (s *Scheduler) hasOtherPermittedWorker(id TaskID, exclude WorkerName) bool {
	for w := range s.workers {
		if w == exclude {
			continue
		}
		if !s.health.allowed(w) {
			continue
		}
		if s.forbidden[id][w] {
			continue
		}
		return true
	}
	return false
}

func (s *Scheduler) emitDone(ev DoneEvent) {
	if s.done == nil {
		return
	}
	s.done(ev)
}

func (s *Scheduler) publish(topic events.Topic, ev events.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(topic, ev)
}
