package scheduler

import (
	"context"
	"sync"
)

// MemoryFuture is a trivial in-process Future backed by a done flag and a
// list of pending callbacks. It
// is what MemoryTask.Execute returns, and is also useful directly in
// tests that want to control completion timing by hand.
type MemoryFuture struct {
	mu   sync.Mutex
	done bool
	cbs  []func()
}

// NewMemoryFuture returns an unresolved future.
func NewMemoryFuture() *MemoryFuture {
	return &MemoryFuture{}
}

// OnDone registers cb to run once Resolve is called. If the future is
// already resolved, cb runs immediately on the calling goroutine.
func (f *MemoryFuture) OnDone(cb func()) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		cb()
		return
	}
	f.cbs = append(f.cbs, cb)
	f.mu.Unlock()
}

// Resolve marks the future done and fires every registered callback.
// Calling Resolve more than once is a no-op after the first call.
func (f *MemoryFuture) Resolve() {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	cbs := f.cbs
	f.cbs = nil
	f.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// WorkFunc is the body a MemoryTask runs when dispatched to a worker. A
// non-nil returned error marks the task failed with that error as its
// Exception; context cancellation should be honored via ctx.
type WorkFunc func(ctx context.Context, w WorkerName) error

// MemoryTask is an in-process Task implementation driven by a plain
// function, used by the scheduler's own tests and by the demo command in
// place of a real remote worker protocol.
type MemoryTask struct {
	mu sync.Mutex

	id           TaskID
	priority     int
	dependencies []TaskID
	dependents   []TaskID
	locality     map[WorkerName]int
	work         WorkFunc

	cancel context.CancelFunc

	stoppedOn      WorkerName
	hasStoppedOn   bool
	executedOn     []WorkerName
	failed         bool
	exception      error
}

// NewMemoryTask constructs a task with the given id, priority, and
// dependency edges. locality maps worker names to affinity scores;
// omitted workers score 0. Dependents are wired after construction via
// LinkDependents, mirroring how a DAG builder would assemble a batch.
func NewMemoryTask(id TaskID, priority int, dependencies []TaskID, locality map[WorkerName]int, work WorkFunc) *MemoryTask {
	return &MemoryTask{
		id:           id,
		priority:     priority,
		dependencies: dependencies,
		locality:     locality,
		work:         work,
	}
}

// LinkDependents wires the reverse edges for a batch of tasks built with
// NewMemoryTask, deriving Dependents() from each task's Dependencies().
func LinkDependents(tasks []*MemoryTask) {
	byID := make(map[TaskID]*MemoryTask, len(tasks))
	for _, t := range tasks {
		byID[t.id] = t
	}
	for _, t := range tasks {
		for _, dep := range t.dependencies {
			if d, ok := byID[dep]; ok {
				d.dependents = append(d.dependents, t.id)
			}
		}
	}
}

func (t *MemoryTask) ID() TaskID             { return t.id }
func (t *MemoryTask) Priority() int          { return t.priority }
func (t *MemoryTask) Dependencies() []TaskID { return t.dependencies }
func (t *MemoryTask) Dependents() []TaskID   { return t.dependents }

func (t *MemoryTask) StoppedOn() (WorkerName, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stoppedOn, t.hasStoppedOn
}

func (t *MemoryTask) ExecutedOnLast() (WorkerName, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.executedOn) == 0 {
		return "", false
	}
	return t.executedOn[len(t.executedOn)-1], true
}

func (t *MemoryTask) ExecutedOn() []WorkerName {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WorkerName, len(t.executedOn))
	copy(out, t.executedOn)
	return out
}

func (t *MemoryTask) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

func (t *MemoryTask) Exception() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exception
}

// MarkFailed records err as this task's terminal state for the current
// attempt, overwriting any previous exception.
func (t *MemoryTask) MarkFailed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
	t.exception = err
}

// Cancel aborts an in-flight Execute, if any.
func (t *MemoryTask) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Execute runs work on a fresh goroutine and returns a future that
// resolves when it returns. A nil WorkFunc resolves immediately as a
// successful no-op, letting tests build pure dependency-shape fixtures
// without a real body.
func (t *MemoryTask) Execute(w WorkerName) (Future, error) {
	fut := NewMemoryFuture()

	if t.work == nil {
		t.mu.Lock()
		t.failed = false
		t.exception = nil
		t.executedOn = append(t.executedOn, w)
		t.mu.Unlock()
		fut.Resolve()
		return fut, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	// Recorded at dispatch, on every attempt whatever its outcome:
	// ExecutedOnLast per task.go's contract reports "the worker of the most
	// recent execution attempt", which the resolver relies on to know which
	// worker a just-failed attempt ran on (resolveGeneric's
	// forbidden-on-retry, resolveFailedDependency's worker-failure marking).
	t.executedOn = append(t.executedOn, w)
	t.mu.Unlock()

	go func() {
		err := t.work(ctx, w)
		t.mu.Lock()
		t.cancel = nil
		if err != nil {
			t.failed = true
			t.exception = err
		} else {
			t.failed = false
			t.exception = nil
		}
		t.mu.Unlock()
		fut.Resolve()
	}()

	return fut, nil
}

// Locality reports this task's configured affinity for each worker in
// workers, defaulting to 0 for any worker not present in the map passed
// to NewMemoryTask.
func (t *MemoryTask) Locality(workers []WorkerName) map[WorkerName]int {
	out := make(map[WorkerName]int, len(workers))
	for _, w := range workers {
		out[w] = t.locality[w]
	}
	return out
}

// MemoryWorker is a named Worker handle with no behavior of its own; the
// scheduler only needs its name.
type MemoryWorker struct {
	name WorkerName
}

// NewMemoryWorker returns a Worker identified by name.
func NewMemoryWorker(name WorkerName) *MemoryWorker { return &MemoryWorker{name: name} }

func (w *MemoryWorker) Name() WorkerName { return w.name }
