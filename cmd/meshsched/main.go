package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/taskgraph/meshsched/internal/config"
	"github.com/taskgraph/meshsched/internal/events"
	"github.com/taskgraph/meshsched/internal/scheduler"
	"github.com/taskgraph/meshsched/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewEventBus()
	defer bus.Close()

	workers := workersFromConfig(cfg)
	tasks := buildDemoGraph(workers)

	sched, err := scheduler.New(toTasks(tasks), nil, scheduler.Config{
		Workers:      toWorkers(workers),
		Concurrency:  cfg.Concurrency,
		Attempts:     cfg.Attempts,
		RetryBackoff: retryBackoffFromConfig(cfg.RetryBackoff),
		Events:       bus,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building scheduler: %v\n", err)
		os.Exit(1)
	}

	model := tui.New(bus)
	p := tea.NewProgram(model, tea.WithAltScreen())

	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run() }()

	uiErr := make(chan error, 1)
	go func() {
		_, err := p.Run()
		uiErr <- err
	}()

	select {
	case err := <-uiErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case err := <-runErr:
		if err != nil {
			log.Printf("run finished with error: %v", err)
		}
	case <-ctx.Done():
		stop()
		log.Println("shutdown signal received, aborting run")
		sched.Abort(ctx.Err())
		p.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case <-uiErr:
		case <-shutdownCtx.Done():
			log.Println("shutdown timeout exceeded, forcing exit")
		}
	}

	log.Println("shutdown complete")
}

func workersFromConfig(cfg *config.SchedulerConfig) []string {
	names := make([]string, 0, len(cfg.Workers))
	for name := range cfg.Workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toWorkers(names []string) []scheduler.Worker {
	out := make([]scheduler.Worker, 0, len(names))
	for _, n := range names {
		out = append(out, scheduler.NewMemoryWorker(scheduler.WorkerName(n)))
	}
	return out
}

func toTasks(tasks []*scheduler.MemoryTask) []scheduler.Task {
	out := make([]scheduler.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t
	}
	return out
}

func retryBackoffFromConfig(c config.RetryBackoffConfig) scheduler.RetryBackoff {
	initial, _ := time.ParseDuration(c.InitialInterval)
	max, _ := time.ParseDuration(c.MaxInterval)
	return scheduler.RetryBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      c.Multiplier,
	}
}

// buildDemoGraph fabricates a small fan-out/fan-in task graph with
// simulated work, so the dashboard has something to show with no
// arguments. A real caller would build its own Task implementations and
// call scheduler.New directly instead of going through this command.
func buildDemoGraph(workers []string) []*scheduler.MemoryTask {
	simulate := func(name string) scheduler.WorkFunc {
		return func(ctx context.Context, w scheduler.WorkerName) error {
			select {
			case <-time.After(time.Duration(200+rand.Intn(400)) * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	fetch := scheduler.NewMemoryTask("fetch", 0, nil, nil, simulate("fetch"))
	build := scheduler.NewMemoryTask("build", 0, []scheduler.TaskID{"fetch"}, nil, simulate("build"))
	lint := scheduler.NewMemoryTask("lint", 1, []scheduler.TaskID{"fetch"}, nil, simulate("lint"))
	test := scheduler.NewMemoryTask("test", 0, []scheduler.TaskID{"build"}, nil, simulate("test"))
	publish := scheduler.NewMemoryTask("publish", 0, []scheduler.TaskID{"test", "lint"}, nil, simulate("publish"))

	all := []*scheduler.MemoryTask{fetch, build, lint, test, publish}
	scheduler.LinkDependents(all)
	return all
}
