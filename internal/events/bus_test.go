package events

import (
	"errors"
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	event := TaskExecutingEvent{
		ID:        "task-1",
		Worker:    "worker-a",
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskExecuting {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskExecuting, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	event := TaskExecutedEvent{
		ID:        "task-2",
		Worker:    "worker-a",
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	// Both channels should receive the event
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	// Subscribe with buffer size 1
	ch := bus.Subscribe(TopicTask, 1)

	// Publish 10 events - should not deadlock
	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			event := TaskExecutableEvent{
				ID:        "task-" + string(rune('0'+i)),
				Timestamp: time.Now(),
			}
			bus.Publish(TopicTask, event)
		}
		done <- true
	}()

	// Publisher should complete immediately (non-blocking)
	select {
	case <-done:
		// Success - publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	// Verify we received at least one event (buffer size 1)
	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicTask, 10)

	// Close the bus
	bus.Close()

	// Channel should be closed (range loop should exit immediately)
	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	// This should not panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	event := TaskExecutableEvent{
		ID:        "task-1",
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, event)

	// Channel is closed, so we shouldn't receive anything
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Expected - channel closed, no data
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	workerCh := bus.Subscribe(TopicWorker, 10)

	taskEvent := TaskExecutableEvent{
		ID:        "task-1",
		Timestamp: time.Now(),
	}

	workerEvent := WorkerFailedEvent{
		Worker:    "worker-a",
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, taskEvent)
	bus.Publish(TopicWorker, workerEvent)

	// Task channel should receive task event
	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskExecutable {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	// Worker channel should receive worker event
	select {
	case received := <-workerCh:
		if received.EventType() != EventTypeWorkerFailed {
			t.Errorf("worker channel: expected worker event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("worker channel: timeout waiting for event")
	}

	// Task channel should NOT have worker event
	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}

	// Worker channel should NOT have task event
	select {
	case <-workerCh:
		t.Error("worker channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

// TestSubscribeAllReplaysRecentEvents verifies a SubscribeAll caller that
// attaches after events have already been published still sees them.
func TestSubscribeAllReplaysRecentEvents(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	bus.Publish(TopicTask, TaskExecutableEvent{ID: "task-1", Timestamp: time.Now()})
	bus.Publish(TopicRun, RunFinishedEvent{Timestamp: time.Now()})

	allCh := bus.SubscribeAll(20)

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for replayed event")
		}
	}

	if !receivedTypes[EventTypeTaskExecutable] {
		t.Error("expected the late subscriber to be replayed the task event")
	}
	if !receivedTypes[EventTypeRunFinished] {
		t.Error("expected the late subscriber to be replayed the run event")
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	// Publish task event
	taskEvent := TaskExecutableEvent{
		ID:        "task-1",
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, taskEvent)

	// Publish run event
	runEvent := RunFinishedEvent{
		Err:       errors.New("boom"),
		Timestamp: time.Now(),
	}
	bus.Publish(TopicRun, runEvent)

	// SubscribeAll channel should receive both events
	receivedTypes := make(map[string]bool)

	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	// Verify we received both types
	if !receivedTypes[EventTypeTaskExecutable] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeRunFinished] {
		t.Error("SubscribeAll did not receive run event")
	}

	// Should not have any more events
	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no more events
	}
}
