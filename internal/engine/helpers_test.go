package engine_test

import (
	"sync"
	"testing"

	"dockhand/internal/config"
	"dockhand/internal/engine"
	"dockhand/internal/graph"
)

// recordingSink captures every step start, posted event, and displayed
// failure for assertions.
type recordingSink struct {
	mu       sync.Mutex
	steps    []engine.TaskStep
	events   []engine.TaskEvent
	failures []string
}

func (s *recordingSink) StepStarting(step engine.TaskStep) {
	s.mu.Lock()
	s.steps = append(s.steps, step)
	s.mu.Unlock()
}

func (s *recordingSink) EventPosted(event engine.TaskEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *recordingSink) DisplayFailure(message string) {
	s.mu.Lock()
	s.failures = append(s.failures, message)
	s.mu.Unlock()
}

// eventIndex returns the position of the first event matching the predicate,
// or -1.
func (s *recordingSink) eventIndex(match func(engine.TaskEvent) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if match(e) {
			return i
		}
	}
	return -1
}

func (s *recordingSink) hasEvent(match func(engine.TaskEvent) bool) bool {
	return s.eventIndex(match) >= 0
}

func kindIs(kind engine.EventKind) func(engine.TaskEvent) bool {
	return func(e engine.TaskEvent) bool { return e.Kind() == kind }
}

func containerEvent(kind engine.EventKind, name string) func(engine.TaskEvent) bool {
	return func(e engine.TaskEvent) bool {
		if e.Kind() != kind {
			return false
		}
		switch ev := e.(type) {
		case engine.ContainerCreatedEvent:
			return ev.ContainerName == name
		case engine.ContainerStartedEvent:
			return ev.ContainerName == name
		case engine.ContainerBecameHealthyEvent:
			return ev.ContainerName == name
		case engine.RunningContainerExitedEvent:
			return ev.ContainerName == name
		case engine.ContainerStoppedEvent:
			return ev.ContainerName == name
		case engine.ContainerRemovedEvent:
			return ev.ContainerName == name
		case engine.ContainerDidNotBecomeHealthyEvent:
			return ev.ContainerName == name
		case engine.ContainerCreationFailedEvent:
			return ev.ContainerName == name
		default:
			return false
		}
	}
}

// assertEventBefore fails unless an event matching first precedes one
// matching second.
func (s *recordingSink) assertEventBefore(t *testing.T, desc string, first, second func(engine.TaskEvent) bool) {
	t.Helper()
	i := s.eventIndex(first)
	j := s.eventIndex(second)
	if i < 0 || j < 0 {
		t.Fatalf("%s: missing events (first at %d, second at %d)", desc, i, j)
	}
	if i >= j {
		t.Errorf("%s: expected order violated (first at %d, second at %d)", desc, i, j)
	}
}

func resolveGraph(t *testing.T, containers map[string]config.Container, task config.Task) *graph.Graph {
	t.Helper()
	for name, c := range containers {
		c.Name = name
		containers[name] = c
	}
	task.Name = "test-task"
	p := &config.Project{
		Name:       "test",
		Containers: containers,
		Tasks:      map[string]config.Task{task.Name: task},
	}
	g, err := graph.Resolve(p, task.Name)
	if err != nil {
		t.Fatalf("graph.Resolve() error = %v", err)
	}
	return g
}
