package engine_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"dockhand/internal/adapter/fake"
	"dockhand/internal/config"
	"dockhand/internal/engine"
)

func collectEvents(t *testing.T, rt *fake.ContainerRuntime, step engine.TaskStep, configure func(r *engine.StepRunner)) []engine.TaskEvent {
	t.Helper()
	runner := &engine.StepRunner{
		Runtime:           rt,
		Display:           &recordingSink{},
		ProjectName:       "test",
		RunID:             "testrun",
		TaskContainerName: "app",
	}
	if configure != nil {
		configure(runner)
	}

	var events []engine.TaskEvent
	runner.Run(context.Background(), step, func(e engine.TaskEvent) {
		events = append(events, e)
	})
	return events
}

func TestWaitForHealth_NoCheckIsImmediatelyHealthy(t *testing.T) {
	rt := fake.NewContainerRuntime()

	events := collectEvents(t, rt, engine.WaitForHealthStep{ContainerName: "db", ContainerID: "ctr-1"}, nil)

	if len(events) != 1 || events[0].Kind() != engine.KindContainerBecameHealthy {
		t.Fatalf("events = %v, want one ContainerBecameHealthy", events)
	}
}

func TestWaitForHealth_HealthyEvent(t *testing.T) {
	rt := fake.NewContainerRuntime()
	rt.HealthChecks = map[string]bool{"ctr-1": true}
	rt.HealthEvents = map[string][]string{"ctr-1": {"ignored noise", "health_status: healthy"}}

	events := collectEvents(t, rt, engine.WaitForHealthStep{ContainerName: "db", ContainerID: "ctr-1"}, nil)

	if len(events) != 1 || events[0].Kind() != engine.KindContainerBecameHealthy {
		t.Fatalf("events = %v, want one ContainerBecameHealthy", events)
	}
}

func TestWaitForHealth_UnhealthyFetchesDiagnosis(t *testing.T) {
	rt := fake.NewContainerRuntime()
	rt.HealthChecks = map[string]bool{"ctr-1": true}
	rt.HealthEvents = map[string][]string{"ctr-1": {"health_status: unhealthy"}}
	rt.LastHealthCheckExitCode = 1
	rt.LastHealthCheckOutput = "connection refused"

	events := collectEvents(t, rt, engine.WaitForHealthStep{ContainerName: "db", ContainerID: "ctr-1"}, nil)

	if len(events) != 1 {
		t.Fatalf("events = %v, want 1", events)
	}
	failure, ok := events[0].(engine.ContainerDidNotBecomeHealthyEvent)
	if !ok {
		t.Fatalf("event = %T, want ContainerDidNotBecomeHealthyEvent", events[0])
	}
	if !strings.Contains(failure.Message, "exited with code 1") {
		t.Errorf("message %q should report the health check exit code", failure.Message)
	}
	if !strings.Contains(failure.Message, "connection refused") {
		t.Errorf("message %q should include the health check output", failure.Message)
	}
}

func TestWaitForHealth_DieBeforeHealthStatus(t *testing.T) {
	rt := fake.NewContainerRuntime()
	rt.HealthChecks = map[string]bool{"ctr-1": true}
	rt.HealthEvents = map[string][]string{"ctr-1": {"die"}}

	events := collectEvents(t, rt, engine.WaitForHealthStep{ContainerName: "db", ContainerID: "ctr-1"}, nil)

	failure, ok := events[0].(engine.ContainerDidNotBecomeHealthyEvent)
	if !ok {
		t.Fatalf("event = %T, want ContainerDidNotBecomeHealthyEvent", events[0])
	}
	if failure.Message != "The container exited before becoming healthy." {
		t.Errorf("message = %q", failure.Message)
	}
}

func TestWaitForHealth_StreamEndsWithoutVerdict(t *testing.T) {
	rt := fake.NewContainerRuntime()
	rt.HealthChecks = map[string]bool{"ctr-1": true}

	events := collectEvents(t, rt, engine.WaitForHealthStep{ContainerName: "db", ContainerID: "ctr-1"}, nil)

	failure, ok := events[0].(engine.ContainerDidNotBecomeHealthyEvent)
	if !ok {
		t.Fatalf("event = %T, want ContainerDidNotBecomeHealthyEvent", events[0])
	}
	if !strings.Contains(failure.Message, "event stream ended") {
		t.Errorf("message = %q", failure.Message)
	}
}

func TestWaitForHealth_StreamFailure(t *testing.T) {
	rt := fake.NewContainerRuntime()
	rt.HealthChecks = map[string]bool{"ctr-1": true}
	rt.StreamEventsErr = func(string) error { return fmt.Errorf("daemon went away") }

	events := collectEvents(t, rt, engine.WaitForHealthStep{ContainerName: "db", ContainerID: "ctr-1"}, nil)

	failure, ok := events[0].(engine.ContainerDidNotBecomeHealthyEvent)
	if !ok {
		t.Fatalf("event = %T, want ContainerDidNotBecomeHealthyEvent", events[0])
	}
	if !strings.Contains(failure.Message, "daemon went away") {
		t.Errorf("message = %q", failure.Message)
	}
}

func TestBuildImage_ParsesProgressLines(t *testing.T) {
	rt := fake.NewContainerRuntime()
	rt.BuildProgress = map[string][]string{
		"./app": {
			"Step 1/3 : FROM golang:1.25",
			" ---> abc123",
			"Step 2/3 : COPY . /src",
			"Step 3/3 : RUN go build",
			"Successfully built deadbeef",
		},
	}

	container := config.Container{Name: "app", Build: &config.BuildSpec{Context: "./app"}}
	events := collectEvents(t, rt, engine.BuildImageStep{Container: container, Tag: "dockhand-test-app:1"}, nil)

	var progress []engine.ImageBuildProgressEvent
	var built []engine.ImageBuiltEvent
	for _, e := range events {
		switch ev := e.(type) {
		case engine.ImageBuildProgressEvent:
			progress = append(progress, ev)
		case engine.ImageBuiltEvent:
			built = append(built, ev)
		}
	}

	if len(progress) != 3 {
		t.Fatalf("progress events = %d, want 3", len(progress))
	}
	if progress[0].Step != 1 || progress[0].Total != 3 || progress[0].Instruction != "FROM golang:1.25" {
		t.Errorf("first progress = %+v", progress[0])
	}
	if len(built) != 1 {
		t.Fatalf("built events = %d, want 1", len(built))
	}
}

func TestCreateContainer_RunAsCurrentUserWritesTempFiles(t *testing.T) {
	rt := fake.NewContainerRuntime()
	container := config.Container{
		Name:             "app",
		Image:            "app:1",
		RunAsCurrentUser: true,
	}

	events := collectEvents(t, rt, engine.CreateContainerStep{
		Container: container,
		Image:     "app:1",
		NetworkID: "net-1",
	}, nil)

	var tempFiles []string
	createdAt := -1
	for i, e := range events {
		switch ev := e.(type) {
		case engine.TemporaryFileCreatedEvent:
			if createdAt >= 0 {
				t.Error("temporary files must be announced before the container is created")
			}
			tempFiles = append(tempFiles, ev.Path)
		case engine.ContainerCreatedEvent:
			createdAt = i
		}
	}
	t.Cleanup(func() {
		for _, path := range tempFiles {
			_ = os.Remove(path)
		}
	})

	if len(tempFiles) != 2 {
		t.Fatalf("temporary files = %d, want passwd and group", len(tempFiles))
	}
	if createdAt < 0 {
		t.Fatal("container was never created")
	}
	for _, path := range tempFiles {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("temporary file %q missing: %v", path, err)
		}
	}

	calls := rt.Calls("CreateContainer")
	if len(calls) != 1 {
		t.Fatalf("create calls = %d, want 1", len(calls))
	}
}

func TestCreateContainer_ForwardsProxyEnvironment(t *testing.T) {
	rt := fake.NewContainerRuntime()
	var captured engine.CreateContainerRequest
	rt.CreateContainerErr = func(req engine.CreateContainerRequest) error {
		captured = req
		return nil
	}

	container := config.Container{Name: "app", Image: "app:1", Environment: []string{"DEBUG=1"}}
	collectEvents(t, rt, engine.CreateContainerStep{
		Container: container,
		Image:     "app:1",
		NetworkID: "net-1",
	}, func(r *engine.StepRunner) {
		r.ForwardProxyEnv = true
		r.Environ = func() []string {
			return []string{"https_proxy=http://proxy:3128", "PATH=/bin", "NO_PROXY=localhost"}
		}
	})

	want := map[string]bool{
		"DEBUG=1":                        true,
		"https_proxy=http://proxy:3128":  true,
		"NO_PROXY=localhost":             true,
	}
	got := make(map[string]bool, len(captured.Env))
	for _, entry := range captured.Env {
		got[entry] = true
	}
	for entry := range want {
		if !got[entry] {
			t.Errorf("env missing %q (got %v)", entry, captured.Env)
		}
	}
	if got["PATH=/bin"] {
		t.Error("non-proxy host environment must not leak into the container")
	}
}

func TestDeleteTemporaryFile_MissingFileIsDeleted(t *testing.T) {
	rt := fake.NewContainerRuntime()

	events := collectEvents(t, rt, engine.DeleteTemporaryFileStep{Path: "/nonexistent/dockhand-test"}, nil)

	if len(events) != 1 || events[0].Kind() != engine.KindTemporaryFileDeleted {
		t.Fatalf("events = %v, want one TemporaryFileDeleted", events)
	}
}

func TestCleanUpContainer_AbsentContainerIsRemoved(t *testing.T) {
	rt := fake.NewContainerRuntime()

	events := collectEvents(t, rt, engine.CleanUpContainerStep{ContainerName: "app", ContainerID: "ctr-missing"}, nil)

	if len(events) != 1 || events[0].Kind() != engine.KindContainerRemoved {
		t.Fatalf("events = %v, want one ContainerRemoved", events)
	}
}
