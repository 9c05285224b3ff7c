package engine_test

import (
	"testing"

	"dockhand/internal/config"
	"dockhand/internal/engine"
)

func dbAppGraph(t *testing.T) *engine.TaskContext {
	t.Helper()
	g := resolveGraph(t,
		map[string]config.Container{
			"db":  {Image: "db:1", HealthCheck: &config.HealthCheck{Test: []string{"CMD", "check"}}},
			"app": {Image: "app:1", DependsOn: []string{"db"}},
		},
		config.Task{Container: "app", Command: []string{"echo", "hi"}},
	)
	return engine.NewTaskContext(g, engine.ContextOptions{ProjectName: "test"})
}

func stepCount(c *engine.TaskContext, kind engine.StepKind) int {
	return len(c.QueuedSteps(kind))
}

func TestTaskStarted_QueuesNetworkAndImages(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})

	if got := stepCount(c, engine.StepCreateTaskNetwork); got != 1 {
		t.Errorf("network steps = %d, want 1", got)
	}
	if got := stepCount(c, engine.StepPullImage); got != 2 {
		t.Errorf("pull steps = %d, want 2", got)
	}
	if got := stepCount(c, engine.StepCreateContainer); got != 0 {
		t.Errorf("create steps = %d, want 0 before images are ready", got)
	}
}

func TestCreateQueuedOnceImageAndNetworkReady(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})

	c.PostEvent(engine.ImagePulledEvent{Reference: "db:1"})
	if got := stepCount(c, engine.StepCreateContainer); got != 0 {
		t.Fatalf("create steps = %d, want 0 before the network exists", got)
	}

	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	if got := stepCount(c, engine.StepCreateContainer); got != 1 {
		t.Fatalf("create steps = %d, want 1 once db image and network are ready", got)
	}

	c.PostEvent(engine.ImagePulledEvent{Reference: "app:1"})
	if got := stepCount(c, engine.StepCreateContainer); got != 2 {
		t.Fatalf("create steps = %d, want 2 once both images are ready", got)
	}
}

func TestStartGatedOnDependencyHealth(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "db:1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "app:1"})

	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "app", ContainerID: "ctr-app"})
	if got := stepCount(c, engine.StepRunContainer); got != 0 {
		t.Fatalf("run steps = %d, want 0 while db is not healthy", got)
	}

	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "db", ContainerID: "ctr-db"})
	if got := stepCount(c, engine.StepStartContainer); got != 1 {
		t.Fatalf("start steps = %d, want 1 (db has no dependencies)", got)
	}

	c.PostEvent(engine.ContainerStartedEvent{ContainerName: "db"})
	if got := stepCount(c, engine.StepWaitForHealth); got != 1 {
		t.Fatalf("health wait steps = %d, want 1", got)
	}

	c.PostEvent(engine.ContainerBecameHealthyEvent{ContainerName: "db"})
	if got := stepCount(c, engine.StepRunContainer); got != 1 {
		t.Fatalf("run steps = %d, want 1 once db is healthy", got)
	}
}

func TestDuplicateHealthyEventQueuesNoSecondRun(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "db:1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "app:1"})
	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "app", ContainerID: "ctr-app"})
	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "db", ContainerID: "ctr-db"})
	c.PostEvent(engine.ContainerBecameHealthyEvent{ContainerName: "db"})
	c.PostEvent(engine.ContainerBecameHealthyEvent{ContainerName: "db"})

	if got := stepCount(c, engine.StepRunContainer); got != 1 {
		t.Errorf("run steps = %d, want exactly 1 despite duplicate health events", got)
	}
}

func TestTaskExitStopsEverythingAndConverges(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "db:1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "app:1"})
	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "db", ContainerID: "ctr-db"})
	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "app", ContainerID: "ctr-app"})
	c.PostEvent(engine.ContainerStartedEvent{ContainerName: "db"})
	c.PostEvent(engine.ContainerBecameHealthyEvent{ContainerName: "db"})

	c.PostEvent(engine.RunningContainerExitedEvent{ContainerName: "app", ExitCode: 3})
	if got := stepCount(c, engine.StepStopContainer); got != 2 {
		t.Fatalf("stop steps = %d, want 2 (db and the exited app)", got)
	}
	if code, ok := c.TaskExitCode(); !ok || code != 3 {
		t.Fatalf("TaskExitCode() = %d, %v, want 3, true", code, ok)
	}

	c.PostEvent(engine.ContainerStoppedEvent{ContainerName: "db"})
	c.PostEvent(engine.ContainerStoppedEvent{ContainerName: "app"})
	if got := stepCount(c, engine.StepRemoveContainer); got != 2 {
		t.Fatalf("remove steps = %d, want 2", got)
	}

	c.PostEvent(engine.ContainerRemovedEvent{ContainerName: "db"})
	if got := stepCount(c, engine.StepDeleteTaskNetwork); got != 0 {
		t.Fatalf("network delete queued before all containers removed")
	}
	c.PostEvent(engine.ContainerRemovedEvent{ContainerName: "app"})
	if got := stepCount(c, engine.StepDeleteTaskNetwork); got != 1 {
		t.Fatalf("network delete steps = %d, want 1", got)
	}

	c.PostEvent(engine.TaskNetworkDeletedEvent{})
	if got := stepCount(c, engine.StepFinishTask); got != 1 {
		t.Fatalf("finish steps = %d, want 1", got)
	}
}

func TestAbortQueuesCleanupForCreatedContainers(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "db:1"})
	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "db", ContainerID: "ctr-db"})
	c.PostEvent(engine.ContainerStartedEvent{ContainerName: "db"})

	c.PostEvent(engine.ContainerDidNotBecomeHealthyEvent{ContainerName: "db", Message: "unhealthy"})

	if !c.IsAborting() {
		t.Fatal("context should be aborting")
	}
	if got := stepCount(c, engine.StepRemoveContainer); got != 1 {
		t.Fatalf("cleanup steps = %d, want 1 for the created db container", got)
	}
}

func TestContainerCreatedWhileAbortingIsCleanedUp(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "db:1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "app:1"})
	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "db", ContainerID: "ctr-db"})
	c.PostEvent(engine.ContainerDidNotBecomeHealthyEvent{ContainerName: "db", Message: "unhealthy"})

	// app's creation was in flight when the failure hit; its result still
	// arrives and must be cleaned up.
	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "app", ContainerID: "ctr-app"})

	if got := stepCount(c, engine.StepRemoveContainer); got != 2 {
		t.Fatalf("cleanup steps = %d, want 2 (db and late-created app)", got)
	}
	if got := stepCount(c, engine.StepRunContainer); got != 0 {
		t.Fatalf("run steps = %d, want 0 while aborting", got)
	}
}

func TestAbortWithoutNetworkFinishesDirectly(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreationFailedEvent{Message: "boom"})

	if got := stepCount(c, engine.StepFinishTask); got != 1 {
		t.Fatalf("finish steps = %d, want 1 when no network exists", got)
	}
	if got := stepCount(c, engine.StepDeleteTaskNetwork); got != 0 {
		t.Fatalf("network delete steps = %d, want 0", got)
	}
}

func TestDontCleanupLeavesContainersAndAdvises(t *testing.T) {
	g := resolveGraph(t,
		map[string]config.Container{
			"db":  {Image: "db:1", HealthCheck: &config.HealthCheck{Test: []string{"CMD", "check"}}},
			"app": {Image: "app:1", DependsOn: []string{"db"}},
		},
		config.Task{Container: "app"},
	)
	c := engine.NewTaskContext(g, engine.ContextOptions{
		ProjectName:  "test",
		AfterFailure: engine.DontCleanupAfterFailure,
	})

	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "db:1"})
	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "db", ContainerID: "ctr-db"})
	c.PostEvent(engine.ContainerDidNotBecomeHealthyEvent{ContainerName: "db", Message: "unhealthy"})

	if got := stepCount(c, engine.StepRemoveContainer); got != 0 {
		t.Fatalf("cleanup steps = %d, want 0 with cleanup disabled", got)
	}
	if got := stepCount(c, engine.StepDisplayTaskFailure); got == 0 {
		t.Fatal("expected manual removal advice to be queued")
	}
	if got := stepCount(c, engine.StepDeleteTaskNetwork); got != 0 {
		t.Fatalf("network delete steps = %d, want 0 while db is attached", got)
	}
	if got := stepCount(c, engine.StepFinishTask); got != 1 {
		t.Fatalf("finish steps = %d, want 1", got)
	}
}

func TestDontCleanupDeletesNetworkWhenNothingWasCreated(t *testing.T) {
	g := resolveGraph(t,
		map[string]config.Container{"app": {Build: &config.BuildSpec{Context: "./app"}}},
		config.Task{Container: "app"},
	)
	c := engine.NewTaskContext(g, engine.ContextOptions{
		ProjectName:  "test",
		AfterFailure: engine.DontCleanupAfterFailure,
	})

	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	c.PostEvent(engine.ImageBuildFailedEvent{ContainerName: "app", Message: "boom"})

	if got := stepCount(c, engine.StepDeleteTaskNetwork); got != 1 {
		t.Fatalf("network delete steps = %d, want 1 when no container exists", got)
	}

	c.PostEvent(engine.TaskNetworkDeletedEvent{})
	if got := stepCount(c, engine.StepFinishTask); got != 1 {
		t.Fatalf("finish steps = %d, want 1", got)
	}
}

func TestTemporaryFileDeletesKeyedOffRemoval(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "app:1"})
	c.PostEvent(engine.TemporaryFileCreatedEvent{ContainerName: "app", Path: "/tmp/passwd-1"})
	c.PostEvent(engine.ContainerCreatedEvent{ContainerName: "app", ContainerID: "ctr-app"})

	if got := stepCount(c, engine.StepDeleteTemporaryFile); got != 0 {
		t.Fatalf("temp delete steps = %d, want 0 before removal", got)
	}

	c.PostEvent(engine.ContainerRemovedEvent{ContainerName: "app"})
	if got := stepCount(c, engine.StepDeleteTemporaryFile); got != 1 {
		t.Fatalf("temp delete steps = %d, want 1 after removal", got)
	}
}

func TestTemporaryFileDeletesOnCreationFailure(t *testing.T) {
	c := dbAppGraph(t)
	c.PostEvent(engine.TaskStartedEvent{})
	c.PostEvent(engine.TaskNetworkCreatedEvent{NetworkID: "net-1"})
	c.PostEvent(engine.ImagePulledEvent{Reference: "app:1"})
	c.PostEvent(engine.TemporaryFileCreatedEvent{ContainerName: "app", Path: "/tmp/passwd-1"})
	c.PostEvent(engine.ContainerCreationFailedEvent{ContainerName: "app", Message: "boom"})

	if got := stepCount(c, engine.StepDeleteTemporaryFile); got != 1 {
		t.Fatalf("temp delete steps = %d, want 1 after creation failure", got)
	}
}
