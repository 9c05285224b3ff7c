package engine

import "fmt"

// TaskStartedEvent opens the run: every container's image acquisition starts
// immediately, along with the run network.
type TaskStartedEvent struct{}

func (TaskStartedEvent) Kind() EventKind { return KindTaskStarted }
func (TaskStartedEvent) String() string  { return "task started" }

func (TaskStartedEvent) Apply(c *TaskContext) {
	if c.aborting {
		return
	}
	c.QueueStep(CreateTaskNetworkStep{})
	for _, container := range c.graph.Containers() {
		if container.Build != nil {
			c.QueueStep(BuildImageStep{
				Container: container,
				Tag:       SyntheticImageTag(c.projectName, container.Name),
			})
			continue
		}
		c.QueueStep(PullImageStep{Reference: container.Image})
	}
}

// ImageBuildProgressEvent reports one build step of a container image. It
// exists for the event loggers; it does not advance the state machine.
type ImageBuildProgressEvent struct {
	ContainerName string
	Step          int
	Total         int
	Instruction   string
}

func (ImageBuildProgressEvent) Kind() EventKind    { return KindImageBuildProgress }
func (ImageBuildProgressEvent) Apply(*TaskContext) {}
func (e ImageBuildProgressEvent) String() string {
	return fmt.Sprintf("image build for %q at step %d/%d: %s", e.ContainerName, e.Step, e.Total, e.Instruction)
}

type ImageBuiltEvent struct {
	ContainerName string
	ImageID       string
}

func (ImageBuiltEvent) Kind() EventKind { return KindImageBuilt }
func (e ImageBuiltEvent) String() string {
	return fmt.Sprintf("image for container %q built: %s", e.ContainerName, e.ImageID)
}

func (ImageBuiltEvent) Apply(c *TaskContext) {
	c.queueReadyCreates()
}

type ImagePulledEvent struct {
	Reference string
}

func (ImagePulledEvent) Kind() EventKind { return KindImagePulled }
func (e ImagePulledEvent) String() string {
	return fmt.Sprintf("image %q pulled", e.Reference)
}

func (ImagePulledEvent) Apply(c *TaskContext) {
	c.queueReadyCreates()
}

type TaskNetworkCreatedEvent struct {
	NetworkID string
}

func (TaskNetworkCreatedEvent) Kind() EventKind { return KindTaskNetworkCreated }
func (e TaskNetworkCreatedEvent) String() string {
	return fmt.Sprintf("task network %s created", e.NetworkID)
}

func (TaskNetworkCreatedEvent) Apply(c *TaskContext) {
	if c.aborting {
		// The network arrived after a failure; it only needs tearing down.
		c.convergeCleanup()
		return
	}
	c.queueReadyCreates()
}

type ContainerCreatedEvent struct {
	ContainerName string
	ContainerID   string
}

func (ContainerCreatedEvent) Kind() EventKind { return KindContainerCreated }
func (e ContainerCreatedEvent) String() string {
	return fmt.Sprintf("container %q created: %s", e.ContainerName, e.ContainerID)
}

func (e ContainerCreatedEvent) Apply(c *TaskContext) {
	if c.aborting {
		switch c.afterFailure {
		case CleanupAfterFailure:
			c.QueueStep(CleanUpContainerStep{
				ContainerName: e.ContainerName,
				ContainerID:   e.ContainerID,
			})
		case DontCleanupAfterFailure:
			c.QueueStep(DisplayTaskFailureStep{
				Message: containerRemovalAdvice(e.ContainerName, e.ContainerID),
			})
		}
		c.convergeCleanup()
		return
	}

	if c.dependenciesHealthy(e.ContainerName) {
		c.queueRunOrStart(e.ContainerName)
	}
}

type ContainerStartedEvent struct {
	ContainerName string
}

func (ContainerStartedEvent) Kind() EventKind { return KindContainerStarted }
func (e ContainerStartedEvent) String() string {
	return fmt.Sprintf("container %q started", e.ContainerName)
}

func (e ContainerStartedEvent) Apply(c *TaskContext) {
	id, ok := c.containerID(e.ContainerName)
	if !ok {
		return
	}
	container, ok := c.graph.Container(e.ContainerName)
	if !ok {
		return
	}
	c.QueueStep(WaitForHealthStep{
		ContainerName: e.ContainerName,
		ContainerID:   id,
		HealthCheck:   container.HealthCheck,
	})
}

type ContainerBecameHealthyEvent struct {
	ContainerName string
}

func (ContainerBecameHealthyEvent) Kind() EventKind { return KindContainerBecameHealthy }
func (e ContainerBecameHealthyEvent) String() string {
	return fmt.Sprintf("container %q became healthy", e.ContainerName)
}

func (e ContainerBecameHealthyEvent) Apply(c *TaskContext) {
	if c.aborting {
		return
	}
	for _, dependent := range c.DependentsOf(e.ContainerName) {
		if _, created := c.containerID(dependent); !created {
			continue
		}
		if !c.dependenciesHealthy(dependent) {
			continue
		}
		c.queueRunOrStart(dependent)
	}
}

// RunningContainerExitedEvent records the task container's exit and starts
// the shutdown of everything that was brought up for it.
type RunningContainerExitedEvent struct {
	ContainerName string
	ExitCode      int
}

func (RunningContainerExitedEvent) Kind() EventKind { return KindRunningContainerExited }
func (e RunningContainerExitedEvent) String() string {
	return fmt.Sprintf("container %q exited with code %d", e.ContainerName, e.ExitCode)
}

func (e RunningContainerExitedEvent) Apply(c *TaskContext) {
	c.taskExited = true
	c.taskExitCode = e.ExitCode

	for _, event := range c.byKind[KindContainerStarted] {
		started := event.(ContainerStartedEvent)
		if id, ok := c.containerID(started.ContainerName); ok {
			c.QueueStep(StopContainerStep{ContainerName: started.ContainerName, ContainerID: id})
		}
	}
	// The exited container itself gets the same stop-then-remove path;
	// stopping an exited container is a no-op in the runtime.
	if id, ok := c.containerID(e.ContainerName); ok {
		c.QueueStep(StopContainerStep{ContainerName: e.ContainerName, ContainerID: id})
	}

	c.convergeCleanup()
}

type ContainerStoppedEvent struct {
	ContainerName string
}

func (ContainerStoppedEvent) Kind() EventKind { return KindContainerStopped }
func (e ContainerStoppedEvent) String() string {
	return fmt.Sprintf("container %q stopped", e.ContainerName)
}

func (e ContainerStoppedEvent) Apply(c *TaskContext) {
	if id, ok := c.containerID(e.ContainerName); ok {
		c.QueueStep(RemoveContainerStep{ContainerName: e.ContainerName, ContainerID: id})
	}
}

type ContainerRemovedEvent struct {
	ContainerName string
}

func (ContainerRemovedEvent) Kind() EventKind { return KindContainerRemoved }
func (e ContainerRemovedEvent) String() string {
	return fmt.Sprintf("container %q removed", e.ContainerName)
}

func (e ContainerRemovedEvent) Apply(c *TaskContext) {
	c.queueTemporaryFileDeletes(e.ContainerName)
	c.convergeCleanup()
}

type TaskNetworkDeletedEvent struct{}

func (TaskNetworkDeletedEvent) Kind() EventKind { return KindTaskNetworkDeleted }
func (TaskNetworkDeletedEvent) String() string  { return "task network deleted" }

func (TaskNetworkDeletedEvent) Apply(c *TaskContext) {
	c.QueueStep(FinishTaskStep{})
}

type TemporaryFileCreatedEvent struct {
	ContainerName string
	Path          string
}

func (TemporaryFileCreatedEvent) Kind() EventKind    { return KindTemporaryFileCreated }
func (TemporaryFileCreatedEvent) Apply(*TaskContext) {}
func (e TemporaryFileCreatedEvent) String() string {
	return fmt.Sprintf("temporary file %q created for container %q", e.Path, e.ContainerName)
}

type TemporaryFileDeletedEvent struct {
	Path string
}

func (TemporaryFileDeletedEvent) Kind() EventKind    { return KindTemporaryFileDeleted }
func (TemporaryFileDeletedEvent) Apply(*TaskContext) {}
func (e TemporaryFileDeletedEvent) String() string {
	return fmt.Sprintf("temporary file %q deleted", e.Path)
}

// TaskFinishedEvent is the terminal event: the dispatcher stops draining
// once it observes it.
type TaskFinishedEvent struct{}

func (TaskFinishedEvent) Kind() EventKind    { return KindTaskFinished }
func (TaskFinishedEvent) Apply(*TaskContext) {}
func (TaskFinishedEvent) String() string     { return "task finished" }
