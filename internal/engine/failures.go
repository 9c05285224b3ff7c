package engine

import "fmt"

// ImageBuildFailedEvent aborts the run: without the image the task cannot
// proceed.
type ImageBuildFailedEvent struct {
	ContainerName string
	Message       string
}

func (ImageBuildFailedEvent) Kind() EventKind  { return KindImageBuildFailed }
func (ImageBuildFailedEvent) AbortsTask() bool { return true }
func (e ImageBuildFailedEvent) FailureMessage() string {
	return fmt.Sprintf("Could not build image for container %q: %s", e.ContainerName, e.Message)
}
func (e ImageBuildFailedEvent) String() string { return e.FailureMessage() }

func (ImageBuildFailedEvent) Apply(c *TaskContext) {
	c.beginAbort()
}

type ImagePullFailedEvent struct {
	Reference string
	Message   string
}

func (ImagePullFailedEvent) Kind() EventKind  { return KindImagePullFailed }
func (ImagePullFailedEvent) AbortsTask() bool { return true }
func (e ImagePullFailedEvent) FailureMessage() string {
	return fmt.Sprintf("Could not pull image %q: %s", e.Reference, e.Message)
}
func (e ImagePullFailedEvent) String() string { return e.FailureMessage() }

func (ImagePullFailedEvent) Apply(c *TaskContext) {
	c.beginAbort()
}

type TaskNetworkCreationFailedEvent struct {
	Message string
}

func (TaskNetworkCreationFailedEvent) Kind() EventKind  { return KindTaskNetworkCreationFailed }
func (TaskNetworkCreationFailedEvent) AbortsTask() bool { return true }
func (e TaskNetworkCreationFailedEvent) FailureMessage() string {
	return fmt.Sprintf("Could not create the task network: %s", e.Message)
}
func (e TaskNetworkCreationFailedEvent) String() string { return e.FailureMessage() }

func (TaskNetworkCreationFailedEvent) Apply(c *TaskContext) {
	c.beginAbort()
}

type ContainerCreationFailedEvent struct {
	ContainerName string
	Message       string
}

func (ContainerCreationFailedEvent) Kind() EventKind  { return KindContainerCreationFailed }
func (ContainerCreationFailedEvent) AbortsTask() bool { return true }
func (e ContainerCreationFailedEvent) FailureMessage() string {
	return fmt.Sprintf("Could not create container %q: %s", e.ContainerName, e.Message)
}
func (e ContainerCreationFailedEvent) String() string { return e.FailureMessage() }

func (e ContainerCreationFailedEvent) Apply(c *TaskContext) {
	c.queueTemporaryFileDeletes(e.ContainerName)
	c.beginAbort()
}

type ContainerStartFailedEvent struct {
	ContainerName string
	Message       string
}

func (ContainerStartFailedEvent) Kind() EventKind  { return KindContainerStartFailed }
func (ContainerStartFailedEvent) AbortsTask() bool { return true }
func (e ContainerStartFailedEvent) FailureMessage() string {
	return fmt.Sprintf("Could not start container %q: %s", e.ContainerName, e.Message)
}
func (e ContainerStartFailedEvent) String() string { return e.FailureMessage() }

func (ContainerStartFailedEvent) Apply(c *TaskContext) {
	c.beginAbort()
}

type ContainerDidNotBecomeHealthyEvent struct {
	ContainerName string
	Message       string
}

func (ContainerDidNotBecomeHealthyEvent) Kind() EventKind  { return KindContainerDidNotBecomeHealthy }
func (ContainerDidNotBecomeHealthyEvent) AbortsTask() bool { return true }
func (e ContainerDidNotBecomeHealthyEvent) FailureMessage() string {
	return fmt.Sprintf("Container %q did not become healthy: %s", e.ContainerName, e.Message)
}
func (e ContainerDidNotBecomeHealthyEvent) String() string { return e.FailureMessage() }

func (ContainerDidNotBecomeHealthyEvent) Apply(c *TaskContext) {
	c.beginAbort()
}

// ContainerStopFailedEvent does not abort: the force-remove that follows can
// still reclaim the container.
type ContainerStopFailedEvent struct {
	ContainerName string
	Message       string
}

func (ContainerStopFailedEvent) Kind() EventKind  { return KindContainerStopFailed }
func (ContainerStopFailedEvent) AbortsTask() bool { return false }
func (e ContainerStopFailedEvent) FailureMessage() string {
	return fmt.Sprintf("Could not stop container %q: %s", e.ContainerName, e.Message)
}
func (e ContainerStopFailedEvent) String() string { return e.FailureMessage() }

func (e ContainerStopFailedEvent) Apply(c *TaskContext) {
	if id, ok := c.containerID(e.ContainerName); ok {
		c.QueueStep(CleanUpContainerStep{ContainerName: e.ContainerName, ContainerID: id})
	}
}

type ContainerRemovalFailedEvent struct {
	ContainerName string
	Message       string
}

func (ContainerRemovalFailedEvent) Kind() EventKind  { return KindContainerRemovalFailed }
func (ContainerRemovalFailedEvent) AbortsTask() bool { return false }
func (e ContainerRemovalFailedEvent) FailureMessage() string {
	return fmt.Sprintf("Could not remove container %q: %s", e.ContainerName, e.Message)
}
func (e ContainerRemovalFailedEvent) String() string { return e.FailureMessage() }

func (e ContainerRemovalFailedEvent) Apply(c *TaskContext) {
	c.queueTemporaryFileDeletes(e.ContainerName)
	c.convergeCleanup()
}

type TaskNetworkDeletionFailedEvent struct {
	Message string
}

func (TaskNetworkDeletionFailedEvent) Kind() EventKind  { return KindTaskNetworkDeletionFailed }
func (TaskNetworkDeletionFailedEvent) AbortsTask() bool { return false }
func (e TaskNetworkDeletionFailedEvent) FailureMessage() string {
	return fmt.Sprintf("Could not delete the task network: %s", e.Message)
}
func (e TaskNetworkDeletionFailedEvent) String() string { return e.FailureMessage() }

func (TaskNetworkDeletionFailedEvent) Apply(c *TaskContext) {
	c.QueueStep(FinishTaskStep{})
}

type TemporaryFileDeletionFailedEvent struct {
	Path    string
	Message string
}

func (TemporaryFileDeletionFailedEvent) Kind() EventKind  { return KindTemporaryFileDeletionFailed }
func (TemporaryFileDeletionFailedEvent) AbortsTask() bool { return false }
func (e TemporaryFileDeletionFailedEvent) FailureMessage() string {
	return fmt.Sprintf("Could not delete temporary file %q: %s", e.Path, e.Message)
}
func (e TemporaryFileDeletionFailedEvent) String() string { return e.FailureMessage() }

func (TemporaryFileDeletionFailedEvent) Apply(*TaskContext) {}
