package engine

import (
	"fmt"
	"sort"

	"dockhand/internal/check"
	"dockhand/internal/config"
	"dockhand/internal/graph"
)

// AfterFailure selects what happens to already-created resources when a
// pre-run failure aborts the task.
type AfterFailure uint8

const (
	CleanupAfterFailure AfterFailure = iota + 1
	DontCleanupAfterFailure
)

func (b AfterFailure) String() string {
	switch b {
	case CleanupAfterFailure:
		return "cleanup"
	case DontCleanupAfterFailure:
		return "dont_cleanup"
	default:
		return "unknown"
	}
}

// TaskContext owns the event log and step index for one task run.
//
// It is not safe for concurrent use: the dispatcher routes every PostEvent
// and queue mutation through a single goroutine, so Apply methods read the
// log atomically while step execution runs in parallel elsewhere.
type TaskContext struct {
	graph        *graph.Graph
	projectName  string
	afterFailure AfterFailure
	forwardProxy bool

	events []TaskEvent
	byKind map[EventKind][]TaskEvent

	pending   []TaskStep
	queued    map[StepKey]TaskStep
	cancelled map[StepKey]bool

	aborting     bool
	taskExited   bool
	taskExitCode int
}

// ContextOptions configures a task run.
type ContextOptions struct {
	ProjectName     string
	AfterFailure    AfterFailure
	ForwardProxyEnv bool
}

// NewTaskContext creates the context for one run of the graph's task.
func NewTaskContext(g *graph.Graph, opts ContextOptions) *TaskContext {
	check.Assert(g != nil, "NewTaskContext: graph must not be nil")
	afterFailure := opts.AfterFailure
	if afterFailure == 0 {
		afterFailure = CleanupAfterFailure
	}
	return &TaskContext{
		graph:        g,
		projectName:  opts.ProjectName,
		afterFailure: afterFailure,
		forwardProxy: opts.ForwardProxyEnv,
		byKind:       make(map[EventKind][]TaskEvent),
		queued:       make(map[StepKey]TaskStep),
		cancelled:    make(map[StepKey]bool),
	}
}

// PostEvent appends e to the log and applies it.
func (c *TaskContext) PostEvent(e TaskEvent) {
	c.events = append(c.events, e)
	c.byKind[e.Kind()] = append(c.byKind[e.Kind()], e)
	e.Apply(c)
}

// QueueStep queues s unless a step with the same key was already queued.
func (c *TaskContext) QueueStep(s TaskStep) {
	key := s.Key()
	if _, ok := c.queued[key]; ok {
		return
	}
	c.queued[key] = s
	c.pending = append(c.pending, s)
}

// CancelPendingStep drops a not-yet-dispatched step from the queue. It has
// no effect on steps already handed to a worker.
func (c *TaskContext) CancelPendingStep(key StepKey) {
	for i, s := range c.pending {
		if s.Key() == key {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			c.cancelled[key] = true
			return
		}
	}
}

// popPendingStep removes a step from the pending queue as it is handed to a
// worker. The step stays in the processed index.
func (c *TaskContext) popPendingStep(key StepKey) {
	for i, s := range c.pending {
		if s.Key() == key {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// PastEvents returns all logged events of one kind, oldest first.
func (c *TaskContext) PastEvents(kind EventKind) []TaskEvent {
	return c.byKind[kind]
}

// SinglePastEvent returns the only logged event of a kind.
func (c *TaskContext) SinglePastEvent(kind EventKind) (TaskEvent, bool) {
	events := c.byKind[kind]
	if len(events) == 0 {
		return nil, false
	}
	check.Assertf(len(events) == 1, "SinglePastEvent(%s): %d events", kind, len(events))
	return events[0], true
}

// QueuedSteps returns every pending or processed step of a kind, excluding
// steps that were cancelled before dispatch.
func (c *TaskContext) QueuedSteps(kind StepKind) []TaskStep {
	var out []TaskStep
	for key, s := range c.queued {
		if key.Kind != kind || c.cancelled[key] {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Primary < out[j].Key().Primary })
	return out
}

// StepQueued reports whether a step with the key is pending or processed.
func (c *TaskContext) StepQueued(key StepKey) bool {
	_, ok := c.queued[key]
	return ok && !c.cancelled[key]
}

// DependenciesOf returns the direct dependencies of a container.
func (c *TaskContext) DependenciesOf(name string) []string {
	return c.graph.DependenciesOf(name)
}

// DependentsOf returns the containers that depend directly on a container.
func (c *TaskContext) DependentsOf(name string) []string {
	return c.graph.DependentsOf(name)
}

// IsTaskContainer reports whether name is the task container.
func (c *TaskContext) IsTaskContainer(name string) bool {
	return c.graph.IsTaskContainer(name)
}

// IsAborting reports whether a pre-run failure has occurred. Monotonic.
func (c *TaskContext) IsAborting() bool {
	return c.aborting
}

// BehaviourAfterFailure reports the configured cleanup behaviour.
func (c *TaskContext) BehaviourAfterFailure() AfterFailure {
	return c.afterFailure
}

// ForwardProxyEnv reports whether proxy environment variables are propagated
// into created containers.
func (c *TaskContext) ForwardProxyEnv() bool {
	return c.forwardProxy
}

// TaskExitCode returns the task container's exit code once it has run.
func (c *TaskContext) TaskExitCode() (int, bool) {
	return c.taskExitCode, c.taskExited
}

// --- reducer helpers -------------------------------------------------------

// commandFor resolves the command a container runs: the task's command
// override for the task container, the container's own command otherwise.
func (c *TaskContext) commandFor(container config.Container) []string {
	if c.graph.IsTaskContainer(container.Name) && len(c.graph.Task.Command) > 0 {
		return c.graph.Task.Command
	}
	return container.Command
}

// networkID returns the run network identifier once created.
func (c *TaskContext) networkID() (string, bool) {
	e, ok := c.SinglePastEvent(KindTaskNetworkCreated)
	if !ok {
		return "", false
	}
	return e.(TaskNetworkCreatedEvent).NetworkID, true
}

// containerID returns a container's runtime identifier once created.
func (c *TaskContext) containerID(name string) (string, bool) {
	for _, e := range c.byKind[KindContainerCreated] {
		created := e.(ContainerCreatedEvent)
		if created.ContainerName == name {
			return created.ContainerID, true
		}
	}
	return "", false
}

// imageFor resolves the image a container will be created from, when ready.
func (c *TaskContext) imageFor(container config.Container) (string, bool) {
	if container.Build != nil {
		for _, e := range c.byKind[KindImageBuilt] {
			built := e.(ImageBuiltEvent)
			if built.ContainerName == container.Name {
				return built.ImageID, true
			}
		}
		return "", false
	}
	for _, e := range c.byKind[KindImagePulled] {
		if e.(ImagePulledEvent).Reference == container.Image {
			return container.Image, true
		}
	}
	return "", false
}

func (c *TaskContext) containerHealthy(name string) bool {
	for _, e := range c.byKind[KindContainerBecameHealthy] {
		if e.(ContainerBecameHealthyEvent).ContainerName == name {
			return true
		}
	}
	return false
}

func (c *TaskContext) dependenciesHealthy(name string) bool {
	for _, dep := range c.graph.DependenciesOf(name) {
		if !c.containerHealthy(dep) {
			return false
		}
	}
	return true
}

// queueReadyCreates queues a CreateContainer step for every container whose
// image is ready, once the run network exists. Iteration is leaves-first.
func (c *TaskContext) queueReadyCreates() {
	if c.aborting {
		return
	}
	networkID, ok := c.networkID()
	if !ok {
		return
	}
	for _, container := range c.graph.Containers() {
		image, ok := c.imageFor(container)
		if !ok {
			continue
		}
		c.QueueStep(CreateContainerStep{
			Container: container,
			Image:     image,
			NetworkID: networkID,
			Command:   c.commandFor(container),
		})
	}
}

// queueRunOrStart queues the step that brings a created container up: the
// task container runs with stdio attached, everything else starts detached.
func (c *TaskContext) queueRunOrStart(name string) {
	id, ok := c.containerID(name)
	if !ok {
		return
	}
	if c.graph.IsTaskContainer(name) {
		container, _ := c.graph.Container(name)
		c.QueueStep(RunContainerStep{
			ContainerName: name,
			ContainerID:   id,
			Command:       c.commandFor(container),
		})
		return
	}
	c.QueueStep(StartContainerStep{ContainerName: name, ContainerID: id})
}

// beginAbort flips the abort flag and queues cleanup for everything created
// so far. Re-entrant: later failures only add cleanup for resources that
// appeared since.
func (c *TaskContext) beginAbort() {
	first := !c.aborting
	c.aborting = true

	// Pending startup work will never be needed; drop it before a worker
	// picks it up. In-flight steps are left to finish and their results
	// handled by the aborting branches of the event appliers.
	startupKinds := map[StepKind]bool{
		StepBuildImage:        true,
		StepPullImage:         true,
		StepCreateTaskNetwork: true,
		StepCreateContainer:   true,
		StepStartContainer:    true,
		StepRunContainer:      true,
		StepWaitForHealth:     true,
	}
	for _, s := range append([]TaskStep(nil), c.pending...) {
		if startupKinds[s.Kind()] {
			c.CancelPendingStep(s.Key())
		}
	}

	switch c.afterFailure {
	case CleanupAfterFailure:
		c.queueCleanupForCreated()
	case DontCleanupAfterFailure:
		if first {
			for _, e := range c.byKind[KindContainerCreated] {
				created := e.(ContainerCreatedEvent)
				c.QueueStep(DisplayTaskFailureStep{
					Message: containerRemovalAdvice(created.ContainerName, created.ContainerID),
				})
			}
		}
	}

	c.convergeCleanup()
}

// queueCleanupForCreated force-removes every created container that has no
// removal queued yet.
func (c *TaskContext) queueCleanupForCreated() {
	for _, e := range c.byKind[KindContainerCreated] {
		created := e.(ContainerCreatedEvent)
		key := StepKey{Kind: StepRemoveContainer, Primary: created.ContainerName}
		if c.StepQueued(key) {
			continue
		}
		c.QueueStep(CleanUpContainerStep{
			ContainerName: created.ContainerName,
			ContainerID:   created.ContainerID,
		})
	}
}

// containerRemovalAdvice tells the user how to reclaim a container that was
// left behind because cleanup is disabled.
func containerRemovalAdvice(name, id string) string {
	return fmt.Sprintf("Cleanup is disabled. To remove the container %q, run:\n  docker rm -f %s", name, id)
}

// networkRemovalAdvice is printed when the task network cannot be deleted
// because containers are still attached to it.
func networkRemovalAdvice(id string) string {
	return fmt.Sprintf("Cleanup is disabled. Once its containers are removed, delete the task network with:\n  docker network rm %s", id)
}

// allQueuedCreatesResolved reports whether every dispatched CreateContainer
// step has produced a ContainerCreated or ContainerCreationFailed event.
func (c *TaskContext) allQueuedCreatesResolved() bool {
	for _, s := range c.QueuedSteps(StepCreateContainer) {
		name := s.Key().Primary
		if _, ok := c.containerID(name); ok {
			continue
		}
		if c.containerCreationFailed(name) {
			continue
		}
		return false
	}
	return true
}

func (c *TaskContext) containerCreationFailed(name string) bool {
	for _, e := range c.byKind[KindContainerCreationFailed] {
		if e.(ContainerCreationFailedEvent).ContainerName == name {
			return true
		}
	}
	return false
}

// containerTerminal reports whether a container has finished its lifecycle:
// removed, removal failed, or never created because creation failed.
func (c *TaskContext) containerTerminal(name string) bool {
	for _, e := range c.byKind[KindContainerRemoved] {
		if e.(ContainerRemovedEvent).ContainerName == name {
			return true
		}
	}
	for _, e := range c.byKind[KindContainerRemovalFailed] {
		if e.(ContainerRemovalFailedEvent).ContainerName == name {
			return true
		}
	}
	return c.containerCreationFailed(name)
}

// convergeCleanup drives every exit path to FinishTask. It queues the task
// network deletion once all containers with a queued creation are terminal,
// and FinishTask once there is no network to delete.
func (c *TaskContext) convergeCleanup() {
	if !c.aborting && !c.taskExited {
		return
	}
	if !c.allQueuedCreatesResolved() {
		return
	}

	networkID, networkExists := c.networkID()

	if c.aborting && c.afterFailure == DontCleanupAfterFailure {
		// Containers are left behind on purpose; the network can only go
		// when nothing was ever attached to it. Temporary files are always
		// reclaimed: a bind mount keeps its inode alive in any container
		// still using it.
		for _, e := range c.byKind[KindTemporaryFileCreated] {
			c.QueueStep(DeleteTemporaryFileStep{Path: e.(TemporaryFileCreatedEvent).Path})
		}
		if networkExists && len(c.byKind[KindContainerCreated]) == 0 {
			c.QueueStep(DeleteTaskNetworkStep{NetworkID: networkID})
			return
		}
		if networkExists {
			c.QueueStep(DisplayTaskFailureStep{Message: networkRemovalAdvice(networkID)})
		}
		c.QueueStep(FinishTaskStep{})
		return
	}

	for _, s := range c.QueuedSteps(StepCreateContainer) {
		if !c.containerTerminal(s.Key().Primary) {
			return
		}
	}

	if networkExists {
		c.QueueStep(DeleteTaskNetworkStep{NetworkID: networkID})
		return
	}
	c.QueueStep(FinishTaskStep{})
}

// queueTemporaryFileDeletes queues deletion of every temporary file created
// for a container. Duplicate suppression keys on the path.
func (c *TaskContext) queueTemporaryFileDeletes(containerName string) {
	for _, e := range c.byKind[KindTemporaryFileCreated] {
		created := e.(TemporaryFileCreatedEvent)
		if created.ContainerName != containerName {
			continue
		}
		c.QueueStep(DeleteTemporaryFileStep{Path: created.Path})
	}
}
