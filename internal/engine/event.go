package engine

// EventKind tags every task event variant. The context maintains a per-kind
// index over the append-only log so reducers can query past events cheaply.
type EventKind uint8

const (
	KindTaskStarted EventKind = iota + 1
	KindImageBuildProgress
	KindImageBuilt
	KindImagePulled
	KindTaskNetworkCreated
	KindContainerCreated
	KindContainerStarted
	KindContainerBecameHealthy
	KindRunningContainerExited
	KindContainerStopped
	KindContainerRemoved
	KindTaskNetworkDeleted
	KindTemporaryFileCreated
	KindTemporaryFileDeleted
	KindTaskFinished

	KindImageBuildFailed
	KindImagePullFailed
	KindTaskNetworkCreationFailed
	KindContainerCreationFailed
	KindContainerStartFailed
	KindContainerDidNotBecomeHealthy
	KindContainerStopFailed
	KindContainerRemovalFailed
	KindTaskNetworkDeletionFailed
	KindTemporaryFileDeletionFailed
)

func (k EventKind) String() string {
	switch k {
	case KindTaskStarted:
		return "task_started"
	case KindImageBuildProgress:
		return "image_build_progress"
	case KindImageBuilt:
		return "image_built"
	case KindImagePulled:
		return "image_pulled"
	case KindTaskNetworkCreated:
		return "task_network_created"
	case KindContainerCreated:
		return "container_created"
	case KindContainerStarted:
		return "container_started"
	case KindContainerBecameHealthy:
		return "container_became_healthy"
	case KindRunningContainerExited:
		return "running_container_exited"
	case KindContainerStopped:
		return "container_stopped"
	case KindContainerRemoved:
		return "container_removed"
	case KindTaskNetworkDeleted:
		return "task_network_deleted"
	case KindTemporaryFileCreated:
		return "temporary_file_created"
	case KindTemporaryFileDeleted:
		return "temporary_file_deleted"
	case KindTaskFinished:
		return "task_finished"
	case KindImageBuildFailed:
		return "image_build_failed"
	case KindImagePullFailed:
		return "image_pull_failed"
	case KindTaskNetworkCreationFailed:
		return "task_network_creation_failed"
	case KindContainerCreationFailed:
		return "container_creation_failed"
	case KindContainerStartFailed:
		return "container_start_failed"
	case KindContainerDidNotBecomeHealthy:
		return "container_did_not_become_healthy"
	case KindContainerStopFailed:
		return "container_stop_failed"
	case KindContainerRemovalFailed:
		return "container_removal_failed"
	case KindTaskNetworkDeletionFailed:
		return "task_network_deletion_failed"
	case KindTemporaryFileDeletionFailed:
		return "temporary_file_deletion_failed"
	default:
		return "unknown"
	}
}

// TaskEvent is one entry in the append-only event log. Apply runs on the
// dispatcher's event goroutine and encodes all orchestration policy: it may
// queue further steps and flip the abort flag, and nothing else.
type TaskEvent interface {
	Kind() EventKind
	Apply(c *TaskContext)
	String() string
}

// FailureEvent is the failure family of task events. Failures whose
// AbortsTask bit is set put the run into the aborting state; the rest are
// reported but let cleanup continue.
type FailureEvent interface {
	TaskEvent
	FailureMessage() string
	AbortsTask() bool
}
