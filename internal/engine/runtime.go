package engine

import (
	"context"

	"dockhand/internal/config"
)

// ContainerRuntime is the capability set the engine needs from a container
// runtime. Calls block until the runtime operation completes; the engine
// converts every failure into a task event, so implementations should return
// plain errors and never panic.
type ContainerRuntime interface {
	// BuildImage builds an image from a local directory, tagging it with
	// req.Tag. Raw progress lines from the builder are delivered to onLine.
	BuildImage(ctx context.Context, req BuildImageRequest, onLine func(line string)) (imageID string, err error)

	// PullImageIfMissing checks for ref locally and pulls it when absent.
	PullImageIfMissing(ctx context.Context, ref string) error

	// CreateNetwork creates the isolated bridge network for the run.
	CreateNetwork(ctx context.Context, name string) (networkID string, err error)

	// DeleteNetwork removes the run network. Deleting a network that no
	// longer exists is not an error.
	DeleteNetwork(ctx context.Context, networkID string) error

	// CreateContainer creates a container and returns its runtime identifier.
	CreateContainer(ctx context.Context, req CreateContainerRequest) (containerID string, err error)

	// StartContainer starts a created container without attaching to it.
	StartContainer(ctx context.Context, containerID string) error

	// RunContainer starts a created container with stdio attached and blocks
	// until it exits, returning its exit code.
	RunContainer(ctx context.Context, containerID string) (exitCode int, err error)

	// StopContainer stops a running container.
	StopContainer(ctx context.Context, containerID string) error

	// RemoveContainer removes a container. Removing a container that does
	// not exist is not an error. force also removes a running container.
	RemoveContainer(ctx context.Context, containerID string, force bool) error

	// HasHealthCheck reports whether the container has a health check
	// configured, either in its image or its creation request.
	HasHealthCheck(ctx context.Context, containerID string) (bool, error)

	// StreamContainerEvents delivers one line per container event, using the
	// literal status text ("health_status: healthy", "health_status:
	// unhealthy", "die"). Streaming stops when onLine returns false, the
	// context is cancelled, or the runtime closes the stream.
	StreamContainerEvents(ctx context.Context, containerID string, onLine func(line string) bool) error

	// LastHealthCheckResult returns the exit code and captured output of the
	// most recent health check execution.
	LastHealthCheckResult(ctx context.Context, containerID string) (exitCode int, output string, err error)
}

// BuildImageRequest carries everything needed to build one container image.
type BuildImageRequest struct {
	Tag        string
	ContextDir string
	Args       map[string]string
}

// CreateContainerRequest carries everything needed to create one container.
type CreateContainerRequest struct {
	Name        string
	Image       string
	NetworkID   string
	NetworkName string
	Hostname    string
	Command     []string
	Entrypoint  []string
	WorkingDir  string
	Env         []string
	Ports       []config.PortMapping
	Mounts      []config.Mount
	HealthCheck *config.HealthCheck
	User        string
	Interactive bool
}
