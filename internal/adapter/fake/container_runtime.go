// Package fake provides in-memory test doubles for the engine's runtime
// dependencies.
package fake

import (
	"context"
	"fmt"
	"sync"

	"dockhand/internal/engine"
)

var _ engine.ContainerRuntime = (*ContainerRuntime)(nil)

type containerState struct {
	Request engine.CreateContainerRequest
	Running bool
}

// ContainerRuntime is an in-memory implementation of engine.ContainerRuntime.
//
// Containers are addressed by the logical name the engine passes as the
// creation request's hostname; per-container behaviour (exit codes, health
// scripts) is keyed on that name. Zero values behave like a runtime where
// every operation succeeds, no image is present locally, no container has a
// health check, and the task container exits with code 0.
type ContainerRuntime struct {
	CallRecorder
	mu         sync.Mutex
	nextID     int
	containers map[string]*containerState
	networks   map[string]string
	local      map[string]bool

	// BuildProgress is replayed to the build progress callback.
	BuildProgress map[string][]string

	// LocalImages marks references as already present, skipping the pull.
	LocalImages []string

	// HealthChecks marks containers (by logical name) as having a check.
	HealthChecks map[string]bool

	// HealthEvents scripts the event stream per container. The stream
	// closes after the last line.
	HealthEvents map[string][]string

	// ExitCodes scripts RunContainer results per container.
	ExitCodes map[string]int

	// LastHealthCheckExitCode and LastHealthCheckOutput script the
	// diagnosis fetched after an unhealthy verdict.
	LastHealthCheckExitCode int
	LastHealthCheckOutput   string

	BuildImageErr      func(req engine.BuildImageRequest) error
	PullImageErr       func(ref string) error
	CreateNetworkErr   func(name string) error
	DeleteNetworkErr   func(id string) error
	CreateContainerErr func(req engine.CreateContainerRequest) error
	StartContainerErr  func(name string) error
	RunContainerErr    func(name string) error
	StopContainerErr   func(name string) error
	RemoveContainerErr func(name string, force bool) error
	StreamEventsErr    func(name string) error
}

// NewContainerRuntime creates an empty fake runtime.
func NewContainerRuntime() *ContainerRuntime {
	return &ContainerRuntime{
		containers: make(map[string]*containerState),
		networks:   make(map[string]string),
		local:      make(map[string]bool),
	}
}

// logicalName resolves a runtime container ID back to the engine's name.
func (r *ContainerRuntime) logicalName(containerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cs, ok := r.containers[containerID]; ok {
		return cs.Request.Hostname
	}
	return containerID
}

func (r *ContainerRuntime) BuildImage(ctx context.Context, req engine.BuildImageRequest, onLine func(string)) (string, error) {
	r.record("BuildImage", req.Tag, req.ContextDir)
	if r.BuildImageErr != nil {
		if err := r.BuildImageErr(req); err != nil {
			return "", err
		}
	}
	if onLine != nil {
		for _, line := range r.BuildProgress[req.ContextDir] {
			onLine(line)
		}
	}
	return req.Tag, nil
}

func (r *ContainerRuntime) PullImageIfMissing(ctx context.Context, ref string) error {
	r.record("PullImageIfMissing", ref)
	if r.PullImageErr != nil {
		if err := r.PullImageErr(ref); err != nil {
			return err
		}
	}
	for _, local := range r.LocalImages {
		if local == ref {
			return nil
		}
	}
	r.mu.Lock()
	r.local[ref] = true
	r.mu.Unlock()
	return nil
}

func (r *ContainerRuntime) CreateNetwork(ctx context.Context, name string) (string, error) {
	r.record("CreateNetwork", name)
	if r.CreateNetworkErr != nil {
		if err := r.CreateNetworkErr(name); err != nil {
			return "", err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("net-%d", len(r.networks)+1)
	r.networks[id] = name
	return id, nil
}

func (r *ContainerRuntime) DeleteNetwork(ctx context.Context, networkID string) error {
	r.record("DeleteNetwork", networkID)
	if r.DeleteNetworkErr != nil {
		if err := r.DeleteNetworkErr(networkID); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.networks, networkID)
	return nil
}

func (r *ContainerRuntime) CreateContainer(ctx context.Context, req engine.CreateContainerRequest) (string, error) {
	r.record("CreateContainer", req.Hostname, req.Image)
	if r.CreateContainerErr != nil {
		if err := r.CreateContainerErr(req); err != nil {
			return "", err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("ctr-%d", r.nextID)
	r.containers[id] = &containerState{Request: req}
	return id, nil
}

func (r *ContainerRuntime) StartContainer(ctx context.Context, containerID string) error {
	name := r.logicalName(containerID)
	r.record("StartContainer", name)
	if r.StartContainerErr != nil {
		if err := r.StartContainerErr(name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.containers[containerID]
	if !ok {
		return fmt.Errorf("container %q not found", containerID)
	}
	cs.Running = true
	return nil
}

func (r *ContainerRuntime) RunContainer(ctx context.Context, containerID string) (int, error) {
	name := r.logicalName(containerID)
	r.record("RunContainer", name)
	if r.RunContainerErr != nil {
		if err := r.RunContainerErr(name); err != nil {
			return 0, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[containerID]; !ok {
		return 0, fmt.Errorf("container %q not found", containerID)
	}
	return r.ExitCodes[name], nil
}

func (r *ContainerRuntime) StopContainer(ctx context.Context, containerID string) error {
	name := r.logicalName(containerID)
	r.record("StopContainer", name)
	if r.StopContainerErr != nil {
		if err := r.StopContainerErr(name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cs, ok := r.containers[containerID]; ok {
		cs.Running = false
	}
	return nil
}

func (r *ContainerRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	name := r.logicalName(containerID)
	r.record("RemoveContainer", name, force)
	if r.RemoveContainerErr != nil {
		if err := r.RemoveContainerErr(name, force); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.containers[containerID]
	if !ok {
		// Removing an absent container succeeds, matching the adapter.
		return nil
	}
	if cs.Running && !force {
		return fmt.Errorf("container %q is running, use force to remove", containerID)
	}
	delete(r.containers, containerID)
	return nil
}

func (r *ContainerRuntime) HasHealthCheck(ctx context.Context, containerID string) (bool, error) {
	name := r.logicalName(containerID)
	r.record("HasHealthCheck", name)
	return r.HealthChecks[name], nil
}

func (r *ContainerRuntime) StreamContainerEvents(ctx context.Context, containerID string, onLine func(string) bool) error {
	name := r.logicalName(containerID)
	r.record("StreamContainerEvents", name)
	if r.StreamEventsErr != nil {
		if err := r.StreamEventsErr(name); err != nil {
			return err
		}
	}
	for _, line := range r.HealthEvents[name] {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !onLine(line) {
			return nil
		}
	}
	return nil
}

func (r *ContainerRuntime) LastHealthCheckResult(ctx context.Context, containerID string) (int, string, error) {
	name := r.logicalName(containerID)
	r.record("LastHealthCheckResult", name)
	return r.LastHealthCheckExitCode, r.LastHealthCheckOutput, nil
}

// ContainerCount returns how many containers currently exist.
func (r *ContainerRuntime) ContainerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}

// NetworkCount returns how many networks currently exist.
func (r *ContainerRuntime) NetworkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.networks)
}
