// Package docker implements the engine's ContainerRuntime against the
// Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"dockhand/internal/config"
	"dockhand/internal/engine"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

var _ engine.ContainerRuntime = (*Runtime)(nil)

// Runtime implements engine.ContainerRuntime using the Docker Engine API.
type Runtime struct {
	cli *client.Client
}

// NewRuntime creates a Runtime with a new Docker client from the environment.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// NewRuntimeFromClient wraps an existing Docker client.
func NewRuntimeFromClient(cli *client.Client) *Runtime {
	return &Runtime{cli: cli}
}

func (r *Runtime) CreateNetwork(ctx context.Context, name string) (string, error) {
	resp, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Scope:  "local",
	})
	if err != nil {
		return "", fmt.Errorf("create network %q: %w", name, err)
	}
	return resp.ID, nil
}

func (r *Runtime) DeleteNetwork(ctx context.Context, networkID string) error {
	if err := r.cli.NetworkRemove(ctx, networkID); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove network %q: %w", networkID, err)
	}
	return nil
}

func (r *Runtime) CreateContainer(ctx context.Context, req engine.CreateContainerRequest) (string, error) {
	exposed, bindings, err := portMaps(req.Ports)
	if err != nil {
		return "", err
	}

	cc := &container.Config{
		Image:        req.Image,
		Cmd:          strslice.StrSlice(req.Command),
		Entrypoint:   strslice.StrSlice(req.Entrypoint),
		Env:          req.Env,
		WorkingDir:   req.WorkingDir,
		User:         req.User,
		Hostname:     req.Hostname,
		ExposedPorts: exposed,
		Healthcheck:  healthConfig(req.HealthCheck),
		AttachStdin:  req.Interactive,
		OpenStdin:    req.Interactive,
		Tty:          req.Interactive,
	}
	hc := &container.HostConfig{
		PortBindings: bindings,
	}
	for _, m := range req.Mounts {
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	var networking *network.NetworkingConfig
	if req.NetworkID != "" {
		networking = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				req.NetworkName: {NetworkID: req.NetworkID},
			},
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, cc, hc, networking, nil, req.Name)
	if err != nil {
		return "", fmt.Errorf("create container %q: %w", req.Name, err)
	}
	return resp.ID, nil
}

func (r *Runtime) StartContainer(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", containerID, err)
	}
	return nil
}

// RunContainer attaches to the container's stdio, starts it, and blocks
// until it exits.
func (r *Runtime) RunContainer(ctx context.Context, containerID string) (int, error) {
	info, err := r.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0, fmt.Errorf("inspect container %q: %w", containerID, err)
	}
	tty := info.Config != nil && info.Config.Tty

	attach, err := r.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  info.Config != nil && info.Config.OpenStdin,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return 0, fmt.Errorf("attach to container %q: %w", containerID, err)
	}
	defer attach.Close()

	waitCh, waitErrCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return 0, fmt.Errorf("start container %q: %w", containerID, err)
	}

	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		if tty {
			_, _ = io.Copy(os.Stdout, attach.Reader)
			return
		}
		_, _ = stdcopy.StdCopy(os.Stdout, os.Stderr, attach.Reader)
	}()
	if info.Config != nil && info.Config.OpenStdin {
		go func() {
			_, _ = io.Copy(attach.Conn, os.Stdin)
			_ = attach.CloseWrite()
		}()
	}

	select {
	case result := <-waitCh:
		<-copyDone
		if result.Error != nil {
			return 0, fmt.Errorf("wait for container %q: %s", containerID, result.Error.Message)
		}
		return int(result.StatusCode), nil
	case err := <-waitErrCh:
		return 0, fmt.Errorf("wait for container %q: %w", containerID, err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Runtime) StopContainer(ctx context.Context, containerID string) error {
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("stop container %q: %w", containerID, err)
	}
	return nil
}

func (r *Runtime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %q: %w", containerID, err)
	}
	return nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

func portMaps(ports []config.PortMapping) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for _, p := range ports {
		port, err := nat.NewPort(p.Protocol, strconv.Itoa(int(p.ContainerPort)))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port mapping %d/%s: %w", p.ContainerPort, p.Protocol, err)
		}
		exposed[port] = struct{}{}
		binding := nat.PortBinding{}
		if p.HostPort != 0 {
			binding.HostPort = strconv.Itoa(int(p.HostPort))
		}
		bindings[port] = append(bindings[port], binding)
	}
	return exposed, bindings, nil
}

func healthConfig(hc *config.HealthCheck) *container.HealthConfig {
	if hc == nil {
		return nil
	}
	return &container.HealthConfig{
		Test:        hc.Test,
		Interval:    hc.Interval,
		Timeout:     hc.Timeout,
		Retries:     hc.Retries,
		StartPeriod: hc.StartPeriod,
	}
}
