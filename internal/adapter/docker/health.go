package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
)

func (r *Runtime) HasHealthCheck(ctx context.Context, containerID string) (bool, error) {
	info, err := r.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, fmt.Errorf("inspect container %q: %w", containerID, err)
	}
	hc := info.Config.Healthcheck
	if hc == nil || len(hc.Test) == 0 {
		return false, nil
	}
	if len(hc.Test) == 1 && strings.EqualFold(hc.Test[0], "NONE") {
		return false, nil
	}
	return true, nil
}

// StreamContainerEvents forwards die and health_status events for one
// container as their literal status text, one call per event.
func (r *Runtime) StreamContainerEvents(ctx context.Context, containerID string, onLine func(line string) bool) error {
	msgCh, errCh := r.cli.Events(ctx, events.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("container", containerID),
			filters.Arg("event", "die"),
			filters.Arg("event", "health_status"),
		),
	})

	for {
		select {
		case msg := <-msgCh:
			if !onLine(string(msg.Action)) {
				return nil
			}
		case err := <-errCh:
			if err == nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("stream events for container %q: %w", containerID, err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runtime) LastHealthCheckResult(ctx context.Context, containerID string) (int, string, error) {
	info, err := r.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0, "", fmt.Errorf("inspect container %q: %w", containerID, err)
	}
	if info.State == nil || info.State.Health == nil || len(info.State.Health.Log) == 0 {
		return 0, "", fmt.Errorf("container %q has no recorded health check result", containerID)
	}
	last := info.State.Health.Log[len(info.State.Health.Log)-1]
	return last.ExitCode, strings.TrimSpace(last.Output), nil
}
