package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dockhand/internal/check"
	"dockhand/internal/config"
)

// FailureDisplay renders a task failure message to the user. Implemented by
// the event loggers.
type FailureDisplay interface {
	DisplayFailure(message string)
}

// StepRunner executes one step at a time against the container runtime and
// translates each outcome into task events. It holds no per-run mutable
// state; any number of workers may share one runner.
type StepRunner struct {
	Runtime     ContainerRuntime
	Display     FailureDisplay
	ProjectName string
	RunID       string

	// TaskContainerName gets stdio attached; with StdinIsTTY the container
	// is created with a TTY so interactive commands work.
	TaskContainerName string
	StdinIsTTY        bool

	ForwardProxyEnv bool

	// Environ supplies the host environment for proxy propagation. Defaults
	// to os.Environ.
	Environ func() []string
}

var buildStepPattern = regexp.MustCompile(`^Step (\d+)/(\d+) : (.*)$`)

// Run executes step and posts the resulting events. Every failure becomes a
// typed failure event; Run itself never returns an error.
func (r *StepRunner) Run(ctx context.Context, step TaskStep, post func(TaskEvent)) {
	check.Assert(post != nil, "StepRunner.Run: post must not be nil")

	switch s := step.(type) {
	case BeginTaskStep:
		post(TaskStartedEvent{})
	case BuildImageStep:
		r.buildImage(ctx, s, post)
	case PullImageStep:
		r.pullImage(ctx, s, post)
	case CreateTaskNetworkStep:
		r.createTaskNetwork(ctx, post)
	case CreateContainerStep:
		r.createContainer(ctx, s, post)
	case RunContainerStep:
		r.runContainer(ctx, s, post)
	case StartContainerStep:
		r.startContainer(ctx, s, post)
	case WaitForHealthStep:
		r.waitForHealth(ctx, s, post)
	case StopContainerStep:
		r.stopContainer(ctx, s, post)
	case RemoveContainerStep:
		r.removeContainer(ctx, s.ContainerName, s.ContainerID, false, post)
	case CleanUpContainerStep:
		r.removeContainer(ctx, s.ContainerName, s.ContainerID, true, post)
	case DeleteTaskNetworkStep:
		r.deleteTaskNetwork(ctx, s, post)
	case DeleteTemporaryFileStep:
		r.deleteTemporaryFile(s, post)
	case DisplayTaskFailureStep:
		r.Display.DisplayFailure(s.Message)
	case FinishTaskStep:
		post(TaskFinishedEvent{})
	default:
		check.Assertf(false, "StepRunner.Run: unhandled step kind %s", step.Kind())
	}
}

func (r *StepRunner) buildImage(ctx context.Context, s BuildImageStep, post func(TaskEvent)) {
	req := BuildImageRequest{
		Tag:        s.Tag,
		ContextDir: s.Container.Build.Context,
		Args:       s.Container.Build.Args,
	}

	imageID, err := r.Runtime.BuildImage(ctx, req, func(line string) {
		m := buildStepPattern.FindStringSubmatch(strings.TrimRight(line, "\n"))
		if m == nil {
			return
		}
		step, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		post(ImageBuildProgressEvent{
			ContainerName: s.Container.Name,
			Step:          step,
			Total:         total,
			Instruction:   m[3],
		})
	})
	if err != nil {
		post(ImageBuildFailedEvent{ContainerName: s.Container.Name, Message: err.Error()})
		return
	}
	if imageID == "" {
		imageID = s.Tag
	}
	post(ImageBuiltEvent{ContainerName: s.Container.Name, ImageID: imageID})
}

func (r *StepRunner) pullImage(ctx context.Context, s PullImageStep, post func(TaskEvent)) {
	if err := r.Runtime.PullImageIfMissing(ctx, s.Reference); err != nil {
		post(ImagePullFailedEvent{Reference: s.Reference, Message: err.Error()})
		return
	}
	post(ImagePulledEvent{Reference: s.Reference})
}

func (r *StepRunner) createTaskNetwork(ctx context.Context, post func(TaskEvent)) {
	networkID, err := r.Runtime.CreateNetwork(ctx, NetworkName(r.RunID))
	if err != nil {
		post(TaskNetworkCreationFailedEvent{Message: err.Error()})
		return
	}
	post(TaskNetworkCreatedEvent{NetworkID: networkID})
}

func (r *StepRunner) createContainer(ctx context.Context, s CreateContainerStep, post func(TaskEvent)) {
	container := s.Container

	env := append([]string(nil), container.Environment...)
	if r.ForwardProxyEnv {
		env = append(env, proxyEnvironment(r.environ())...)
	}

	mounts := append([]config.Mount(nil), container.Mounts...)
	userSpec := ""
	if container.RunAsCurrentUser {
		extraMounts, spec, err := r.writeCurrentUserFiles(container.Name, post)
		if err != nil {
			post(ContainerCreationFailedEvent{ContainerName: container.Name, Message: err.Error()})
			return
		}
		mounts = append(mounts, extraMounts...)
		userSpec = spec
	}

	req := CreateContainerRequest{
		Name:        RuntimeContainerName(r.ProjectName, container.Name, r.RunID),
		Image:       s.Image,
		NetworkID:   s.NetworkID,
		NetworkName: NetworkName(r.RunID),
		Hostname:    container.Name,
		Command:     s.Command,
		Entrypoint:  container.Entrypoint,
		WorkingDir:  container.WorkingDir,
		Env:         env,
		Ports:       container.Ports,
		Mounts:      mounts,
		HealthCheck: container.HealthCheck,
		User:        userSpec,
		Interactive: r.StdinIsTTY && container.Name == r.TaskContainerName,
	}

	containerID, err := r.Runtime.CreateContainer(ctx, req)
	if err != nil {
		post(ContainerCreationFailedEvent{ContainerName: container.Name, Message: err.Error()})
		return
	}
	post(ContainerCreatedEvent{ContainerName: container.Name, ContainerID: containerID})
}

// writeCurrentUserFiles generates passwd and group files for the current
// host user and posts TemporaryFileCreated for each before returning, so the
// files are reclaimed even when container creation fails afterwards.
func (r *StepRunner) writeCurrentUserFiles(containerName string, post func(TaskEvent)) ([]config.Mount, string, error) {
	uid := os.Getuid()
	gid := os.Getgid()
	username := "dockhand"
	if current, err := user.Current(); err == nil && current.Username != "" {
		username = current.Username
	}

	passwd := "root:x:0:0:root:/root:/bin/sh\n"
	group := "root:x:0:\n"
	if uid != 0 {
		passwd += fmt.Sprintf("%s:x:%d:%d:%s:/home/%s:/bin/sh\n", username, uid, gid, username, username)
		group += fmt.Sprintf("%s:x:%d:\n", username, gid)
	}

	passwdPath, err := writeTempFile("dockhand-passwd-", passwd)
	if err != nil {
		return nil, "", fmt.Errorf("write temporary passwd file: %w", err)
	}
	post(TemporaryFileCreatedEvent{ContainerName: containerName, Path: passwdPath})

	groupPath, err := writeTempFile("dockhand-group-", group)
	if err != nil {
		return nil, "", fmt.Errorf("write temporary group file: %w", err)
	}
	post(TemporaryFileCreatedEvent{ContainerName: containerName, Path: groupPath})

	mounts := []config.Mount{
		{Source: passwdPath, Target: "/etc/passwd", ReadOnly: true},
		{Source: groupPath, Target: "/etc/group", ReadOnly: true},
	}
	return mounts, fmt.Sprintf("%d:%d", uid, gid), nil
}

func writeTempFile(prefix, content string) (string, error) {
	f, err := os.CreateTemp("", prefix)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return f.Name(), err
	}
	if err := f.Close(); err != nil {
		return f.Name(), err
	}
	return f.Name(), nil
}

func (r *StepRunner) runContainer(ctx context.Context, s RunContainerStep, post func(TaskEvent)) {
	exitCode, err := r.Runtime.RunContainer(ctx, s.ContainerID)
	if err != nil {
		post(ContainerStartFailedEvent{ContainerName: s.ContainerName, Message: err.Error()})
		return
	}
	post(RunningContainerExitedEvent{ContainerName: s.ContainerName, ExitCode: exitCode})
}

func (r *StepRunner) startContainer(ctx context.Context, s StartContainerStep, post func(TaskEvent)) {
	if err := r.Runtime.StartContainer(ctx, s.ContainerID); err != nil {
		post(ContainerStartFailedEvent{ContainerName: s.ContainerName, Message: err.Error()})
		return
	}
	post(ContainerStartedEvent{ContainerName: s.ContainerName})
}

func (r *StepRunner) waitForHealth(ctx context.Context, s WaitForHealthStep, post func(TaskEvent)) {
	has, err := r.Runtime.HasHealthCheck(ctx, s.ContainerID)
	if err != nil {
		post(ContainerDidNotBecomeHealthyEvent{
			ContainerName: s.ContainerName,
			Message:       fmt.Sprintf("could not determine whether the container has a health check: %v", err),
		})
		return
	}
	if !has {
		post(ContainerBecameHealthyEvent{ContainerName: s.ContainerName})
		return
	}

	timeout := healthWaitTimeout(s.HealthCheck)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var outcome TaskEvent
	streamErr := r.Runtime.StreamContainerEvents(waitCtx, s.ContainerID, func(line string) bool {
		switch strings.TrimSpace(line) {
		case "health_status: healthy":
			outcome = ContainerBecameHealthyEvent{ContainerName: s.ContainerName}
			return false
		case "health_status: unhealthy":
			outcome = r.unhealthyDiagnosis(ctx, s)
			return false
		case "die":
			outcome = ContainerDidNotBecomeHealthyEvent{
				ContainerName: s.ContainerName,
				Message:       "The container exited before becoming healthy.",
			}
			return false
		}
		return true
	})

	switch {
	case outcome != nil:
		post(outcome)
	case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
		post(ContainerDidNotBecomeHealthyEvent{
			ContainerName: s.ContainerName,
			Message:       fmt.Sprintf("The container did not report a health status within %s.", timeout),
		})
	case streamErr != nil:
		post(ContainerDidNotBecomeHealthyEvent{
			ContainerName: s.ContainerName,
			Message:       fmt.Sprintf("streaming container events failed: %v", streamErr),
		})
	default:
		post(ContainerDidNotBecomeHealthyEvent{
			ContainerName: s.ContainerName,
			Message:       "The container's event stream ended before it reported a health status.",
		})
	}
}

func (r *StepRunner) unhealthyDiagnosis(ctx context.Context, s WaitForHealthStep) TaskEvent {
	exitCode, output, err := r.Runtime.LastHealthCheckResult(ctx, s.ContainerID)
	if err != nil {
		return ContainerDidNotBecomeHealthyEvent{
			ContainerName: s.ContainerName,
			Message:       fmt.Sprintf("The health check reported the container as unhealthy (could not retrieve its output: %v).", err),
		}
	}
	return ContainerDidNotBecomeHealthyEvent{
		ContainerName: s.ContainerName,
		Message:       fmt.Sprintf("The last health check exited with code %d and output:\n%s", exitCode, output),
	}
}

// healthWaitTimeout bounds the wait for a health verdict. Missing timing
// fields take the runtime's defaults.
func healthWaitTimeout(hc *config.HealthCheck) time.Duration {
	interval := 30 * time.Second
	retries := 3
	startPeriod := time.Duration(0)
	if hc != nil {
		if hc.Interval > 0 {
			interval = hc.Interval
		}
		if hc.Retries > 0 {
			retries = hc.Retries
		}
		if hc.StartPeriod > 0 {
			startPeriod = hc.StartPeriod
		}
	}
	timeout := startPeriod + interval*time.Duration(retries+2)
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	return timeout
}

func (r *StepRunner) stopContainer(ctx context.Context, s StopContainerStep, post func(TaskEvent)) {
	if err := r.Runtime.StopContainer(ctx, s.ContainerID); err != nil {
		post(ContainerStopFailedEvent{ContainerName: s.ContainerName, Message: err.Error()})
		return
	}
	post(ContainerStoppedEvent{ContainerName: s.ContainerName})
}

func (r *StepRunner) removeContainer(ctx context.Context, name, id string, force bool, post func(TaskEvent)) {
	if err := r.Runtime.RemoveContainer(ctx, id, force); err != nil {
		post(ContainerRemovalFailedEvent{ContainerName: name, Message: err.Error()})
		return
	}
	post(ContainerRemovedEvent{ContainerName: name})
}

func (r *StepRunner) deleteTaskNetwork(ctx context.Context, s DeleteTaskNetworkStep, post func(TaskEvent)) {
	if err := r.Runtime.DeleteNetwork(ctx, s.NetworkID); err != nil {
		post(TaskNetworkDeletionFailedEvent{Message: err.Error()})
		return
	}
	post(TaskNetworkDeletedEvent{})
}

func (r *StepRunner) deleteTemporaryFile(s DeleteTemporaryFileStep, post func(TaskEvent)) {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		post(TemporaryFileDeletionFailedEvent{Path: s.Path, Message: err.Error()})
		return
	}
	post(TemporaryFileDeletedEvent{Path: s.Path})
}

func (r *StepRunner) environ() []string {
	if r.Environ != nil {
		return r.Environ()
	}
	return os.Environ()
}

// proxyEnvironment extracts the proxy-related variables from the host
// environment, both lower and upper case forms.
func proxyEnvironment(environ []string) []string {
	names := map[string]bool{
		"http_proxy": true, "https_proxy": true, "ftp_proxy": true, "no_proxy": true,
		"HTTP_PROXY": true, "HTTPS_PROXY": true, "FTP_PROXY": true, "NO_PROXY": true,
	}
	var out []string
	for _, entry := range environ {
		key, _, ok := strings.Cut(entry, "=")
		if ok && names[key] {
			out = append(out, entry)
		}
	}
	return out
}
