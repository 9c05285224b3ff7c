package config

import (
	"sort"
	"time"
)

// Project is the fully resolved content of a dockhand.yaml file.
type Project struct {
	Name            string
	ForwardProxyEnv bool
	Containers      map[string]Container
	Tasks           map[string]Task
}

// BuildSpec describes an image built from a local directory.
type BuildSpec struct {
	Context string
	Args    map[string]string
}

// HealthCheck carries the timing configuration for a container health check.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// Mount is a bind mount into a container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostPort      uint16
	ContainerPort uint16
	Protocol      string
}

// Container is one named container definition. Exactly one of Image and
// Build is set.
type Container struct {
	Name             string
	Image            string
	Build            *BuildSpec
	Command          []string
	Entrypoint       []string
	WorkingDir       string
	Environment      []string
	Ports            []PortMapping
	Mounts           []Mount
	HealthCheck      *HealthCheck
	RunAsCurrentUser bool
	DependsOn        []string
}

// Task names a task container, the command to run in it, and any extra
// dependency containers beyond the container's own depends_on.
type Task struct {
	Name         string
	Description  string
	Container    string
	Command      []string
	Dependencies []string
}

// Container returns the named container definition.
func (p *Project) Container(name string) (Container, bool) {
	c, ok := p.Containers[name]
	return c, ok
}

// Task returns the named task definition.
func (p *Project) Task(name string) (Task, bool) {
	t, ok := p.Tasks[name]
	return t, ok
}

// TaskNames returns all task names sorted.
func (p *Project) TaskNames() []string {
	names := make([]string, 0, len(p.Tasks))
	for name := range p.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
