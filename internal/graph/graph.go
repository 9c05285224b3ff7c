// Package graph resolves the dependency graph for one task run.
//
// Nodes are the containers reachable from the task container via depends_on
// (plus the task's own extra dependencies). The graph is rejected if a
// dependency name does not resolve or the depends_on relation contains a
// cycle.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"dockhand/internal/config"
)

// UnknownTaskError is returned when the requested task is not in the project.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("task %q is not defined in the project", e.Name)
}

// UnknownDependencyError is returned when a container depends on a name that
// does not resolve to a container.
type UnknownDependencyError struct {
	From string
	Name string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("container %q depends on unknown container %q", e.From, e.Name)
}

// CyclicDependencyError is returned when depends_on contains a cycle.
// Path lists the containers along the cycle, first repeated last.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Graph is the resolved dependency graph for one task.
type Graph struct {
	Task          config.Task
	TaskContainer string

	nodes        map[string]config.Container
	dependencies map[string][]string
	dependents   map[string][]string
	order        []string
}

// Resolve builds the graph for the named task.
func Resolve(project *config.Project, taskName string) (*Graph, error) {
	task, ok := project.Task(taskName)
	if !ok {
		return nil, &UnknownTaskError{Name: taskName}
	}

	g := &Graph{
		Task:          task,
		TaskContainer: task.Container,
		nodes:         make(map[string]config.Container),
		dependencies:  make(map[string][]string),
		dependents:    make(map[string][]string),
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int)
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return &CyclicDependencyError{Path: cyclePath(stack, name)}
		}

		container, ok := project.Container(name)
		if !ok {
			if len(stack) == 0 {
				return fmt.Errorf("task %q runs in unknown container %q", task.Name, name)
			}
			return &UnknownDependencyError{From: stack[len(stack)-1], Name: name}
		}

		state[name] = visiting
		stack = append(stack, name)

		deps := g.dependencyNames(container)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
			g.dependents[dep] = append(g.dependents[dep], name)
		}

		stack = stack[:len(stack)-1]
		state[name] = visited
		g.nodes[name] = container
		g.dependencies[name] = deps
		g.order = append(g.order, name)
		return nil
	}

	if err := visit(task.Container); err != nil {
		return nil, err
	}

	for name := range g.dependents {
		sort.Strings(g.dependents[name])
	}
	return g, nil
}

// dependencyNames merges a container's own depends_on with the task's extra
// dependencies when the container is the task container.
func (g *Graph) dependencyNames(container config.Container) []string {
	deps := append([]string(nil), container.DependsOn...)
	if container.Name == g.TaskContainer {
		for _, dep := range g.Task.Dependencies {
			deps = append(deps, dep)
		}
	}

	sort.Strings(deps)
	out := deps[:0]
	var last string
	for _, dep := range deps {
		if dep == last && len(out) > 0 {
			continue
		}
		out = append(out, dep)
		last = dep
	}
	return out
}

func cyclePath(stack []string, repeated string) []string {
	start := 0
	for i, name := range stack {
		if name == repeated {
			start = i
			break
		}
	}
	path := append([]string(nil), stack[start:]...)
	return append(path, repeated)
}

// Containers returns every container in the graph, leaves first.
func (g *Graph) Containers() []config.Container {
	out := make([]config.Container, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// Container returns the named container.
func (g *Graph) Container(name string) (config.Container, bool) {
	c, ok := g.nodes[name]
	return c, ok
}

// DependenciesOf returns the direct dependencies of a container.
func (g *Graph) DependenciesOf(name string) []string {
	return g.dependencies[name]
}

// DependentsOf returns the containers that directly depend on a container.
func (g *Graph) DependentsOf(name string) []string {
	return g.dependents[name]
}

// IsTaskContainer reports whether name is the task container.
func (g *Graph) IsTaskContainer(name string) bool {
	return name == g.TaskContainer
}

// Len returns the number of containers in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}
