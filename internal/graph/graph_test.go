package graph

import (
	"errors"
	"testing"

	"dockhand/internal/config"
)

func project(containers map[string]config.Container, tasks map[string]config.Task) *config.Project {
	for name, c := range containers {
		c.Name = name
		containers[name] = c
	}
	for name, t := range tasks {
		t.Name = name
		tasks[name] = t
	}
	return &config.Project{Name: "test", Containers: containers, Tasks: tasks}
}

func TestResolve_SingleContainer(t *testing.T) {
	p := project(
		map[string]config.Container{"app": {Image: "app:1"}},
		map[string]config.Task{"run": {Container: "app"}},
	)

	g, err := Resolve(p, "run")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("g.Len() = %d, want 1", g.Len())
	}
	if !g.IsTaskContainer("app") {
		t.Error("app should be the task container")
	}
}

func TestResolve_LeavesFirst(t *testing.T) {
	p := project(
		map[string]config.Container{
			"db":    {Image: "db:1"},
			"cache": {Image: "cache:1"},
			"api":   {Image: "api:1", DependsOn: []string{"db", "cache"}},
			"app":   {Image: "app:1", DependsOn: []string{"api"}},
		},
		map[string]config.Task{"run": {Container: "app"}},
	)

	g, err := Resolve(p, "run")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	position := make(map[string]int)
	for i, c := range g.Containers() {
		position[c.Name] = i
	}
	if position["db"] > position["api"] || position["cache"] > position["api"] {
		t.Errorf("leaves must come before api: %v", position)
	}
	if position["api"] > position["app"] {
		t.Errorf("api must come before app: %v", position)
	}
}

func TestResolve_TaskDependenciesMerged(t *testing.T) {
	p := project(
		map[string]config.Container{
			"db":  {Image: "db:1"},
			"app": {Image: "app:1"},
		},
		map[string]config.Task{"run": {Container: "app", Dependencies: []string{"db"}}},
	)

	g, err := Resolve(p, "run")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	deps := g.DependenciesOf("app")
	if len(deps) != 1 || deps[0] != "db" {
		t.Fatalf("DependenciesOf(app) = %v, want [db]", deps)
	}
	dependents := g.DependentsOf("db")
	if len(dependents) != 1 || dependents[0] != "app" {
		t.Fatalf("DependentsOf(db) = %v, want [app]", dependents)
	}
}

func TestResolve_UnreachableContainerExcluded(t *testing.T) {
	p := project(
		map[string]config.Container{
			"app":    {Image: "app:1"},
			"unused": {Image: "unused:1"},
		},
		map[string]config.Task{"run": {Container: "app"}},
	)

	g, err := Resolve(p, "run")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := g.Container("unused"); ok {
		t.Error("unused container should not be in the graph")
	}
}

func TestResolve_Cycle(t *testing.T) {
	p := project(
		map[string]config.Container{
			"a": {Image: "a:1", DependsOn: []string{"b"}},
			"b": {Image: "b:1", DependsOn: []string{"a"}},
		},
		map[string]config.Task{"run": {Container: "a"}},
	)

	_, err := Resolve(p, "run")
	var cyclic *CyclicDependencyError
	if !errors.As(err, &cyclic) {
		t.Fatalf("Resolve() error = %v, want CyclicDependencyError", err)
	}
	if len(cyclic.Path) < 3 {
		t.Errorf("cycle path %v should repeat the entry node", cyclic.Path)
	}
	if cyclic.Path[0] != cyclic.Path[len(cyclic.Path)-1] {
		t.Errorf("cycle path %v should start and end with the same node", cyclic.Path)
	}
}

func TestResolve_SelfDependency(t *testing.T) {
	p := project(
		map[string]config.Container{"a": {Image: "a:1", DependsOn: []string{"a"}}},
		map[string]config.Task{"run": {Container: "a"}},
	)

	_, err := Resolve(p, "run")
	var cyclic *CyclicDependencyError
	if !errors.As(err, &cyclic) {
		t.Fatalf("Resolve() error = %v, want CyclicDependencyError", err)
	}
}

func TestResolve_UnknownDependency(t *testing.T) {
	p := project(
		map[string]config.Container{"app": {Image: "app:1", DependsOn: []string{"ghost"}}},
		map[string]config.Task{"run": {Container: "app"}},
	)

	_, err := Resolve(p, "run")
	var unknown *UnknownDependencyError
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve() error = %v, want UnknownDependencyError", err)
	}
	if unknown.From != "app" || unknown.Name != "ghost" {
		t.Errorf("UnknownDependencyError = %+v, want from app to ghost", unknown)
	}
}

func TestResolve_UnknownTask(t *testing.T) {
	p := project(
		map[string]config.Container{"app": {Image: "app:1"}},
		map[string]config.Task{"run": {Container: "app"}},
	)

	_, err := Resolve(p, "nope")
	var unknown *UnknownTaskError
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve() error = %v, want UnknownTaskError", err)
	}
}
