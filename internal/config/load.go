// Package config loads and validates dockhand.yaml project files.
//
// The top level of the file is parsed with yaml.v3. The containers section
// uses Compose service syntax and is handed to the compose-go loader, then
// normalized into our own Container model.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	compose "github.com/compose-spec/compose-go/v2/types"
	shellwords "github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is the project file looked up when no --config flag is given.
const DefaultFilename = "dockhand.yaml"

type rawProject struct {
	Project         string             `yaml:"project"`
	ForwardProxyEnv bool               `yaml:"forward_proxy_env"`
	Containers      yaml.Node          `yaml:"containers"`
	Tasks           map[string]rawTask `yaml:"tasks"`
}

type rawTask struct {
	Description  string    `yaml:"description"`
	Container    string    `yaml:"container"`
	Command      yaml.Node `yaml:"command"`
	Dependencies []string  `yaml:"dependencies"`
}

// Load reads and parses the project file at path.
func Load(ctx context.Context, path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}

	return Parse(ctx, data, dir)
}

// Parse parses project file content. dir is the directory the file lives in;
// it anchors relative build contexts and bind-mount sources and names the
// project when the file does not.
func Parse(ctx context.Context, data []byte, dir string) (*Project, error) {
	var raw rawProject
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse project file: %w", err)
	}

	name := strings.TrimSpace(raw.Project)
	if name == "" {
		name = filepath.Base(dir)
	}

	if raw.Containers.IsZero() {
		return nil, fmt.Errorf("project file defines no containers")
	}
	if len(raw.Tasks) == 0 {
		return nil, fmt.Errorf("project file defines no tasks")
	}

	containers, err := loadContainers(ctx, &raw.Containers, name, dir)
	if err != nil {
		return nil, err
	}

	tasks := make(map[string]Task, len(raw.Tasks))
	for taskName, rt := range raw.Tasks {
		task, err := normalizeTask(taskName, rt, containers)
		if err != nil {
			return nil, err
		}
		tasks[taskName] = task
	}

	return &Project{
		Name:            name,
		ForwardProxyEnv: raw.ForwardProxyEnv,
		Containers:      containers,
		Tasks:           tasks,
	}, nil
}

// loadContainers re-marshals the containers node as a Compose document and
// runs it through the compose-go loader.
func loadContainers(ctx context.Context, node *yaml.Node, projectName, dir string) (map[string]Container, error) {
	doc := struct {
		Name     string     `yaml:"name"`
		Services *yaml.Node `yaml:"services"`
	}{Name: projectName, Services: node}

	composeData, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal containers section: %w", err)
	}

	configDetails := compose.ConfigDetails{
		WorkingDir: dir,
		ConfigFiles: []compose.ConfigFile{
			{Filename: DefaultFilename, Content: composeData},
		},
	}

	project, err := loader.LoadWithContext(ctx, configDetails)
	if err != nil {
		return nil, fmt.Errorf("parse containers section: %w", err)
	}

	containers := make(map[string]Container, len(project.Services))
	for _, svc := range project.Services {
		container, err := normalizeContainer(svc.Name, svc)
		if err != nil {
			return nil, err
		}
		containers[svc.Name] = container
	}
	return containers, nil
}

func normalizeTask(name string, rt rawTask, containers map[string]Container) (Task, error) {
	container := strings.TrimSpace(rt.Container)
	if container == "" {
		return Task{}, fmt.Errorf("task %q names no container", name)
	}
	if _, ok := containers[container]; !ok {
		return Task{}, fmt.Errorf("task %q runs in unknown container %q", name, container)
	}
	for _, dep := range rt.Dependencies {
		if _, ok := containers[dep]; !ok {
			return Task{}, fmt.Errorf("task %q depends on unknown container %q", name, dep)
		}
	}

	command, err := commandList(&rt.Command)
	if err != nil {
		return Task{}, fmt.Errorf("task %q: %w", name, err)
	}

	return Task{
		Name:         name,
		Description:  strings.TrimSpace(rt.Description),
		Container:    container,
		Command:      command,
		Dependencies: append([]string(nil), rt.Dependencies...),
	}, nil
}

// commandList accepts either a shell-style string or a YAML list.
func commandList(node *yaml.Node) ([]string, error) {
	if node.IsZero() {
		return nil, nil
	}

	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, fmt.Errorf("parse command: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		parts, err := shellwords.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse command %q: %w", s, err)
		}
		return parts, nil
	case yaml.SequenceNode:
		var parts []string
		if err := node.Decode(&parts); err != nil {
			return nil, fmt.Errorf("parse command list: %w", err)
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("command must be a string or a list")
	}
}
