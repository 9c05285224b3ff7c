package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	compose "github.com/compose-spec/compose-go/v2/types"
)

const runAsCurrentUserExtension = "x-run-as-current-user"

// normalizeContainer extracts the fields we care about from a compose
// ServiceConfig into our Container model.
func normalizeContainer(name string, svc compose.ServiceConfig) (Container, error) {
	container := Container{
		Name:             name,
		Image:            strings.TrimSpace(svc.Image),
		Build:            normalizeBuild(svc.Build),
		Command:          normalizeStringSlice([]string(svc.Command)),
		Entrypoint:       normalizeStringSlice([]string(svc.Entrypoint)),
		WorkingDir:       strings.TrimSpace(svc.WorkingDir),
		Environment:      normalizeEnvironment(svc.Environment),
		Ports:            normalizePorts(svc.Ports),
		Mounts:           normalizeMounts(svc.Volumes),
		HealthCheck:      normalizeHealthCheck(svc.HealthCheck),
		RunAsCurrentUser: extensionBool(svc.Extensions, runAsCurrentUserExtension),
		DependsOn:        normalizeDependsOn(svc.DependsOn),
	}

	if container.Image == "" && container.Build == nil {
		return Container{}, fmt.Errorf("container %q has neither image nor build", name)
	}
	if container.Image != "" && container.Build != nil {
		return Container{}, fmt.Errorf("container %q has both image and build", name)
	}
	return container, nil
}

func normalizeBuild(build *compose.BuildConfig) *BuildSpec {
	if build == nil {
		return nil
	}
	spec := &BuildSpec{Context: strings.TrimSpace(build.Context)}
	if len(build.Args) > 0 {
		spec.Args = make(map[string]string, len(build.Args))
		for key, value := range build.Args {
			if value == nil {
				spec.Args[key] = ""
				continue
			}
			spec.Args[key] = *value
		}
	}
	return spec
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}

func normalizeEnvironment(env compose.MappingWithEquals) []string {
	if len(env) == 0 {
		return nil
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		value := ""
		if p := env[key]; p != nil {
			value = *p
		}
		out = append(out, key+"="+value)
	}
	return out
}

func normalizePorts(ports []compose.ServicePortConfig) []PortMapping {
	if len(ports) == 0 {
		return nil
	}

	out := make([]PortMapping, 0, len(ports))
	for _, p := range ports {
		protocol := strings.ToLower(strings.TrimSpace(p.Protocol))
		if protocol == "" {
			protocol = "tcp"
		}

		containerPort := uint16(0)
		if p.Target <= uint32(^uint16(0)) {
			containerPort = uint16(p.Target)
		}

		out = append(out, PortMapping{
			HostPort:      parsePublishedPort(p.Published),
			ContainerPort: containerPort,
			Protocol:      protocol,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ContainerPort != out[j].ContainerPort {
			return out[i].ContainerPort < out[j].ContainerPort
		}
		return out[i].HostPort < out[j].HostPort
	})
	return out
}

func parsePublishedPort(published string) uint16 {
	published = strings.TrimSpace(published)
	if published == "" {
		return 0
	}
	n, err := strconv.ParseUint(published, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}

func normalizeMounts(volumes []compose.ServiceVolumeConfig) []Mount {
	if len(volumes) == 0 {
		return nil
	}

	out := make([]Mount, 0, len(volumes))
	for _, v := range volumes {
		if strings.TrimSpace(v.Target) == "" {
			continue
		}
		out = append(out, Mount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

func normalizeHealthCheck(hc *compose.HealthCheckConfig) *HealthCheck {
	if hc == nil || hc.Disable {
		return nil
	}
	test := []string(hc.Test)
	if len(test) == 1 && strings.EqualFold(test[0], "NONE") {
		return nil
	}

	return &HealthCheck{
		Test:        normalizeStringSlice(test),
		Interval:    composeDuration(hc.Interval),
		Timeout:     composeDuration(hc.Timeout),
		Retries:     retriesValue(hc.Retries),
		StartPeriod: composeDuration(hc.StartPeriod),
	}
}

func composeDuration(d *compose.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(*d)
}

func retriesValue(retries *uint64) int {
	if retries == nil {
		return 0
	}
	return int(*retries)
}

func normalizeDependsOn(deps compose.DependsOnConfig) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, 0, len(deps))
	for name := range deps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func extensionBool(extensions compose.Extensions, key string) bool {
	if len(extensions) == 0 {
		return false
	}
	switch v := extensions[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}
