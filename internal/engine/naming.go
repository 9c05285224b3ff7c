package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// tagNamespace seeds the deterministic image tags. Stable across runs so
// rebuilds of the same (project, container) pair reuse one tag.
var tagNamespace = uuid.MustParse("6f05acb6-77ae-4f39-bdb2-c8a188bb0ea1")

// SyntheticImageTag derives the stable tag a built container image gets.
func SyntheticImageTag(projectName, containerName string) string {
	id := uuid.NewSHA1(tagNamespace, []byte(projectName+"/"+containerName))
	return fmt.Sprintf("dockhand-%s-%s:%s", sanitizeName(projectName), sanitizeName(containerName), id)
}

// RunID returns a fresh identifier naming one task run's resources.
func RunID() string {
	return uuid.NewString()
}

// NetworkName names the per-run bridge network.
func NetworkName(runID string) string {
	return "dockhand-" + runID
}

// RuntimeContainerName names a container for one run.
func RuntimeContainerName(projectName, containerName, runID string) string {
	return fmt.Sprintf("dockhand-%s-%s-%s", sanitizeName(projectName), sanitizeName(containerName), runID)
}

func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return sb.String()
}
