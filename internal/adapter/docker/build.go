package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"dockhand/internal/engine"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/moby/go-archive"
)

const builtImagePrefix = "Successfully built "

// buildMessage is the subset of the builder's JSON stream we care about.
type buildMessage struct {
	Stream string `json:"stream"`
	Error  string `json:"error"`
}

func (r *Runtime) BuildImage(ctx context.Context, req engine.BuildImageRequest, onLine func(line string)) (string, error) {
	buildContext, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("prepare build context %q: %w", req.ContextDir, err)
	}
	defer buildContext.Close()

	args := make(map[string]*string, len(req.Args))
	for key, value := range req.Args {
		v := value
		args[key] = &v
	}

	resp, err := r.cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:      []string{req.Tag},
		BuildArgs: args,
		Remove:    true,
	})
	if err != nil {
		return "", fmt.Errorf("build image %q: %w", req.Tag, err)
	}
	defer resp.Body.Close()

	imageID := ""
	decoder := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("read build output for %q: %w", req.Tag, err)
		}
		if msg.Error != "" {
			return "", fmt.Errorf("build image %q: %s", req.Tag, strings.TrimSpace(msg.Error))
		}
		for _, line := range strings.Split(msg.Stream, "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			if rest, ok := strings.CutPrefix(line, builtImagePrefix); ok {
				imageID = strings.TrimSpace(rest)
			}
			if onLine != nil {
				onLine(line)
			}
		}
	}

	if imageID == "" {
		imageID = req.Tag
	}
	return imageID, nil
}

func (r *Runtime) PullImageIfMissing(ctx context.Context, ref string) error {
	list, err := r.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return fmt.Errorf("look up image %q: %w", ref, err)
	}
	if len(list) > 0 {
		return nil
	}

	pull, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	_, _ = io.Copy(io.Discard, pull)
	_ = pull.Close()
	return nil
}
