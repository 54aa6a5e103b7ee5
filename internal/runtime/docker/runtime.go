package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
)

// StartSpec describes a workload to create and start.
type StartSpec struct {
	Name  string
	Image string
	Env   []string
	Ports []domain.PortMapping
}

// Start creates and starts a container publishing the allocated host ports
// and returns the runtime handle. A missing local image triggers a single
// pull-and-retry before the create is abandoned.
func (c *Client) Start(ctx context.Context, spec StartSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("%w: container name required", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(spec.Image) == "" {
		return "", fmt.Errorf("%w: image required", domain.ErrInvalidRequest)
	}

	exposed, bindings, err := portConfig(spec.Ports)
	if err != nil {
		return "", err
	}
	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{PortBindings: bindings}

	created, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if errdefs.IsNotFound(err) {
		if pullErr := c.pull(ctx, spec.Image); pullErr != nil {
			return "", pullErr
		}
		created, err = c.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	}
	if err != nil {
		return "", mapRuntimeError(err, "container create", domain.ErrImageNotFound)
	}

	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// The container never ran; drop it so a retry can reuse the name.
		_ = c.Remove(context.WithoutCancel(ctx), created.ID, true)
		return "", mapRuntimeError(err, "container start", domain.ErrRuntimeUnavailable)
	}
	return created.ID, nil
}

// Stop halts a running container. A container the daemon no longer knows
// about is already stopped, which is the state the caller asked for.
func (c *Client) Stop(ctx context.Context, handle string) error {
	err := c.inner.ContainerStop(ctx, handle, container.StopOptions{})
	if err == nil || errdefs.IsNotFound(err) {
		return nil
	}
	return mapRuntimeError(err, "container stop", domain.ErrRuntimeUnavailable)
}

// StartExisting resumes a previously stopped container.
func (c *Client) StartExisting(ctx context.Context, handle string) error {
	if err := c.inner.ContainerStart(ctx, handle, container.StartOptions{}); err != nil {
		return mapRuntimeError(err, "container start", domain.ErrRuntimeUnavailable)
	}
	return nil
}

// Remove deletes a container. The daemon reporting it already absent is
// success; the job here is converging state, not arguing about history.
func (c *Client) Remove(ctx context.Context, handle string, force bool) error {
	err := c.inner.ContainerRemove(ctx, handle, container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err == nil || errdefs.IsNotFound(err) {
		return nil
	}
	return mapRuntimeError(err, "container remove", domain.ErrRuntimeUnavailable)
}

// Inspect reports the daemon's view of the container state.
func (c *Client) Inspect(ctx context.Context, handle string) (string, error) {
	info, err := c.inner.ContainerInspect(ctx, handle)
	if err != nil {
		return "", mapRuntimeError(err, "container inspect", domain.ErrRuntimeUnavailable)
	}
	if info.State == nil {
		return "", nil
	}
	return info.State.Status, nil
}

// Logs returns the last tail lines of combined stdout/stderr output.
func (c *Client) Logs(ctx context.Context, handle string, tail int) (string, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	reader, err := c.inner.ContainerLogs(ctx, handle, opts)
	if err != nil {
		return "", mapRuntimeError(err, "container logs", domain.ErrRuntimeUnavailable)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}
	return buf.String(), nil
}

func (c *Client) pull(ctx context.Context, ref string) error {
	reader, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return mapRuntimeError(err, "image pull", domain.ErrImageNotFound)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("drain image pull: %w", err)
	}
	return nil
}

func portConfig(mappings []domain.PortMapping) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, m := range mappings {
		proto := strings.ToLower(m.Protocol)
		if proto == "" {
			proto = "tcp"
		}
		if proto != "tcp" && proto != "udp" {
			return nil, nil, fmt.Errorf("%w: unsupported protocol %q", domain.ErrInvalidRequest, m.Protocol)
		}
		port, err := nat.NewPort(proto, strconv.Itoa(m.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: port mapping %d/%s: %v", domain.ErrInvalidRequest, m.ContainerPort, proto, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostPort: strconv.Itoa(m.HostPort)}}
	}
	return exposed, bindings, nil
}
