package deploy

import (
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
)

// DockerRuntime runs each deployed component as a container named
// "component-<id>".
type DockerRuntime struct {
	cli     *client.Client
	lg      zerolog.Logger
	network string
}

// NewDockerRuntime connects to the docker daemon configured in the
// environment. network, if set, is joined by every started container.
func NewDockerRuntime(network string, lg zerolog.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerRuntime{
		cli:     cli,
		lg:      lg.With().Str("runtime", KindDocker).Logger(),
		network: network,
	}, nil
}

// ContainerName returns the container name used for a component.
func ContainerName(componentID string) string {
	return "component-" + componentID
}

func (r *DockerRuntime) Start(ctx context.Context, spec Spec) (string, error) {
	if spec.Image == "" {
		return "", ErrNoImage
	}
	name := ContainerName(spec.ComponentID)

	_ = r.cli.ContainerRemove(ctx, name,
		types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})

	if err := r.ensureImage(ctx, spec.Image); err != nil {
		return "", err
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image: spec.Image,
		Env:   spec.Env(),
		Labels: map[string]string{
			"envmodel.component": spec.ComponentID,
			"envmodel.category":  spec.Category,
		},
	}, nil, nil, nil, name)
	if err != nil {
		return "", err
	}

	if r.network != "" {
		if err := r.cli.NetworkConnect(ctx, r.network, resp.ID, nil); err != nil {
			r.lg.Warn().Err(err).Str("network", r.network).Msg("connect component to network")
		}
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", err
	}

	r.lg.Info().Str("container", name).Str("image", spec.Image).Msg("component started")
	return resp.ID, nil
}

// Stop removes the container, stopping it first. A missing container is
// treated as already stopped.
func (r *DockerRuntime) Stop(ctx context.Context, ref string) error {
	err := r.cli.ContainerRemove(ctx, ref, types.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && client.IsErrNotFound(err) {
		r.lg.Warn().Str("container", ref).Msg("container not found, assuming it's already removed")
		return nil
	}
	if err == nil {
		r.lg.Info().Str("container", ref).Msg("component stopped")
	}
	return err
}

func (r *DockerRuntime) ensureImage(ctx context.Context, img string) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return err
	}
	rc, err := r.cli.ImagePull(ctx, img, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Close releases the docker client.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}
