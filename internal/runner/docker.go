package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"batchbridge/internal/apperrors"
)

// DockerConfig holds configuration for the Docker runner.
type DockerConfig struct {
	Image string   // scheduler client-tools image (required)
	Shell string   // shell inside the image (default /bin/sh)
	Binds []string // host mounts, e.g. shared scratch and script directories
}

// Docker runs each command in a fresh container from a scheduler
// client-tools image. Useful when the submit host has no scheduler CLI of
// its own and all access goes through a containerized client.
type Docker struct {
	client *client.Client
	image  string
	shell  string
	binds  []string
}

// NewDocker creates a Docker runner from the daemon settings in the
// environment.
func NewDocker(cfg DockerConfig) (*Docker, error) {
	if cfg.Image == "" {
		return nil, apperrors.Configuration("runner-image", "image is required for the docker runner")
	}
	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Docker{
		client: dockerClient,
		image:  cfg.Image,
		shell:  shell,
		binds:  cfg.Binds,
	}, nil
}

// Run creates, starts, and waits for a one-shot container executing the
// command. On timeout the container is killed and a TimedOut result is
// returned. The container is always removed.
func (d *Docker) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	created, err := d.client.ContainerCreate(ctx,
		&container.Config{
			Image:  d.image,
			Cmd:    []string{d.shell, "-c", command},
			Labels: map[string]string{"managed-by": "batchbridge"},
		},
		&container.HostConfig{
			Binds: d.binds,
		},
		nil, nil, "")
	if err != nil {
		return Result{}, apperrors.Internal("docker.create", err)
	}
	id := created.ID
	defer d.remove(id)

	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return Result{}, apperrors.Internal("docker.start", err)
	}

	waitCh, errCh := d.client.ContainerWait(runCtx, id, container.WaitConditionNotRunning)

	var exitCode int
	timedOut := false
	select {
	case resp := <-waitCh:
		exitCode = int(resp.StatusCode)
	case err := <-errCh:
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			timedOut = true
			// Kill with a fresh context; runCtx is already dead.
			killCtx, cancel := context.WithTimeout(context.Background(), killGrace)
			defer cancel()
			if killErr := d.client.ContainerKill(killCtx, id, "KILL"); killErr != nil {
				slog.Warn("Failed to kill timed out container", "container", id, "error", killErr)
			}
		} else {
			return Result{}, apperrors.Internal("docker.wait", err)
		}
	}

	stdout, stderr, truncated := d.collectLogs(id)
	return Result{
		ExitCode:  exitCode,
		Stdout:    stdout,
		Stderr:    stderr,
		TimedOut:  timedOut,
		Truncated: truncated,
	}, nil
}

// collectLogs demultiplexes the container's output streams into bounded
// buffers. Log retrieval failure degrades to empty output rather than
// failing the whole run.
func (d *Docker) collectLogs(id string) (string, string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reader, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		slog.Warn("Failed to read container logs", "container", id, "error", err)
		return "", "", false
	}
	defer reader.Close()

	stdout := newCapBuffer()
	stderr := newCapBuffer()
	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil {
		slog.Warn("Failed to demux container logs", "container", id, "error", err)
	}
	return stdout.String(), stderr.String(), stdout.truncated || stderr.truncated
}

func (d *Docker) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove container", "container", id, "error", err)
	}
}

// Ready verifies the Docker daemon is reachable.
func (d *Docker) Ready(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return apperrors.Internal("docker.ping", err)
	}
	return nil
}

// Close releases the Docker client.
func (d *Docker) Close() error {
	return d.client.Close()
}

var _ Runner = (*Docker)(nil)
