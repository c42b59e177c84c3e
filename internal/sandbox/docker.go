package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// DockerRuntime implements Runtime against a local Docker daemon.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the Docker daemon using the environment's
// standard DOCKER_HOST configuration.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return nil
}

func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

func (r *DockerRuntime) ImageExists(ctx context.Context, tag string) (bool, error) {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, tag)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting image %s: %w", tag, err)
	}
	return true, nil
}

func (r *DockerRuntime) BuildImage(ctx context.Context, dockerfile string, tag string, contextFiles map[string][]byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	header := &tar.Header{Name: "Dockerfile", Mode: 0644, Size: int64(len(dockerfile))}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write([]byte(dockerfile)); err != nil {
		return fmt.Errorf("writing dockerfile to tar: %w", err)
	}

	for name, content := range contextFiles {
		h := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(h); err != nil {
			return fmt.Errorf("writing tar header for %s: %w", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			return fmt.Errorf("writing %s to tar: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar writer: %w", err)
	}

	resp, err := r.cli.ImageBuild(ctx, &buf, build.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("building image %s: %w", tag, err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("reading build output: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("build error: %s", msg.Error)
		}
	}
	return nil
}

func (r *DockerRuntime) CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	if err := r.ensureImage(ctx, cfg.Image); err != nil {
		return "", err
	}

	networkMode := container.NetworkMode("bridge")
	if cfg.NetworkDisabled {
		networkMode = "none"
	}

	var memoryBytes int64
	if cfg.MemoryMB > 0 {
		memoryBytes = int64(cfg.MemoryMB) * 1024 * 1024
	}
	var cpuQuota, cpuPeriod int64
	if cfg.CPUs > 0 {
		cpuPeriod = 100000
		cpuQuota = int64(cfg.CPUs) * cpuPeriod
	}

	var exposedPorts nat.PortSet
	var portBindings nat.PortMap
	if cfg.DiagnosticsPort > 0 {
		port, err := nat.NewPort("tcp", fmt.Sprintf("%d", cfg.DiagnosticsPort))
		if err != nil {
			return "", fmt.Errorf("parsing diagnostics port: %w", err)
		}
		exposedPorts = nat.PortSet{port: struct{}{}}
		// Bind to loopback only and let the kernel pick the host side; the
		// diagnostics listener is reached through `docker port`, never a
		// fixed host port, so concurrent attempts never collide.
		portBindings = nat.PortMap{port: []nat.PortBinding{{HostIP: "127.0.0.1"}}}
	}

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        cfg.Image,
			Cmd:          cfg.Cmd,
			WorkingDir:   cfg.WorkingDir,
			Env:          cfg.Env,
			ExposedPorts: exposedPorts,
		},
		&container.HostConfig{
			NetworkMode:  networkMode,
			PortBindings: portBindings,
			Resources: container.Resources{
				Memory:    memoryBytes,
				CPUQuota:  cpuQuota,
				CPUPeriod: cpuPeriod,
			},
		},
		nil, nil, cfg.Name,
	)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("stopping container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) ContainerLogsAll(ctx context.Context, id string) ([]byte, error) {
	reader, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("getting container logs: %w", err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return nil, fmt.Errorf("demuxing logs: %w", err)
	}
	return append(stdout.Bytes(), stderr.Bytes()...), nil
}

// Exec runs a command inside the container via ContainerExecCreate/Attach/Inspect,
// streaming opts.Stdin first (if set) and always reading output to completion
// before inspecting the exit code.
func (r *DockerRuntime) Exec(ctx context.Context, containerID string, opts ExecOptions) (ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          opts.Cmd,
		User:         opts.User,
		WorkingDir:   opts.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  opts.Stdin != nil,
	}

	created, err := r.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("creating exec: %w", err)
	}

	attached, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attaching exec: %w", err)
	}
	defer attached.Close()

	if opts.Stdin != nil {
		go func() {
			io.Copy(attached.Conn, opts.Stdin)
			attached.CloseWrite()
		}()
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil && err != io.EOF {
		return ExecResult{}, fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("inspecting exec: %w", err)
	}

	return ExecResult{
		Stdout:   truncate(stdout.String(), execStdoutLimit),
		Stderr:   truncate(stderr.String(), execStderrLimit),
		ExitCode: inspect.ExitCode,
	}, nil
}

// truncate keeps the first limit bytes of s.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// CommitContainer snapshots a running container into a new image tag,
// mirroring "docker commit" so debug sessions can clone sandbox state
// without ever mutating the live container.
func (r *DockerRuntime) CommitContainer(ctx context.Context, containerID, tag string) error {
	_, err := r.cli.ContainerCommit(ctx, containerID, container.CommitOptions{Reference: tag})
	if err != nil {
		return fmt.Errorf("committing container %s to %s: %w", containerID, tag, err)
	}
	return nil
}

// RemoveImage removes an image by tag, ignoring "not found".
func (r *DockerRuntime) RemoveImage(ctx context.Context, tag string) error {
	if _, err := r.cli.ImageRemove(ctx, tag, image.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("removing image %s: %w", tag, err)
	}
	return nil
}

func (r *DockerRuntime) ensureImage(ctx context.Context, imageName string) error {
	exists, err := r.ImageExists(ctx, imageName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	reader, err := r.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}
