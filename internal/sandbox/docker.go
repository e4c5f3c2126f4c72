package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// containerWorkspace is the fixed mount point a channel's directory is bind
// mounted at inside its sandbox container.
const containerWorkspace = "/workspace"

// DockerExecutor routes command execution through `docker exec` against an
// already-running, named container. hostRoot is the host directory bind
// mounted at containerWorkspace inside that container, used to translate
// paths the agent reports back (e.g. an attachment a bash command wrote)
// into paths mom itself can open.
type DockerExecutor struct {
	ContainerName string
	HostRoot      string
	GracePeriod   time.Duration

	MaxOutputBytes int
}

func NewDockerExecutor(containerName, hostRoot string) *DockerExecutor {
	return &DockerExecutor{ContainerName: containerName, HostRoot: hostRoot, GracePeriod: 5 * time.Second}
}

func (d *DockerExecutor) ID() string { return d.ContainerName }
func (d *DockerExecutor) Kind() Kind { return KindDocker }

func (d *DockerExecutor) WorkspacePath(hostDir string) string {
	rel, err := filepath.Rel(d.HostRoot, hostDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return containerWorkspace
	}
	if rel == "." {
		return containerWorkspace
	}
	return filepath.Join(containerWorkspace, rel)
}

func (d *DockerExecutor) TranslatePath(backendPath string) (string, error) {
	rel, err := filepath.Rel(containerWorkspace, backendPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("sandbox(docker): path %q escapes %s", backendPath, containerWorkspace)
	}
	return filepath.Join(d.HostRoot, rel), nil
}

// Validate probes that the container is up and `sh` is reachable in it.
func (d *DockerExecutor) Validate(ctx context.Context) error {
	res, err := d.Exec(ctx, []string{"sh", "-c", "true"}, containerWorkspace, Options{})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return wrapExit(KindDocker, d.ID(), fmt.Errorf("%w: container probe exited %d", ErrIOError, res.ExitCode))
	}
	return nil
}

// ReadFile, WriteFile, EditFile, PathExists, StatFile, and ListDir all
// operate on absPath as a host-side path under d.HostRoot — the same
// bind-mounted tree the container sees at containerWorkspace — rather
// than reaching into the container via `docker exec`. A backend that
// doesn't bind-mount (purely copy-in/copy-out via `docker cp`) would need
// its own implementation of these; this core only ever runs against a
// bind-mounted container, per Validate's own probe and WorkspacePath's
// contract.

func (d *DockerExecutor) ReadFile(ctx context.Context, absPath string) ([]byte, error) {
	return localReadFile(KindDocker, d.ID(), absPath)
}

func (d *DockerExecutor) WriteFile(ctx context.Context, absPath string, data []byte) error {
	return localWriteFile(KindDocker, d.ID(), absPath, data)
}

func (d *DockerExecutor) EditFile(ctx context.Context, absPath, oldSlice, newSlice string, expectUnique bool) error {
	return localEditFile(KindDocker, d.ID(), absPath, oldSlice, newSlice, expectUnique)
}

func (d *DockerExecutor) PathExists(ctx context.Context, absPath string) (bool, error) {
	return localPathExists(absPath)
}

func (d *DockerExecutor) StatFile(ctx context.Context, absPath string) (FileInfo, error) {
	return localStatFile(KindDocker, d.ID(), absPath)
}

func (d *DockerExecutor) ListDir(ctx context.Context, absPath string) ([]DirEntry, error) {
	return localListDir(KindDocker, d.ID(), absPath)
}

func (d *DockerExecutor) Exec(ctx context.Context, cmd []string, cwd string, opts Options) (*Result, error) {
	if len(cmd) == 0 {
		return nil, wrapExit(KindDocker, d.ID(), fmt.Errorf("%w: empty command", ErrIOError))
	}

	args := []string{"exec", "-i", "-w", cwd, d.ContainerName}
	args = append(args, cmd...)

	start := time.Now()
	c := exec.CommandContext(ctx, "docker", args...)
	c.Cancel = func() error { return c.Process.Kill() } // docker exec has no in-container signal relay
	c.WaitDelay = d.GracePeriod

	stdout := newTailBuffer(d.MaxOutputBytes)
	stderr := newTailBuffer(d.MaxOutputBytes)
	c.Stdout = stdout
	c.Stderr = stderr

	runErr := c.Run()

	result := &Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Truncated:  stdout.truncated || stderr.truncated,
		DurationMS: time.Since(start).Milliseconds(),
	}

	if runErr == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if asExitError(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	if ctx.Err() != nil {
		return result, fmt.Errorf("sandbox(docker): command cancelled: %w", ctx.Err())
	}
	if strings.Contains(runErr.Error(), "executable file not found") {
		return nil, wrapExit(KindDocker, d.ID(), fmt.Errorf("%w: docker binary not found", ErrNotFound))
	}
	if strings.Contains(runErr.Error(), "No such container") {
		return nil, wrapExit(KindDocker, d.ID(), fmt.Errorf("%w: container not running", ErrNotFound))
	}
	return result, wrapExit(KindDocker, d.ID(), fmt.Errorf("%w: %v", ErrIOError, runErr))
}
