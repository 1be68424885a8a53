package e2e

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RunnerContainer runs the sandbox CLI once inside a Linux container and
// exits.
type RunnerContainer struct {
	Container testcontainers.Container
	buildCtx  string
}

// RunnerConfig configures the runner container.
type RunnerConfig struct {
	// Args are passed to the sandbox CLI.
	Args []string
	Env  map[string]string
}

// NewRunner builds the CLI into an image and runs it to completion.
// The caller is responsible for calling Terminate() when done.
func NewRunner(ctx context.Context, cfg RunnerConfig) (*RunnerContainer, error) {
	binaryPath, err := BuildSandbox()
	if err != nil {
		return nil, err
	}

	buildCtx, err := createBuildContext(binaryPath, "Dockerfile.runner")
	if err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}

	req := testcontainers.ContainerRequest{
		FromDockerfile: testcontainers.FromDockerfile{
			Context:    buildCtx,
			Dockerfile: "Dockerfile",
		},
		Cmd:        cfg.Args,
		Env:        cfg.Env,
		WaitingFor: wait.ForExit().WithExitTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		os.RemoveAll(buildCtx)
		return nil, fmt.Errorf("failed to start runner container: %w", err)
	}

	return &RunnerContainer{Container: container, buildCtx: buildCtx}, nil
}

// ExitCode returns the exit code of the finished CLI.
func (r *RunnerContainer) ExitCode(ctx context.Context) (int, error) {
	state, err := r.Container.State(ctx)
	if err != nil {
		return 0, err
	}
	return state.ExitCode, nil
}

// Logs returns the container output.
func (r *RunnerContainer) Logs(ctx context.Context) (string, error) {
	reader, err := r.Container.Logs(ctx)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Terminate removes the container and its build context.
func (r *RunnerContainer) Terminate(ctx context.Context) error {
	defer os.RemoveAll(r.buildCtx)
	if r.Container != nil {
		return r.Container.Terminate(ctx)
	}
	return nil
}

// createBuildContext creates a temporary directory with the binary and Dockerfile
func createBuildContext(binaryPath, dockerfileName string) (string, error) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return "", err
	}

	tmpDir, err := os.MkdirTemp("", "sandbox-docker-ctx-*")
	if err != nil {
		return "", err
	}

	if err := copyFile(binaryPath, filepath.Join(tmpDir, "sandbox")); err != nil {
		os.RemoveAll(tmpDir)
		return "", fmt.Errorf("failed to copy binary: %w", err)
	}

	srcDockerfile := filepath.Join(projectRoot, "e2e", dockerfileName)
	if err := copyFile(srcDockerfile, filepath.Join(tmpDir, "Dockerfile")); err != nil {
		os.RemoveAll(tmpDir)
		return "", fmt.Errorf("failed to copy Dockerfile: %w", err)
	}

	return tmpDir, nil
}

// copyFile copies a file from src to dst, keeping its mode.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, srcInfo.Mode())
}

// findProjectRoot finds the project root by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (go.mod)")
		}
		dir = parent
	}
}
