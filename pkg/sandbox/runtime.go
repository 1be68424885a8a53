// Package sandbox defines the contracts shared by every sandbox backend: the
// orchestrator-facing Sandbox, the ContainerRuntime a container engine must
// implement, the data exchanged with them, and the factory that selects a
// runtime by name.
package sandbox

import (
	"context"
	"time"
)

// Sandbox is the surface the orchestrator drives for one session. Swapping
// the virtual terminal for a container-backed sandbox is transparent here.
type Sandbox interface {
	ExecuteCommand(ctx context.Context, command string) (*CommandResult, error)
	UploadFiles(ctx context.Context, files []FileUpload) error
	DownloadFiles(ctx context.Context, paths []string) ([]FileDownload, error)
	// Cleanup releases the sandbox. Resources are removed after delay; a
	// non-positive delay removes them before returning.
	Cleanup(ctx context.Context, delay time.Duration) error
}

// ContainerRuntime is implemented by container-engine backends.
type ContainerRuntime interface {
	Create(ctx context.Context, cfg SandboxConfig) (string, error)
	Exec(ctx context.Context, id, command string) (*CommandResult, error)
	// URL returns the host URL of the container's dev-server port.
	URL(ctx context.Context, id string) (string, error)
	UploadFiles(ctx context.Context, id string, files []FileUpload) error
	DownloadFiles(ctx context.Context, id string, paths []string) ([]FileDownload, error)
	Info(ctx context.Context, id string) (*SandboxInfo, error)
	Stats(ctx context.Context, id string) (*SandboxStats, error)
	IsRunning(ctx context.Context, id string) (bool, error)
	Stop(ctx context.Context, id string) error
	List(ctx context.Context) ([]SandboxInfo, error)
	// Cleanup stops every container this runtime manages.
	Cleanup(ctx context.Context) error
}
