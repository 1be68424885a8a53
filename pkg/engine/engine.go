// Package engine implements sandbox.ContainerRuntime on top of a container
// engine. The Docker Engine API is reached through the narrow Engine
// interface so the manager can be exercised without a daemon.
package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
)

// ErrNotFound is wrapped by Engine implementations when a container, exec
// or image does not exist.
var ErrNotFound = errors.New("not found")

// ContainerState is the subset of inspect/list data the manager uses.
type ContainerState struct {
	ID        string
	Name      string
	Status    string // created, running, exited, dead, ...
	Running   bool
	Health    string // "", starting, healthy, unhealthy
	ExitCode  int
	Error     string
	Labels    map[string]string
	Ports     map[string]string // "3000/tcp" -> host port
	CreatedAt time.Time
}

// ExecStream is an attached exec session. Conn carries the multiplexed
// stdout/stderr frames.
type ExecStream struct {
	ID   string
	Conn io.ReadCloser
}

// RawStats holds the counters of one engine stats sample.
type RawStats struct {
	CPUTotal    uint64
	PreCPUTotal uint64
	System      uint64
	PreSystem   uint64
	OnlineCPUs  uint32
	PerCPUCount int
	MemUsage    uint64
	MemLimit    uint64
	Networks    map[string]NetCounters
	Read        time.Time
}

type NetCounters struct {
	RxBytes uint64
	TxBytes uint64
}

// Engine is the container-engine surface the Manager depends on.
type Engine interface {
	Ping(ctx context.Context) error
	EnsureImage(ctx context.Context, ref string) error
	Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error)
	Start(ctx context.Context, id string) error
	Inspect(ctx context.Context, id string) (*ContainerState, error)
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context, labels map[string]string) ([]ContainerState, error)
	ExecStart(ctx context.Context, id string, cmd []string, workDir string) (*ExecStream, error)
	ExecInspect(ctx context.Context, execID string) (running bool, exitCode int, err error)
	Stats(ctx context.Context, id string) (*RawStats, error)
	Close() error
}
