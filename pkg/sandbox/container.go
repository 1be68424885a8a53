package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// stopTimeout bounds a deferred stop that runs after the caller's context is
// gone.
const stopTimeout = 30 * time.Second

var errNotStarted = errors.New("sandbox container not started")

var _ Sandbox = (*ContainerSandbox)(nil)

// ContainerSandbox exposes one container of a ContainerRuntime through the
// orchestrator-facing Sandbox interface.
type ContainerSandbox struct {
	runtime ContainerRuntime
	cfg     SandboxConfig
	logger  *slog.Logger

	mu sync.Mutex
	id string
}

// NewContainerSandbox creates an unstarted sandbox. Call Init before use.
func NewContainerSandbox(rt ContainerRuntime, cfg SandboxConfig) *ContainerSandbox {
	return &ContainerSandbox{
		runtime: rt,
		cfg:     cfg,
		logger:  slog.With("session", cfg.SessionID),
	}
}

// Init creates and starts the backing container.
func (s *ContainerSandbox) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		return nil
	}
	id, err := s.runtime.Create(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.id = id
	s.logger.Info("Container sandbox ready", "container", id)
	return nil
}

// ID returns the container id, or "" before Init.
func (s *ContainerSandbox) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *ContainerSandbox) containerID() (string, error) {
	id := s.ID()
	if id == "" {
		return "", errNotStarted
	}
	return id, nil
}

func (s *ContainerSandbox) ExecuteCommand(ctx context.Context, command string) (*CommandResult, error) {
	id, err := s.containerID()
	if err != nil {
		return nil, err
	}
	return s.runtime.Exec(ctx, id, command)
}

func (s *ContainerSandbox) UploadFiles(ctx context.Context, files []FileUpload) error {
	id, err := s.containerID()
	if err != nil {
		return err
	}
	return s.runtime.UploadFiles(ctx, id, files)
}

func (s *ContainerSandbox) DownloadFiles(ctx context.Context, paths []string) ([]FileDownload, error) {
	id, err := s.containerID()
	if err != nil {
		return nil, err
	}
	return s.runtime.DownloadFiles(ctx, id, paths)
}

// URL returns the published dev-server URL.
func (s *ContainerSandbox) URL(ctx context.Context) (string, error) {
	id, err := s.containerID()
	if err != nil {
		return "", err
	}
	return s.runtime.URL(ctx, id)
}

func (s *ContainerSandbox) Stats(ctx context.Context) (*SandboxStats, error) {
	id, err := s.containerID()
	if err != nil {
		return nil, err
	}
	return s.runtime.Stats(ctx, id)
}

// Cleanup stops the container. With a positive delay the stop is scheduled
// in the background and errors are only logged.
func (s *ContainerSandbox) Cleanup(ctx context.Context, delay time.Duration) error {
	s.mu.Lock()
	id := s.id
	s.id = ""
	s.mu.Unlock()

	if id == "" {
		return nil
	}

	if delay <= 0 {
		return s.runtime.Stop(ctx, id)
	}

	s.logger.Debug("Scheduling container stop", "container", id, "delay", delay)
	time.AfterFunc(delay, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := s.runtime.Stop(stopCtx, id); err != nil {
			s.logger.Warn("Deferred container stop failed", "container", id, "error", err)
		}
	})
	return nil
}
