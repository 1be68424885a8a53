package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aroudaki/app-builder-sub001/pkg/identity"
	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

// Defaults for Config.
const (
	DefaultImage         = "node:20-bookworm-slim"
	DefaultWorkingDir    = "/app"
	DefaultDevPort       = 3000
	DefaultMemoryLimit   = 512 * 1024 * 1024
	DefaultCPUShares     = 512
	DefaultCPUQuota      = 50000
	DefaultCPUPeriod     = 100000
	DefaultPidsLimit     = 100
	DefaultReadyTimeout  = 30 * time.Second
	DefaultReadyInterval = 500 * time.Millisecond
	DefaultExecTimeout   = 5 * time.Minute
	DefaultStopTimeout   = 10 * time.Second
)

const (
	execPollInterval = 50 * time.Millisecond
	execExitTimeout  = 10 * time.Second
)

// Config controls how the Manager creates and drives containers.
type Config struct {
	// Host is the engine address; empty uses DOCKER_HOST or the local socket.
	Host   string
	Prefix string
	Image  string

	WorkingDir  string
	DevPort     int
	MemoryLimit int64
	CPUShares   int64
	CPUQuota    int64
	CPUPeriod   int64
	PidsLimit   int64

	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	ExecTimeout   time.Duration
	StopTimeout   time.Duration

	// PullImages pulls the image before create when it is not present locally.
	PullImages bool

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = identity.DefaultPrefix
	}
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.WorkingDir == "" {
		c.WorkingDir = DefaultWorkingDir
	}
	if c.DevPort == 0 {
		c.DevPort = DefaultDevPort
	}
	if c.MemoryLimit == 0 {
		c.MemoryLimit = DefaultMemoryLimit
	}
	if c.CPUShares == 0 {
		c.CPUShares = DefaultCPUShares
	}
	if c.CPUQuota == 0 {
		c.CPUQuota = DefaultCPUQuota
	}
	if c.CPUPeriod == 0 {
		c.CPUPeriod = DefaultCPUPeriod
	}
	if c.PidsLimit == 0 {
		c.PidsLimit = DefaultPidsLimit
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.ReadyInterval == 0 {
		c.ReadyInterval = DefaultReadyInterval
	}
	if c.ExecTimeout == 0 {
		c.ExecTimeout = DefaultExecTimeout
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager implements sandbox.ContainerRuntime over an Engine.
type Manager struct {
	cfg    Config
	eng    Engine
	logger *slog.Logger
}

var _ sandbox.ContainerRuntime = (*Manager)(nil)

// New connects to the Docker engine described by cfg and verifies it
// answers.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	eng, err := NewDockerEngine(cfg.Host)
	if err != nil {
		return nil, &sandbox.EngineError{Op: "connect", Code: sandbox.CodeEngineUnavailable, Err: err}
	}
	if err := eng.Ping(ctx); err != nil {
		_ = eng.Close()
		return nil, &sandbox.EngineError{Op: "connect", Code: sandbox.CodeEngineUnavailable, Err: err}
	}
	return NewWithEngine(cfg, eng), nil
}

// NewWithEngine builds a Manager on an existing Engine.
func NewWithEngine(cfg Config, eng Engine) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:    cfg,
		eng:    eng,
		logger: cfg.Logger.With("component", "engine"),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

func engineError(op string, code sandbox.ErrorCode, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		code = sandbox.CodeNotFound
	}
	return &sandbox.EngineError{Op: op, Code: code, ContainerID: id, Err: err}
}

// Create starts a fresh container for the session and waits until it runs.
// A same-named leftover container is removed first.
func (m *Manager) Create(ctx context.Context, sc sandbox.SandboxConfig) (string, error) {
	if err := identity.ValidateSessionID(sc.SessionID); err != nil {
		return "", err
	}
	name := identity.ContainerName(m.cfg.Prefix, sc.SessionID)
	logger := m.logger.With("session", sc.SessionID, "name", name)

	cfg, host, err := m.cfg.profile(sc)
	if err != nil {
		return "", engineError("create", sandbox.CodeCreateFailed, "", err)
	}

	if m.cfg.PullImages {
		if err := m.eng.EnsureImage(ctx, cfg.Image); err != nil {
			return "", engineError("pull image", sandbox.CodeCreateFailed, "", err)
		}
	}

	if err := m.eng.Remove(ctx, name); err == nil {
		logger.Info("Removed stale container")
	} else if !errors.Is(err, ErrNotFound) {
		return "", engineError("remove stale container", sandbox.CodeCreateFailed, name, err)
	}

	id, err := m.eng.Create(ctx, name, cfg, host)
	if err != nil {
		return "", engineError("create", sandbox.CodeCreateFailed, "", err)
	}
	logger = logger.With("container", shortID(id))

	if err := m.eng.Start(ctx, id); err != nil {
		m.discard(ctx, id, logger)
		return "", engineError("start", sandbox.CodeStartFailed, id, err)
	}

	if err := waitRunning(ctx, m.eng, id, m.cfg.ReadyTimeout, m.cfg.ReadyInterval); err != nil {
		m.discard(ctx, id, logger)
		if sandbox.IsTimeout(err) {
			return "", err
		}
		return "", engineError("start", sandbox.CodeStartFailed, id, err)
	}

	logger.Info("Container started", "image", cfg.Image)
	return id, nil
}

// discard removes a container that failed to come up.
func (m *Manager) discard(ctx context.Context, id string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StopTimeout)
	defer cancel()
	if err := m.eng.Remove(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Warn("Failed to remove container after failed start", "error", err)
	}
}

// Exec runs command through bash in the container's working directory and
// returns once the output stream has ended.
func (m *Manager) Exec(ctx context.Context, id, command string) (*sandbox.CommandResult, error) {
	start := time.Now()

	// An empty working dir runs in the container's own WorkingDir.
	stream, err := m.eng.ExecStart(ctx, id, []string{"bash", "-c", command}, "")
	if err != nil {
		return nil, engineError("exec", sandbox.CodeExecFailed, id, err)
	}
	defer stream.Conn.Close()

	stdout, stderr, err := Demux(ctx, stream.Conn, m.cfg.ExecTimeout)
	if err != nil {
		var te *sandbox.TimeoutError
		if errors.As(err, &te) {
			te.ContainerID = id
			return nil, te
		}
		return nil, engineError("exec", sandbox.CodeExecFailed, id, err)
	}

	code, err := m.waitExecDone(ctx, stream.ID)
	if err != nil {
		var te *sandbox.TimeoutError
		if errors.As(err, &te) {
			te.ContainerID = id
			return nil, te
		}
		return nil, engineError("exec inspect", sandbox.CodeExecFailed, id, err)
	}

	m.logger.Debug("Exec finished", "container", shortID(id), "exit", code)
	return &sandbox.CommandResult{
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   code,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// waitExecDone polls the exec until the engine stops reporting it as running.
// The attach stream can end slightly before the exit code is recorded.
func (m *Manager) waitExecDone(ctx context.Context, execID string) (int, error) {
	ticker := time.NewTicker(execPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(execExitTimeout)
	defer deadline.Stop()

	for {
		running, code, err := m.eng.ExecInspect(ctx, execID)
		if err != nil {
			return 0, err
		}
		if !running {
			return code, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, &sandbox.TimeoutError{Op: "exec exit code", After: execExitTimeout}
		case <-ticker.C:
		}
	}
}

// URL returns the host URL of the published dev-server port.
func (m *Manager) URL(ctx context.Context, id string) (string, error) {
	state, err := m.eng.Inspect(ctx, id)
	if err != nil {
		return "", engineError("url", sandbox.CodeInspectFailed, id, err)
	}
	port, err := m.cfg.devPort()
	if err != nil {
		return "", engineError("url", sandbox.CodePortNotMapped, id, err)
	}
	hostPort, ok := state.Ports[string(port)]
	if !ok || hostPort == "" {
		return "", engineError("url", sandbox.CodePortNotMapped, id, fmt.Errorf("port %s is not published", port))
	}
	return "http://localhost:" + hostPort, nil
}

func (m *Manager) Info(ctx context.Context, id string) (*sandbox.SandboxInfo, error) {
	state, err := m.eng.Inspect(ctx, id)
	if err != nil {
		return nil, engineError("inspect", sandbox.CodeInspectFailed, id, err)
	}
	info := m.info(*state)
	return &info, nil
}

func (m *Manager) info(state ContainerState) sandbox.SandboxInfo {
	sid := state.Labels[LabelSession]
	if sid == "" {
		sid, _ = identity.SessionFromName(m.cfg.Prefix, state.Name)
	}
	status := sandbox.Status(state.Status)
	if status == "" {
		status = sandbox.StatusUnknown
	}
	ports := state.Ports
	if ports == nil {
		ports = map[string]string{}
	}
	return sandbox.SandboxInfo{
		ID:        state.ID,
		Name:      state.Name,
		SessionID: sid,
		Status:    status,
		Running:   state.Running,
		Ports:     ports,
		CreatedAt: state.CreatedAt,
	}
}

// Stats returns a one-shot resource sample.
func (m *Manager) Stats(ctx context.Context, id string) (*sandbox.SandboxStats, error) {
	raw, err := m.eng.Stats(ctx, id)
	if err != nil {
		return nil, engineError("stats", sandbox.CodeStatsFailed, id, err)
	}
	return computeStats(raw), nil
}

// IsRunning reports false, without error, for a missing container.
func (m *Manager) IsRunning(ctx context.Context, id string) (bool, error) {
	state, err := m.eng.Inspect(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, engineError("inspect", sandbox.CodeInspectFailed, id, err)
	}
	return state.Running, nil
}

// Stop stops the container gracefully and removes it. A container that no
// longer exists is not an error.
func (m *Manager) Stop(ctx context.Context, id string) error {
	logger := m.logger.With("container", shortID(id))

	if err := m.eng.Stop(ctx, id, m.cfg.StopTimeout); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		logger.Warn("Graceful stop failed, forcing removal", "error", err)
	}
	if err := m.eng.Remove(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return engineError("stop", sandbox.CodeStopFailed, id, err)
	}
	logger.Info("Container stopped")
	return nil
}

// List returns every container carrying the managed label.
func (m *Manager) List(ctx context.Context) ([]sandbox.SandboxInfo, error) {
	states, err := m.eng.List(ctx, managedLabels())
	if err != nil {
		return nil, engineError("list", sandbox.CodeInspectFailed, "", err)
	}
	out := make([]sandbox.SandboxInfo, 0, len(states))
	for _, s := range states {
		out = append(out, m.info(s))
	}
	return out, nil
}

// Cleanup stops every managed container and reports all failures.
func (m *Manager) Cleanup(ctx context.Context) error {
	infos, err := m.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, info := range infos {
		if err := m.Stop(ctx, info.ID); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("Cleaned up containers", "count", len(infos), "failed", len(errs))
	return errors.Join(errs...)
}

// Close releases the engine connection.
func (m *Manager) Close() error {
	return m.eng.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
