package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

type execReply struct {
	stdout string
	stderr string
	code   int
}

// fakeEngine is an in-memory Engine.
type fakeEngine struct {
	mu sync.Mutex

	containers map[string]*ContainerState
	created    []*container.Config
	hosts      []*container.HostConfig
	removed    []string
	stopped    []string
	commands   [][]string
	execCodes  map[string]int
	nextID     int

	// execBusy is how many inspects report an exec as still running.
	execBusy     int
	execInspects int

	// onExec answers exec requests; nil echoes success with no output.
	onExec func(cmd []string) execReply
	// startState overrides the state a container reaches after Start.
	startState func(n int) ContainerState
	inspects   int

	startErr error
	stopErr  error
	stats    *RawStats
	closed   bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		containers: make(map[string]*ContainerState),
		execCodes:  make(map[string]int),
	}
}

func (f *fakeEngine) Ping(context.Context) error { return nil }

func (f *fakeEngine) EnsureImage(context.Context, string) error { return nil }

func (f *fakeEngine) Create(_ context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%064d", f.nextID)
	f.created = append(f.created, cfg)
	f.hosts = append(f.hosts, host)
	f.containers[id] = &ContainerState{
		ID:        id,
		Name:      name,
		Status:    "created",
		Labels:    cfg.Labels,
		Ports:     map[string]string{},
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (f *fakeEngine) add(state ContainerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[state.ID] = &state
}

func (f *fakeEngine) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("%w: no such container %s", ErrNotFound, id)
	}
	c.Status = "running"
	c.Running = true
	c.Ports["3000/tcp"] = "49153"
	return nil
}

func (f *fakeEngine) Inspect(_ context.Context, id string) (*ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		for _, candidate := range f.containers {
			if candidate.Name == id {
				c, ok = candidate, true
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: no such container %s", ErrNotFound, id)
	}
	f.inspects++
	if f.startState != nil && c.Running {
		s := f.startState(f.inspects)
		s.ID, s.Name, s.Labels, s.Ports = c.ID, c.Name, c.Labels, c.Ports
		return &s, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeEngine) Stop(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("%w: no such container %s", ErrNotFound, id)
	}
	f.stopped = append(f.stopped, id)
	return f.stopErr
}

func (f *fakeEngine) Remove(_ context.Context, idOrName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.containers {
		if id == idOrName || c.Name == idOrName {
			delete(f.containers, id)
			f.removed = append(f.removed, idOrName)
			return nil
		}
	}
	return fmt.Errorf("%w: no such container %s", ErrNotFound, idOrName)
}

func (f *fakeEngine) List(_ context.Context, labels map[string]string) ([]ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerState
	for _, c := range f.containers {
		match := true
		for k, v := range labels {
			if c.Labels[k] != v {
				match = false
			}
		}
		if match {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeEngine) ExecStart(_ context.Context, id string, cmd []string, _ string) (*ExecStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return nil, fmt.Errorf("%w: no such container %s", ErrNotFound, id)
	}
	f.commands = append(f.commands, cmd)

	reply := execReply{}
	if f.onExec != nil {
		reply = f.onExec(cmd)
	}
	execID := fmt.Sprintf("exec-%d", len(f.commands))
	f.execCodes[execID] = reply.code
	return &ExecStream{ID: execID, Conn: io.NopCloser(frames(reply.stdout, reply.stderr))}, nil
}

func (f *fakeEngine) ExecInspect(_ context.Context, execID string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.execCodes[execID]
	if !ok {
		return false, 0, fmt.Errorf("%w: no such exec %s", ErrNotFound, execID)
	}
	f.execInspects++
	if f.execInspects <= f.execBusy {
		return true, 0, nil
	}
	return false, code, nil
}

func (f *fakeEngine) Stats(_ context.Context, id string) (*RawStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return nil, fmt.Errorf("%w: no such container %s", ErrNotFound, id)
	}
	return f.stats, nil
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

// scripts returns the bash scripts passed to exec so far.
func (f *fakeEngine) scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.commands))
	for _, c := range f.commands {
		out = append(out, c[len(c)-1])
	}
	return out
}

// frames encodes stdout and stderr the way the engine multiplexes them.
func frames(stdout, stderr string) *bytes.Buffer {
	var buf bytes.Buffer
	if stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout))
	}
	if stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr))
	}
	return &buf
}
