package process

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
)

var (
	ErrNoProcess      = errors.New("no such process")
	ErrAlreadyRunning = errors.New("process already running")
)

// Registry maps logical names to background process handles. Handles are
// forgotten when their process exits or is killed.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles: make(map[string]*Handle),
		logger:  logger,
	}
}

// Start spawns a process and tracks it under opts.Name. Starting a name that
// is still running returns the existing handle with ErrAlreadyRunning.
func (r *Registry) Start(opts StartOptions) (*Handle, error) {
	if opts.Name == "" {
		return nil, errors.New("process name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[opts.Name]; ok && !h.HasExited() {
		return h, ErrAlreadyRunning
	}

	h, err := start(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", opts.Name, err)
	}
	r.handles[opts.Name] = h
	r.logger.Info("Started background process", "name", h.Name, "pid", h.PID, "command", h.CommandLine())

	go func() {
		<-h.Done()
		r.forget(h)
		r.logger.Info("Background process exited", "name", h.Name, "pid", h.PID, "status", h.Status())
	}()
	return h, nil
}

func (r *Registry) forget(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[h.Name]; ok && cur == h {
		delete(r.handles, h.Name)
	}
}

// Get returns the handle tracked under name.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	return h, ok
}

// Lookup resolves a logical name or a numeric pid.
func (r *Registry) Lookup(nameOrPID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[nameOrPID]; ok {
		return h, true
	}
	pid, err := strconv.Atoi(nameOrPID)
	if err != nil {
		return nil, false
	}
	for _, h := range r.handles {
		if h.PID == pid {
			return h, true
		}
	}
	return nil, false
}

// List returns tracked handles, oldest first.
func (r *Registry) List() []*Handle {
	r.mu.Lock()
	list := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		list = append(list, h)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
	return list
}

// Kill stops the process named (or with pid) nameOrPID and forgets it.
func (r *Registry) Kill(nameOrPID string, force bool) error {
	h, ok := r.Lookup(nameOrPID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProcess, nameOrPID)
	}
	r.forget(h)
	return h.Stop(force)
}

// KillAll stops every tracked process.
func (r *Registry) KillAll() error {
	var errs []error
	for _, h := range r.List() {
		r.forget(h)
		if err := h.Stop(false); err != nil {
			r.logger.Warn("Failed to stop background process", "name", h.Name, "pid", h.PID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
