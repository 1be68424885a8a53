// Package sessions keeps one sandbox per session id for the lifetime of a
// process.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/aroudaki/app-builder-sub001/pkg/identity"
	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

// Constructor builds and initializes the sandbox for a session.
type Constructor func(ctx context.Context, sessionID string) (sandbox.Sandbox, error)

type entry struct {
	once sync.Once
	sb   sandbox.Sandbox
	err  error
}

// Registry lazily constructs sandboxes keyed by session id.
type Registry struct {
	entries    *xsync.MapOf[string, *entry]
	newSandbox Constructor
	delay      time.Duration
	logger     *slog.Logger
}

// NewRegistry creates a registry. Removed sandboxes are cleaned up after
// delay.
func NewRegistry(ctor Constructor, delay time.Duration) *Registry {
	return &Registry{
		entries:    xsync.NewMapOf[string, *entry](),
		newSandbox: ctor,
		delay:      delay,
		logger:     slog.With("component", "sessions"),
	}
}

// Get returns the sandbox for id, constructing it on first use. Concurrent
// callers for the same id share one construction. A failed construction is
// forgotten so the next Get retries.
func (r *Registry) Get(ctx context.Context, id string) (sandbox.Sandbox, error) {
	if err := identity.ValidateSessionID(id); err != nil {
		return nil, err
	}

	e, _ := r.entries.LoadOrCompute(id, func() *entry { return &entry{} })
	e.once.Do(func() {
		e.sb, e.err = r.newSandbox(ctx, id)
		if e.err != nil {
			e.err = fmt.Errorf("failed to create sandbox for session %s: %w", id, e.err)
			r.forget(id, e)
			return
		}
		r.logger.Info("Sandbox created", "session", id)
	})
	return e.sb, e.err
}

// forget drops id only while it still maps to e.
func (r *Registry) forget(id string, e *entry) {
	r.entries.Compute(id, func(old *entry, loaded bool) (*entry, bool) {
		return old, loaded && old == e
	})
}

// Remove tears down the sandbox for id after the registry's grace delay and
// forgets it at once. Unknown ids are a no-op.
func (r *Registry) Remove(ctx context.Context, id string) error {
	return r.remove(ctx, id, r.delay)
}

func (r *Registry) remove(ctx context.Context, id string, delay time.Duration) error {
	e, ok := r.entries.LoadAndDelete(id)
	if !ok {
		return nil
	}
	// Wait for an in-flight construction to settle.
	e.once.Do(func() {})
	if e.sb == nil {
		return nil
	}
	if err := e.sb.Cleanup(ctx, delay); err != nil {
		return fmt.Errorf("failed to clean up session %s: %w", id, err)
	}
	r.logger.Info("Sandbox removed", "session", id, "delay", delay)
	return nil
}

// Cleanup removes every sandbox immediately, ignoring the grace delay since
// it runs at process shutdown, and reports all failures.
func (r *Registry) Cleanup(ctx context.Context) error {
	var errs []error
	for _, id := range r.IDs() {
		if err := r.remove(ctx, id, 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	return r.entries.Size()
}

// IDs returns the tracked session ids in sorted order.
func (r *Registry) IDs() []string {
	var ids []string
	r.entries.Range(func(id string, _ *entry) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}
