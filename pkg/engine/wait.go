package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

// Container states the engine reports for containers that will not come
// back on their own.
const (
	StateExited = "exited"
	StateDead   = "dead"

	HealthStarting = "starting"
)

var terminalStates = map[string]bool{
	StateExited: true,
	StateDead:   true,
}

// exitHints maps well-known container exit codes to human-readable hints.
var exitHints = map[int]string{
	125: "the engine could not run the container",
	126: "the container command is not executable",
	127: "the container command was not found in the image",
	137: "the container was killed, possibly for exceeding its memory limit",
	139: "the container process crashed with a segmentation fault",
}

// waitRunning polls the container every interval until it is running and
// its health check (if any) has left the starting state. A terminal state
// fails fast; the timeout yields a *sandbox.TimeoutError.
func waitRunning(ctx context.Context, eng Engine, id string, timeout, interval time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStatus string

	for {
		state, err := eng.Inspect(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			return fmt.Errorf("container %s disappeared while starting: %w", id, err)
		case err != nil:
			lastStatus = err.Error()
		case containerReady(state):
			return nil
		case terminalStates[state.Status]:
			return fmt.Errorf("container %s has terminal state: %s", id, stateError(state))
		default:
			lastStatus = stateError(state)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			te := &sandbox.TimeoutError{Op: "wait for container", ContainerID: id, After: timeout}
			if lastStatus != "" {
				return fmt.Errorf("%w: %s", te, lastStatus)
			}
			return te
		case <-ticker.C:
		}
	}
}

func containerReady(state *ContainerState) bool {
	return state.Running && state.Health != HealthStarting
}

// stateError renders the most useful description of a container state.
func stateError(state *ContainerState) string {
	detail := "status " + state.Status
	if state.Health != "" {
		detail += ", health " + state.Health
	}
	if terminalStates[state.Status] {
		detail += fmt.Sprintf(" (exit code %d)", state.ExitCode)
		if hint, ok := exitHints[state.ExitCode]; ok {
			detail += ": " + hint
		}
	}
	if state.Error != "" {
		detail += ": " + state.Error
	}
	return detail
}
