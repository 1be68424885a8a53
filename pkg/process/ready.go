package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aroudaki/app-builder-sub001/pkg/netutil"
)

var (
	ErrNotReady = errors.New("process did not become ready")
	ErrExited   = errors.New("process exited before becoming ready")
)

// DefaultReadyMarkers are matched case-insensitively, as whole words, against
// process output.
var DefaultReadyMarkers = []string{
	"ready",
	"local:",
	"listening",
	"compiled successfully",
	"started server",
}

// Probe configures WaitReady. Port 0 disables the TCP check; callers should
// leave it 0 when the port was already taken before the process started.
type Probe struct {
	Markers     []string
	Host        string
	Port        int
	Interval    time.Duration
	MaxAttempts int
}

// WaitReady polls until the output contains a marker or the port accepts a
// connection while the process is still running. It fails as soon as the
// process exits, and with ErrNotReady once the attempts are used up.
func (h *Handle) WaitReady(ctx context.Context, p Probe) error {
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 30
	}
	if p.Host == "" {
		p.Host = "127.0.0.1"
	}
	markers := markerPatterns(p.Markers)

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if h.HasExited() {
			return fmt.Errorf("%w (%s)", ErrExited, h.Status())
		}
		if h.output.matchesAny(markers) || (p.Port > 0 && netutil.PortOpen(ctx, p.Host, p.Port, p.Interval)) {
			if h.HasExited() {
				return fmt.Errorf("%w (%s)", ErrExited, h.Status())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Done():
			return fmt.Errorf("%w (%s)", ErrExited, h.Status())
		case <-time.After(p.Interval):
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrNotReady, p.MaxAttempts)
}
