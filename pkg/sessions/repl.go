package sessions

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

// cwdReporter is implemented by sandboxes that track a working directory.
type cwdReporter interface {
	Cwd() string
}

// Prompt returns the shell prompt for sb.
func Prompt(sb sandbox.Sandbox) string {
	if cr, ok := sb.(cwdReporter); ok {
		return fmt.Sprintf("user@sandbox:%s$ ", cr.Cwd())
	}
	return "sandbox$ "
}

// ErrLogout is returned by REPL when the user ends the session with
// "logout". "exit" only leaves the shell and keeps the session.
var ErrLogout = errors.New("session logged out")

// IsExit reports whether line ends an interactive shell.
func IsExit(line string) bool {
	switch strings.TrimSpace(line) {
	case "exit", "logout":
		return true
	}
	return false
}

// IsLogout reports whether line also ends the session.
func IsLogout(line string) bool {
	return strings.TrimSpace(line) == "logout"
}

// REPL reads one command per line from r and runs it in sb until EOF, an
// exit command, or cancellation. A logout returns ErrLogout.
func REPL(ctx context.Context, r io.Reader, w, ew io.Writer, sb sandbox.Sandbox) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(w, Prompt(sb))
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(w)
				return nil
			}
			line = l
		}
		if IsLogout(line) {
			return ErrLogout
		}
		if IsExit(line) {
			return nil
		}

		res, err := sb.ExecuteCommand(ctx, line)
		if err != nil {
			fmt.Fprintf(ew, "error: %v\n", err)
			continue
		}
		io.WriteString(w, res.Stdout)
		io.WriteString(ew, res.Stderr)
	}
}
