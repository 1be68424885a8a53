package vterm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

func newTerminal(t *testing.T, mutate ...func(*Options)) *Terminal {
	t.Helper()
	opts := Options{
		SessionID: "test-session",
		BaseDir:   t.TempDir(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	term, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = term.Cleanup(context.Background(), 0) })
	return term
}

func run(t *testing.T, term *Terminal, line string) *sandbox.CommandResult {
	t.Helper()
	res, err := term.ExecuteCommand(context.Background(), line)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// mustRun fails the test unless line exits 0.
func mustRun(t *testing.T, term *Terminal, line string) string {
	t.Helper()
	res := run(t, term, line)
	require.Equalf(t, 0, res.ExitCode, "%q failed: %s", line, res.Stderr)
	return res.Stdout
}

func writeFile(t *testing.T, term *Terminal, virtual, content string) {
	t.Helper()
	real := filepath.Join(term.Root(), filepath.FromSlash(virtual))
	require.NoError(t, os.MkdirAll(filepath.Dir(real), 0o755))
	require.NoError(t, os.WriteFile(real, []byte(content), 0o644))
}
