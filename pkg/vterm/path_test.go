package vterm

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	term := newTerminal(t)
	term.cwd = "/app/src"

	tests := []struct {
		in   string
		want string
	}{
		{"", "/app/src"},
		{".", "/app/src"},
		{"..", "/app"},
		{"../..", "/"},
		{"../../../..", "/"},
		{"./x", "/app/src/x"},
		{"../lib/y", "/app/lib/y"},
		{"a/./b/../c", "/app/src/a/c"},
		{"/etc/passwd", "/etc/passwd"},
		{"/../../etc", "/etc"},
		{"~", "/app"},
		{"~/notes", "/app/notes"},
		{"a//b/", "/app/src/a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, term.resolve(tt.in))
		})
	}
}

func TestRealizeStaysInsideWorkspace(t *testing.T) {
	term := newTerminal(t)
	inputs := []string{
		"..", "../..", "../../../../../../etc/passwd", "/..", "/../..", "~/../../..",
		"./../x/../../y", "/app/../../../root", "a/../../../../b",
	}
	for _, in := range inputs {
		real, err := term.realize(term.resolve(in))
		require.NoError(t, err, in)
		assert.True(t, within(term.Root(), real), "%s realized to %s", in, real)
	}
}

func TestCdNeverLeavesWorkspace(t *testing.T) {
	term := newTerminal(t)
	mustRun(t, term, "mkdir -p a/b/c d")

	moves := []string{"..", "../..", "/", "~", "a", "a/b", "a/b/c", "../../..", ".", "-", "/app/d", "../../../../etc", "~/a"}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 300; i++ {
		move := moves[rng.Intn(len(moves))]
		_, _ = term.ExecuteCommand(context.Background(), "cd "+move)

		real, err := term.realize(term.Cwd())
		require.NoError(t, err)
		require.True(t, within(term.Root(), real), "after cd %s cwd %s realized to %s", move, term.Cwd(), real)
		require.True(t, strings.HasPrefix(term.Cwd(), "/"))
	}
}

func TestSymlinkEscapeRejected(t *testing.T) {
	term := newTerminal(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("top secret\n"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(term.Root(), "app", "link")))

	res := run(t, term, "cat link/secret")
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "cat: link/secret: Permission denied\n", res.Stderr)

	res = run(t, term, "echo x > link/new")
	assert.Equal(t, 1, res.ExitCode)
	_, err := os.Stat(filepath.Join(outside, "new"))
	assert.True(t, os.IsNotExist(err))
}
