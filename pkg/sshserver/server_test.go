package sshserver

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"github.com/aroudaki/app-builder-sub001/pkg/netutil"
	"github.com/aroudaki/app-builder-sub001/pkg/sessions"
	"github.com/aroudaki/app-builder-sub001/pkg/vterm"
)

func startServer(t *testing.T) (string, *sessions.Registry) {
	t.Helper()
	registry := sessions.NewRegistry(sessions.Virtual(vterm.Options{BaseDir: t.TempDir()}), 0)

	srv, err := New(Config{HostKeyPath: filepath.Join(t.TempDir(), "host_ed25519")}, registry)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = registry.Cleanup(ctx)
	})
	return ln.Addr().String(), registry
}

func dial(t *testing.T, addr, user string) *gossh.Client {
	t.Helper()
	client, err := gossh.Dial("tcp", addr, &gossh.ClientConfig{
		User:            user,
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func runRemote(t *testing.T, addr, user, cmd string) (string, string, error) {
	t.Helper()
	sess, err := dial(t, addr, user).NewSession()
	require.NoError(t, err)
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout, sess.Stderr = &stdout, &stderr
	err = sess.Run(cmd)
	return stdout.String(), stderr.String(), err
}

func TestExecCommand(t *testing.T) {
	addr, _ := startServer(t)

	stdout, stderr, err := runRemote(t, addr, "alice", "pwd")
	require.NoError(t, err)
	assert.Equal(t, "/app\n", stdout)
	assert.Empty(t, stderr)
}

func TestExecExitCode(t *testing.T) {
	addr, _ := startServer(t)

	_, stderr, err := runRemote(t, addr, "alice", "cat nope.txt")
	var exitErr *gossh.ExitError
	require.True(t, errors.As(err, &exitErr), "expected exit error, got %v", err)
	assert.Equal(t, 1, exitErr.ExitStatus())
	assert.Contains(t, stderr, "No such file or directory")
}

func TestSessionsPersistPerUser(t *testing.T) {
	addr, registry := startServer(t)

	_, _, err := runRemote(t, addr, "alice", "echo remembered > note.txt")
	require.NoError(t, err)

	stdout, _, err := runRemote(t, addr, "alice", "cat note.txt")
	require.NoError(t, err)
	assert.Equal(t, "remembered\n", stdout)

	_, _, err = runRemote(t, addr, "bob", "cat note.txt")
	assert.Error(t, err)

	assert.Equal(t, []string{"alice", "bob"}, registry.IDs())
}

func TestInvalidUserGetsFreshSession(t *testing.T) {
	assert.Equal(t, "alice", sessionID("alice"))
	id := sessionID("not a valid/name")
	assert.NotEqual(t, "not a valid/name", id)
	assert.Len(t, id, 27)
}

func TestShellWithoutPty(t *testing.T) {
	addr, _ := startServer(t)
	sess, err := dial(t, addr, "carol").NewSession()
	require.NoError(t, err)
	defer sess.Close()

	var stdout bytes.Buffer
	sess.Stdout = &stdout
	sess.Stdin = strings.NewReader("mkdir web\ncd web\npwd\nexit\n")
	require.NoError(t, sess.Shell())
	require.NoError(t, sess.Wait())

	assert.Contains(t, stdout.String(), "user@sandbox:/app/web$ ")
	assert.Contains(t, stdout.String(), "/app/web\n")
}

func TestShellWithPty(t *testing.T) {
	addr, _ := startServer(t)
	sess, err := dial(t, addr, "dave").NewSession()
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.RequestPty("xterm", 24, 80, gossh.TerminalModes{}))
	var stdout bytes.Buffer
	sess.Stdout = &stdout
	sess.Stdin = strings.NewReader("echo from-pty\rexit\r")
	require.NoError(t, sess.Shell())
	require.NoError(t, sess.Wait())

	assert.Contains(t, stdout.String(), "from-pty\r\n")
}

func TestLogoutEndsSession(t *testing.T) {
	addr, registry := startServer(t)

	_, _, err := runRemote(t, addr, "erin", "echo gone > note.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"erin"}, registry.IDs())

	sess, err := dial(t, addr, "erin").NewSession()
	require.NoError(t, err)
	defer sess.Close()
	var stdout bytes.Buffer
	sess.Stdout = &stdout
	sess.Stdin = strings.NewReader("logout\n")
	require.NoError(t, sess.Shell())
	require.NoError(t, sess.Wait())

	assert.Contains(t, stdout.String(), "Session erin closed.")
	assert.Empty(t, registry.IDs())

	_, _, err = runRemote(t, addr, "erin", "cat note.txt")
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	port, err := netutil.FindFreePort()
	require.NoError(t, err)
	return port
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	assert.ErrorContains(t, cfg.Validate(), "invalid port")

	cfg = DefaultConfig()
	cfg.Host = "localhost"
	assert.ErrorContains(t, cfg.Validate(), "invalid host IP")

	cfg = DefaultConfig()
	cfg.IdleTimeout = 3 * time.Hour
	cfg.Port = freePort(t)
	assert.ErrorContains(t, cfg.Validate(), "cannot exceed")

	cfg = DefaultConfig()
	cfg.Port = freePort(t)
	cfg.HostKeyPath = t.TempDir()
	assert.ErrorContains(t, cfg.Validate(), "is a directory")
}
