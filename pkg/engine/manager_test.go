package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

func newTestManager(eng *fakeEngine) *Manager {
	return NewWithEngine(Config{
		ReadyTimeout:  200 * time.Millisecond,
		ReadyInterval: 5 * time.Millisecond,
		ExecTimeout:   time.Second,
	}, eng)
}

func TestCreate(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)

	id, err := m.Create(context.Background(), sandbox.SandboxConfig{SessionID: "abc"})
	require.NoError(t, err)
	require.Len(t, eng.created, 1)

	cfg := eng.created[0]
	assert.Equal(t, DefaultImage, cfg.Image)
	assert.Equal(t, []string{"sleep", "infinity"}, []string(cfg.Cmd))
	assert.Equal(t, "true", cfg.Labels[LabelManaged])
	assert.Equal(t, "abc", cfg.Labels[LabelSession])

	state, err := eng.Inspect(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "app-builder-abc", state.Name)
	assert.True(t, state.Running)
}

func TestCreateRemovesStaleContainer(t *testing.T) {
	eng := newFakeEngine()
	eng.add(ContainerState{ID: "old", Name: "app-builder-abc", Status: "exited"})
	m := newTestManager(eng)

	_, err := m.Create(context.Background(), sandbox.SandboxConfig{SessionID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app-builder-abc"}, eng.removed)
}

func TestCreateRejectsInvalidSession(t *testing.T) {
	m := newTestManager(newFakeEngine())
	_, err := m.Create(context.Background(), sandbox.SandboxConfig{SessionID: "../etc"})
	assert.ErrorIs(t, err, sandbox.ErrInvalidSessionID)
}

func TestCreateStartFailureRemovesContainer(t *testing.T) {
	eng := newFakeEngine()
	eng.startErr = errors.New("port is already allocated")
	m := newTestManager(eng)

	_, err := m.Create(context.Background(), sandbox.SandboxConfig{SessionID: "abc"})
	require.Error(t, err)
	assert.Equal(t, sandbox.CodeStartFailed, sandbox.CodeOf(err))
	assert.Contains(t, err.Error(), "port is already allocated")
	assert.Empty(t, eng.containers)
}

func TestCreateTerminalStateFailsFast(t *testing.T) {
	eng := newFakeEngine()
	eng.startState = func(int) ContainerState {
		return ContainerState{Status: StateExited, ExitCode: 137}
	}
	m := newTestManager(eng)

	start := time.Now()
	_, err := m.Create(context.Background(), sandbox.SandboxConfig{SessionID: "abc"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, sandbox.CodeStartFailed, sandbox.CodeOf(err))
	assert.Contains(t, err.Error(), "memory limit")
	assert.Empty(t, eng.containers)
}

func TestCreateWaitsForHealth(t *testing.T) {
	eng := newFakeEngine()
	eng.startState = func(n int) ContainerState {
		if n < 3 {
			return ContainerState{Status: "running", Running: true, Health: HealthStarting}
		}
		return ContainerState{Status: "running", Running: true, Health: "healthy"}
	}
	m := newTestManager(eng)

	_, err := m.Create(context.Background(), sandbox.SandboxConfig{SessionID: "abc"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, eng.inspects, 3)
}

func TestCreateReadinessTimeout(t *testing.T) {
	eng := newFakeEngine()
	eng.startState = func(int) ContainerState {
		return ContainerState{Status: "running", Running: true, Health: HealthStarting}
	}
	m := newTestManager(eng)

	_, err := m.Create(context.Background(), sandbox.SandboxConfig{SessionID: "abc"})
	require.Error(t, err)
	assert.True(t, sandbox.IsTimeout(err))
	assert.Contains(t, err.Error(), "health starting")
	assert.Empty(t, eng.containers)
}

func startContainer(t *testing.T, eng *fakeEngine, m *Manager) string {
	t.Helper()
	id, err := m.Create(context.Background(), sandbox.SandboxConfig{SessionID: "abc"})
	require.NoError(t, err)
	return id
}

func TestExec(t *testing.T) {
	eng := newFakeEngine()
	eng.onExec = func(cmd []string) execReply {
		return execReply{stdout: "out\n", stderr: "err\n", code: 3}
	}
	m := newTestManager(eng)
	id := startContainer(t, eng, m)

	res, err := m.Exec(context.Background(), id, "ls -la")
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Success())
	assert.Equal(t, []string{"bash", "-c", "ls -la"}, eng.commands[0])
}

func TestExecWaitsForExitCode(t *testing.T) {
	eng := newFakeEngine()
	eng.onExec = func(cmd []string) execReply {
		return execReply{stderr: "boom\n", code: 2}
	}
	eng.execBusy = 2
	m := newTestManager(eng)
	id := startContainer(t, eng, m)

	res, err := m.Exec(context.Background(), id, "false")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, 3, eng.execInspects)
}

func TestExecMissingContainer(t *testing.T) {
	m := newTestManager(newFakeEngine())
	_, err := m.Exec(context.Background(), "nope", "true")
	require.Error(t, err)
	assert.Equal(t, sandbox.CodeNotFound, sandbox.CodeOf(err))
}

func TestURL(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)

	url, err := m.URL(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:49153", url)

	eng.add(ContainerState{ID: "bare", Running: true})
	_, err = m.URL(context.Background(), "bare")
	require.Error(t, err)
	assert.Equal(t, sandbox.CodePortNotMapped, sandbox.CodeOf(err))
}

func TestUploadFiles(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)

	err := m.UploadFiles(context.Background(), id, []sandbox.FileUpload{
		{Path: "/app/src/index.js", Content: "console.log('hi')\n"},
		{Path: "/app/run.sh", Content: "#!/bin/sh\n", Mode: 0o755},
	})
	require.NoError(t, err)

	scripts := eng.scripts()
	require.Len(t, scripts, 3)
	encoded := base64.StdEncoding.EncodeToString([]byte("console.log('hi')\n"))
	assert.Equal(t, "mkdir -p '/app/src' && echo '"+encoded+"' | base64 -d > '/app/src/index.js'", scripts[0])
	assert.Equal(t, "chmod 755 '/app/run.sh'", scripts[2])
}

func TestUploadFilesFailure(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)
	eng.onExec = func([]string) execReply {
		return execReply{stderr: "base64: invalid input\n", code: 1}
	}

	err := m.UploadFiles(context.Background(), id, []sandbox.FileUpload{{Path: "/app/a", Content: "x"}})
	require.Error(t, err)
	assert.Equal(t, sandbox.CodeTransferFailed, sandbox.CodeOf(err))
	assert.Contains(t, err.Error(), "invalid input")
}

func TestUploadCommandsChunking(t *testing.T) {
	content := strings.Repeat("x", uploadChunk) // encodes to more than one chunk
	cmds := uploadCommands(sandbox.FileUpload{Path: "/app/big", Content: content})
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[0], "| base64 -d > '/app/big'")
	assert.Contains(t, cmds[1], "| base64 -d >> '/app/big'")

	var joined string
	for _, c := range cmds {
		start := strings.Index(c, "echo '") + len("echo '")
		end := strings.Index(c[start:], "'") + start
		decoded, err := base64.StdEncoding.DecodeString(c[start:end])
		require.NoError(t, err)
		joined += string(decoded)
	}
	assert.Equal(t, content, joined)
}

func TestUploadEmptyFile(t *testing.T) {
	cmds := uploadCommands(sandbox.FileUpload{Path: "/app/empty"})
	assert.Equal(t, []string{"mkdir -p '/app' && : > '/app/empty'"}, cmds)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestDownloadFiles(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)

	content := strings.Repeat("line of text\n", 20)
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	var wrapped strings.Builder
	for i := 0; i < len(encoded); i += 76 {
		wrapped.WriteString(encoded[i:min(i+76, len(encoded))] + "\n")
	}
	eng.onExec = func([]string) execReply {
		return execReply{stdout: "1700000000\n" + wrapped.String()}
	}

	files, err := m.DownloadFiles(context.Background(), id, []string{"/app/notes.txt"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/app/notes.txt", files[0].Path)
	assert.Equal(t, content, files[0].Content)
	assert.Equal(t, int64(len(content)), files[0].Size)
	assert.Equal(t, time.Unix(1700000000, 0), files[0].Modified)
	assert.Equal(t, "stat -c %Y '/app/notes.txt' && base64 '/app/notes.txt'", eng.scripts()[0])
}

func TestDownloadMissingFile(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)
	eng.onExec = func([]string) execReply {
		return execReply{stderr: "stat: cannot statx '/app/nope': No such file or directory\n", code: 1}
	}

	_, err := m.DownloadFiles(context.Background(), id, []string{"/app/nope"})
	require.Error(t, err)
	assert.Equal(t, sandbox.CodeTransferFailed, sandbox.CodeOf(err))
}

func TestInfoAndList(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)
	eng.add(ContainerState{ID: "other", Name: "unrelated"})

	info, err := m.Info(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "abc", info.SessionID)
	assert.Equal(t, sandbox.StatusRunning, info.Status)
	assert.Equal(t, "49153", info.Ports["3000/tcp"])

	list, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestIsRunning(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)

	running, err := m.IsRunning(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, running)

	running, err = m.IsRunning(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestStop(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)

	require.NoError(t, m.Stop(context.Background(), id))
	assert.Equal(t, []string{id}, eng.stopped)
	assert.Empty(t, eng.containers)

	// Already gone.
	require.NoError(t, m.Stop(context.Background(), id))
}

func TestStopForcesRemovalAfterFailedStop(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)
	eng.stopErr = errors.New("stop timeout")

	require.NoError(t, m.Stop(context.Background(), id))
	assert.Empty(t, eng.containers)
}

func TestCleanup(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	for _, sid := range []string{"a", "b", "c"} {
		_, err := m.Create(context.Background(), sandbox.SandboxConfig{SessionID: sid})
		require.NoError(t, err)
	}
	eng.add(ContainerState{ID: "foreign", Name: "postgres"})

	require.NoError(t, m.Cleanup(context.Background()))
	assert.Len(t, eng.stopped, 3)
	assert.Len(t, eng.containers, 1)
}

func TestStats(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(eng)
	id := startContainer(t, eng, m)
	eng.stats = &RawStats{
		CPUTotal: 400, PreCPUTotal: 200,
		System: 2000, PreSystem: 1000,
		OnlineCPUs: 2,
		MemUsage:   256, MemLimit: 1024,
		Networks: map[string]NetCounters{"eth0": {RxBytes: 10, TxBytes: 20}},
	}

	stats, err := m.Stats(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, stats.CPUPercent, 0.001)
	assert.InDelta(t, 25.0, stats.MemoryPercent, 0.001)

	_, err = m.Stats(context.Background(), "missing")
	assert.Equal(t, sandbox.CodeNotFound, sandbox.CodeOf(err))
}

func TestClose(t *testing.T) {
	eng := newFakeEngine()
	require.NoError(t, newTestManager(eng).Close())
	assert.True(t, eng.closed)
}
