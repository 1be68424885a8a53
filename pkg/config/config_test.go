package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, RuntimeVirtual, cfg.Runtime)
	assert.Equal(t, int64(512*1024*1024), int64(cfg.Docker.Memory))
	assert.Equal(t, 30*time.Second, cfg.Docker.ReadyTimeout.Std())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
runtime: docker
virtual:
  command_timeout: 90s
  toolchain:
    npm: /usr/local/bin/npm
docker:
  image: node:22-alpine
  memory: 1g
  exec_timeout: 2m
  env:
    NODE_ENV: development
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RuntimeDocker, cfg.Runtime)
	assert.Equal(t, 90*time.Second, cfg.Virtual.CommandTimeout.Std())
	assert.Equal(t, "node:22-alpine", cfg.Docker.Image)
	assert.Equal(t, ByteSize(1<<30), cfg.Docker.Memory)
	assert.Equal(t, 2*time.Minute, cfg.Docker.ExecTimeout.Std())

	// Untouched fields keep their defaults.
	assert.Equal(t, "app-builder", cfg.Docker.Prefix)
	assert.Equal(t, 3000, cfg.Docker.DevPort)
	assert.Equal(t, int64(100), cfg.Docker.PidsLimit)

	ec := cfg.EngineConfig()
	assert.Equal(t, int64(1<<30), ec.MemoryLimit)
	assert.Equal(t, "node:22-alpine", ec.Image)

	vo := cfg.VirtualOptions()
	assert.Equal(t, "/usr/local/bin/npm", vo.Toolchain["npm"])
	assert.Equal(t, "node", vo.Toolchain["node"])
	assert.Equal(t, 90*time.Second, vo.CommandTimeout)

	assert.Equal(t, map[string]string{"NODE_ENV": "development"}, cfg.SandboxTemplate().Env)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown runtime", "runtime: podman\n", "unknown sandbox runtime"},
		{"unknown field", "runtime: virtual\nflavour: mint\n", "field flavour not found"},
		{"bad duration", "docker:\n  stop_timeout: soon\n", "invalid duration"},
		{"bad memory", "docker:\n  memory: lots\n", "invalid size"},
		{"bad port", "docker:\n  dev_port: 70000\n", "out of range"},
		{"negative cleanup delay", "cleanup_delay: -1s\n", "cleanup_delay must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadUnknownRuntimeIsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "runtime: firecracker\n"))
	assert.ErrorIs(t, err, sandbox.ErrUnknownBackend)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sandbox.yaml")
	cfg := Default()
	cfg.Runtime = RuntimeDocker
	cfg.Docker.Memory = 256 * 1024 * 1024

	require.NoError(t, Save(path, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "memory: 256MiB")
	assert.Contains(t, string(data), "exec_timeout: 5m0s")
	assert.Contains(t, string(data), "cleanup_delay: 5m0s")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParseByteSize(t *testing.T) {
	tests := map[string]int64{
		"512m":    512 << 20,
		"1g":      1 << 30,
		"2GiB":    2 << 30,
		"1048576": 1 << 20,
		"64k":     64 << 10,
	}
	for in, want := range tests {
		got, err := ParseByteSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, ByteSize(want), got, in)
	}
	_, err := ParseByteSize("-1m")
	assert.Error(t, err)
}
