// Package config loads sandbox settings from YAML. Every field has a
// default, so an empty or missing file yields a working configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/aroudaki/app-builder-sub001/pkg/engine"
	"github.com/aroudaki/app-builder-sub001/pkg/identity"
	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
	"github.com/aroudaki/app-builder-sub001/pkg/vterm"
)

// Runtime names.
const (
	RuntimeVirtual = "virtual"
	RuntimeDocker  = "docker"
)

// DefaultCleanupDelay is the grace period before a removed session's
// resources are deleted by long-running hosts.
const DefaultCleanupDelay = 5 * time.Minute

type Config struct {
	Runtime string `yaml:"runtime"`
	// CleanupDelay applies to sessions removed while the server keeps
	// running. One-shot commands always tear down immediately.
	CleanupDelay Duration `yaml:"cleanup_delay"`
	Virtual      Virtual  `yaml:"virtual"`
	Docker       Docker   `yaml:"docker"`
}

type Virtual struct {
	BaseDir        string            `yaml:"base_dir,omitempty"`
	HomeDir        string            `yaml:"home_dir"`
	CommandTimeout Duration          `yaml:"command_timeout"`
	DevServerPort  int               `yaml:"dev_server_port"`
	ReadyInterval  Duration          `yaml:"ready_interval"`
	ReadyAttempts  int               `yaml:"ready_attempts"`
	TTY            bool              `yaml:"tty,omitempty"`
	Toolchain      map[string]string `yaml:"toolchain,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
}

type Docker struct {
	Host          string            `yaml:"host,omitempty"`
	Prefix        string            `yaml:"prefix"`
	Image         string            `yaml:"image"`
	WorkingDir    string            `yaml:"working_dir"`
	DevPort       int               `yaml:"dev_port"`
	Memory        ByteSize          `yaml:"memory"`
	CPUShares     int64             `yaml:"cpu_shares"`
	CPUQuota      int64             `yaml:"cpu_quota"`
	CPUPeriod     int64             `yaml:"cpu_period"`
	PidsLimit     int64             `yaml:"pids_limit"`
	ReadyTimeout  Duration          `yaml:"ready_timeout"`
	ReadyInterval Duration          `yaml:"ready_interval"`
	ExecTimeout   Duration          `yaml:"exec_timeout"`
	StopTimeout   Duration          `yaml:"stop_timeout"`
	PullImages    bool              `yaml:"pull_images,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime:      RuntimeVirtual,
		CleanupDelay: Duration(DefaultCleanupDelay),
		Virtual: Virtual{
			HomeDir:        vterm.DefaultHomeDir,
			CommandTimeout: Duration(vterm.DefaultCommandTimeout),
			DevServerPort:  vterm.DefaultDevServerPort,
			ReadyInterval:  Duration(vterm.DefaultReadyInterval),
			ReadyAttempts:  vterm.DefaultReadyAttempts,
		},
		Docker: Docker{
			Prefix:        identity.DefaultPrefix,
			Image:         engine.DefaultImage,
			WorkingDir:    engine.DefaultWorkingDir,
			DevPort:       engine.DefaultDevPort,
			Memory:        engine.DefaultMemoryLimit,
			CPUShares:     engine.DefaultCPUShares,
			CPUQuota:      engine.DefaultCPUQuota,
			CPUPeriod:     engine.DefaultCPUPeriod,
			PidsLimit:     engine.DefaultPidsLimit,
			ReadyTimeout:  Duration(engine.DefaultReadyTimeout),
			ReadyInterval: Duration(engine.DefaultReadyInterval),
			ExecTimeout:   Duration(engine.DefaultExecTimeout),
			StopTimeout:   Duration(engine.DefaultStopTimeout),
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Save writes the configuration as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Runtime {
	case RuntimeVirtual, RuntimeDocker:
	default:
		return fmt.Errorf("%w: %q (expected %s or %s)", sandbox.ErrUnknownBackend, c.Runtime, RuntimeVirtual, RuntimeDocker)
	}
	if c.Docker.DevPort < 1 || c.Docker.DevPort > 65535 {
		return fmt.Errorf("docker.dev_port %d out of range", c.Docker.DevPort)
	}
	if c.Docker.Memory < 0 {
		return fmt.Errorf("docker.memory must not be negative")
	}
	if c.CleanupDelay < 0 {
		return fmt.Errorf("cleanup_delay must not be negative")
	}
	if c.Virtual.ReadyAttempts < 1 {
		return fmt.Errorf("virtual.ready_attempts must be at least 1")
	}
	return nil
}

// VirtualOptions converts the virtual section to terminal options. The
// session id is filled in per sandbox.
func (c *Config) VirtualOptions() vterm.Options {
	v := c.Virtual
	opts := vterm.Options{
		BaseDir:        v.BaseDir,
		HomeDir:        v.HomeDir,
		Env:            v.Env,
		CommandTimeout: v.CommandTimeout.Std(),
		DevServerPort:  v.DevServerPort,
		ReadyInterval:  v.ReadyInterval.Std(),
		ReadyAttempts:  v.ReadyAttempts,
		TTY:            v.TTY,
	}
	if len(v.Toolchain) > 0 {
		opts.Toolchain = vterm.DefaultToolchain()
		for name, bin := range v.Toolchain {
			opts.Toolchain[name] = bin
		}
	}
	return opts
}

// EngineConfig converts the docker section to manager settings.
func (c *Config) EngineConfig() engine.Config {
	d := c.Docker
	return engine.Config{
		Host:          d.Host,
		Prefix:        d.Prefix,
		Image:         d.Image,
		WorkingDir:    d.WorkingDir,
		DevPort:       d.DevPort,
		MemoryLimit:   int64(d.Memory),
		CPUShares:     d.CPUShares,
		CPUQuota:      d.CPUQuota,
		CPUPeriod:     d.CPUPeriod,
		PidsLimit:     d.PidsLimit,
		ReadyTimeout:  d.ReadyTimeout.Std(),
		ReadyInterval: d.ReadyInterval.Std(),
		ExecTimeout:   d.ExecTimeout.Std(),
		StopTimeout:   d.StopTimeout.Std(),
		PullImages:    d.PullImages,
	}
}

// SandboxTemplate is the per-session container request; the session id is
// filled in per sandbox.
func (c *Config) SandboxTemplate() sandbox.SandboxConfig {
	return sandbox.SandboxConfig{Env: c.Docker.Env}
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string such as 30s", node.Line)
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// ByteSize is a size in bytes written in docker's human form ("512m",
// "1GiB") or as a plain number.
type ByteSize int64

func (b ByteSize) String() string { return units.BytesSize(float64(b)) }

func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a string such as 512m", node.Line)
	}
	n, err := units.RAMInBytes(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

// ParseByteSize parses a human memory size such as "512m".
func ParseByteSize(s string) (ByteSize, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return ByteSize(n), nil
}
