package engine

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

// Labels applied to every managed container.
const (
	LabelManaged = "app-builder.managed"
	LabelSession = "app-builder.session"
)

// Capabilities kept after dropping ALL; enough for package managers to
// chown and switch users inside the workspace.
var defaultCapabilities = []string{"CHOWN", "DAC_OVERRIDE", "FOWNER", "SETGID", "SETUID"}

func managedLabels() map[string]string {
	return map[string]string{LabelManaged: "true"}
}

// devPort returns the container port key for the dev server.
func (c Config) devPort() (nat.Port, error) {
	return nat.NewPort("tcp", strconv.Itoa(c.DevPort))
}

// profile builds the container and host configuration for one sandbox.
// Zero fields of sc fall back to the manager defaults.
func (c Config) profile(sc sandbox.SandboxConfig) (*container.Config, *container.HostConfig, error) {
	port, err := c.devPort()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid dev port %d: %w", c.DevPort, err)
	}

	img := sc.Image
	if img == "" {
		img = c.Image
	}
	workDir := sc.WorkingDir
	if workDir == "" {
		workDir = c.WorkingDir
	}
	memory := sc.MemoryLimit
	if memory == 0 {
		memory = c.MemoryLimit
	}
	shares := sc.CPUShares
	if shares == 0 {
		shares = c.CPUShares
	}
	hostPort := ""
	if sc.HostPort != 0 {
		hostPort = strconv.Itoa(sc.HostPort)
	}

	labels := managedLabels()
	labels[LabelSession] = sc.SessionID

	env := make([]string, 0, len(sc.Env)+1)
	env = append(env, "PORT="+strconv.Itoa(c.DevPort))
	for _, k := range slices.Sorted(maps.Keys(sc.Env)) {
		env = append(env, k+"="+sc.Env[k])
	}

	pids := c.PidsLimit
	cfg := &container.Config{
		Image:        img,
		Cmd:          []string{"sleep", "infinity"},
		WorkingDir:   workDir,
		Env:          env,
		Labels:       labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	host := &container.HostConfig{
		NetworkMode: container.NetworkMode("bridge"),
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}},
		},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			CPUShares:  shares,
			CPUQuota:   c.CPUQuota,
			CPUPeriod:  c.CPUPeriod,
			PidsLimit:  &pids,
		},
		CapDrop:        []string{"ALL"},
		CapAdd:         slices.Clone(defaultCapabilities),
		SecurityOpt:    []string{"no-new-privileges:true"},
		ReadonlyRootfs: false,
	}
	return cfg, host, nil
}
