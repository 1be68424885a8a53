package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

type dockerEngine struct {
	cli *client.Client
}

var _ Engine = (*dockerEngine)(nil)

// NewDockerEngine connects to the Docker daemon at host. An empty host uses
// DOCKER_HOST and the other standard variables, falling back to the local
// socket.
func NewDockerEngine(host string) (Engine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &dockerEngine{cli: cli}, nil
}

func wrapNotFound(err error) error {
	if err != nil && cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func (d *dockerEngine) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *dockerEngine) EnsureImage(ctx context.Context, ref string) error {
	if _, err := d.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !cerrdefs.IsNotFound(err) {
		return err
	}

	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", ref, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull %s: %w", ref, err)
	}
	return nil
}

func (d *dockerEngine) Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", wrapNotFound(err)
	}
	return resp.ID, nil
}

func (d *dockerEngine) Start(ctx context.Context, id string) error {
	return wrapNotFound(d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

func (d *dockerEngine) Inspect(ctx context.Context, id string) (*ContainerState, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err)
	}

	state := &ContainerState{
		ID:    resp.ID,
		Name:  strings.TrimPrefix(resp.Name, "/"),
		Ports: map[string]string{},
	}
	if resp.State != nil {
		state.Status = string(resp.State.Status)
		state.Running = resp.State.Running
		state.ExitCode = resp.State.ExitCode
		state.Error = resp.State.Error
		if resp.State.Health != nil {
			state.Health = string(resp.State.Health.Status)
		}
	}
	if resp.Config != nil {
		state.Labels = resp.Config.Labels
	}
	if resp.NetworkSettings != nil {
		for port, bindings := range resp.NetworkSettings.Ports {
			if len(bindings) > 0 && bindings[0].HostPort != "" {
				state.Ports[string(port)] = bindings[0].HostPort
			}
		}
	}
	if created, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
		state.CreatedAt = created
	}
	return state, nil
}

func (d *dockerEngine) Stop(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return wrapNotFound(d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}))
}

func (d *dockerEngine) Remove(ctx context.Context, id string) error {
	return wrapNotFound(d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
}

func (d *dockerEngine) List(ctx context.Context, labels map[string]string) ([]ContainerState, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, err
	}

	out := make([]ContainerState, 0, len(summaries))
	for _, s := range summaries {
		st := ContainerState{
			ID:        s.ID,
			Status:    string(s.State),
			Running:   string(s.State) == "running",
			Labels:    s.Labels,
			Ports:     map[string]string{},
			CreatedAt: time.Unix(s.Created, 0),
		}
		if len(s.Names) > 0 {
			st.Name = strings.TrimPrefix(s.Names[0], "/")
		}
		for _, p := range s.Ports {
			if p.PublicPort != 0 {
				st.Ports[fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)] = strconv.Itoa(int(p.PublicPort))
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// hijackedConn adapts the engine's hijacked connection to io.ReadCloser.
type hijackedConn struct {
	*bufio.Reader
	close func()
}

func (h *hijackedConn) Close() error {
	h.close()
	return nil
}

func (d *dockerEngine) ExecStart(ctx context.Context, id string, cmd []string, workDir string) (*ExecStream, error) {
	resp, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, wrapNotFound(err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &ExecStream{
		ID:   resp.ID,
		Conn: &hijackedConn{Reader: attach.Reader, close: attach.Close},
	}, nil
}

func (d *dockerEngine) ExecInspect(ctx context.Context, execID string) (bool, int, error) {
	resp, err := d.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return false, 0, wrapNotFound(err)
	}
	return resp.Running, resp.ExitCode, nil
}

func (d *dockerEngine) Stats(ctx context.Context, id string) (*RawStats, error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	defer resp.Body.Close()

	var s container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}

	raw := &RawStats{
		CPUTotal:    s.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotal: s.PreCPUStats.CPUUsage.TotalUsage,
		System:      s.CPUStats.SystemUsage,
		PreSystem:   s.PreCPUStats.SystemUsage,
		OnlineCPUs:  s.CPUStats.OnlineCPUs,
		PerCPUCount: len(s.CPUStats.CPUUsage.PercpuUsage),
		MemUsage:    s.MemoryStats.Usage,
		MemLimit:    s.MemoryStats.Limit,
		Networks:    make(map[string]NetCounters, len(s.Networks)),
		Read:        s.Read,
	}
	for name, n := range s.Networks {
		raw.Networks[name] = NetCounters{RxBytes: n.RxBytes, TxBytes: n.TxBytes}
	}
	return raw, nil
}

func (d *dockerEngine) Close() error {
	return d.cli.Close()
}
