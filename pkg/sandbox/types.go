package sandbox

import (
	"os"
	"time"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusRestarting Status = "restarting"
	StatusRemoving   Status = "removing"
	StatusExited     Status = "exited"
	StatusDead       Status = "dead"
	StatusUnknown    Status = "unknown"
)

// CommandResult is the outcome of one command invocation.
type CommandResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exitCode"`
	DurationMs int64  `json:"durationMs"`
}

// Success reports whether the command exited with status 0.
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0
}

// SandboxConfig describes an engine-backed sandbox. Zero values fall back to
// the runtime's defaults.
type SandboxConfig struct {
	SessionID   string            `json:"sessionId"`
	Image       string            `json:"image,omitempty"`
	MemoryLimit int64             `json:"memoryLimit,omitempty"` // bytes
	CPUShares   int64             `json:"cpuShares,omitempty"`
	HostPort    int               `json:"hostPort,omitempty"` // 0 = random
	WorkingDir  string            `json:"workingDir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

type SandboxInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	SessionID string            `json:"sessionId,omitempty"`
	Status    Status            `json:"status"`
	Running   bool              `json:"running"`
	Ports     map[string]string `json:"ports"` // container port -> host port
	CreatedAt time.Time         `json:"createdAt"`
}

type SandboxStats struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryUsage   uint64    `json:"memoryUsage"`
	MemoryLimit   uint64    `json:"memoryLimit"`
	MemoryPercent float64   `json:"memoryPercent"`
	NetworkRx     uint64    `json:"networkRx"`
	NetworkTx     uint64    `json:"networkTx"`
	ReadAt        time.Time `json:"readAt"`
}

type FileUpload struct {
	Path    string
	Content string
	Mode    os.FileMode // 0 leaves the default mode
}

type FileDownload struct {
	Path     string    `json:"path"`
	Content  string    `json:"content"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}
