package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

// uploadChunk bounds the encoded payload carried by one exec. It is a
// multiple of 4 so every chunk decodes on its own.
const uploadChunk = 64 * 1024

// shellQuote wraps s in single quotes for bash.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// uploadCommands returns the shell commands that write one file.
func uploadCommands(f sandbox.FileUpload) []string {
	target := shellQuote(f.Path)
	encoded := base64.StdEncoding.EncodeToString([]byte(f.Content))

	var cmds []string
	mkdir := "mkdir -p " + shellQuote(path.Dir(f.Path))
	if encoded == "" {
		cmds = append(cmds, mkdir+" && : > "+target)
	}
	for i := 0; i < len(encoded); i += uploadChunk {
		chunk := encoded[i:min(i+uploadChunk, len(encoded))]
		if i == 0 {
			cmds = append(cmds, fmt.Sprintf("%s && echo '%s' | base64 -d > %s", mkdir, chunk, target))
		} else {
			cmds = append(cmds, fmt.Sprintf("echo '%s' | base64 -d >> %s", chunk, target))
		}
	}
	if f.Mode != 0 {
		cmds = append(cmds, fmt.Sprintf("chmod %o %s", uint32(f.Mode.Perm()), target))
	}
	return cmds
}

// UploadFiles writes each file into the container as base64 over exec.
func (m *Manager) UploadFiles(ctx context.Context, id string, files []sandbox.FileUpload) error {
	for _, f := range files {
		for _, cmd := range uploadCommands(f) {
			res, err := m.Exec(ctx, id, cmd)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", f.Path, err)
			}
			if res.ExitCode != 0 {
				return engineError("upload "+f.Path, sandbox.CodeTransferFailed, id,
					fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
			}
		}
	}
	m.logger.Debug("Uploaded files", "container", shortID(id), "count", len(files))
	return nil
}

func downloadCommand(p string) string {
	q := shellQuote(p)
	return "stat -c %Y " + q + " && base64 " + q
}

// parseDownload decodes the output of downloadCommand: the mtime line
// followed by wrapped base64.
func parseDownload(p, out string) (sandbox.FileDownload, error) {
	mtimeLine, encoded, _ := strings.Cut(out, "\n")
	secs, err := strconv.ParseInt(strings.TrimSpace(mtimeLine), 10, 64)
	if err != nil {
		return sandbox.FileDownload{}, fmt.Errorf("invalid mtime %q: %w", mtimeLine, err)
	}
	encoded = strings.Join(strings.Fields(encoded), "")
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return sandbox.FileDownload{}, fmt.Errorf("invalid content: %w", err)
	}
	return sandbox.FileDownload{
		Path:     p,
		Content:  string(content),
		Size:     int64(len(content)),
		Modified: time.Unix(secs, 0),
	}, nil
}

// DownloadFiles reads each path back out of the container.
func (m *Manager) DownloadFiles(ctx context.Context, id string, paths []string) ([]sandbox.FileDownload, error) {
	out := make([]sandbox.FileDownload, 0, len(paths))
	for _, p := range paths {
		res, err := m.Exec(ctx, id, downloadCommand(p))
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", p, err)
		}
		if res.ExitCode != 0 {
			return nil, engineError("download "+p, sandbox.CodeTransferFailed, id,
				fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
		}
		f, err := parseDownload(p, res.Stdout)
		if err != nil {
			return nil, engineError("download "+p, sandbox.CodeTransferFailed, id, err)
		}
		out = append(out, f)
	}
	return out, nil
}
