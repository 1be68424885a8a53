package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

// BuildVersion is stamped into the binary built for the runner image.
const BuildVersion = "e2e"

var (
	buildOnce  sync.Once
	buildErr   error
	binaryPath string
	ownsBuild  bool
)

// BuildSandbox returns a Linux sandbox binary for the runner image. A binary
// named by E2E_SANDBOX_BINARY is used as is; otherwise one is compiled once
// per test run with the version set to BuildVersion.
func BuildSandbox() (string, error) {
	buildOnce.Do(func() {
		if prebuilt := os.Getenv("E2E_SANDBOX_BINARY"); prebuilt != "" {
			if _, err := os.Stat(prebuilt); err != nil {
				buildErr = fmt.Errorf("E2E_SANDBOX_BINARY: %w", err)
				return
			}
			binaryPath = prebuilt
			return
		}

		projectRoot, err := findProjectRoot()
		if err != nil {
			buildErr = fmt.Errorf("failed to find project root: %w", err)
			return
		}
		tmpDir, err := os.MkdirTemp("", "sandbox-e2e-*")
		if err != nil {
			buildErr = fmt.Errorf("failed to create temp dir: %w", err)
			return
		}
		binaryPath = filepath.Join(tmpDir, "sandbox")
		ownsBuild = true

		cmd := exec.Command("go", "build",
			"-trimpath",
			"-ldflags", "-s -w -X main.version="+BuildVersion,
			"-o", binaryPath,
			"./cmd/sandbox",
		)
		cmd.Dir = projectRoot
		// The runner image is debian-slim, so the binary must be static.
		cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH="+runtime.GOARCH, "CGO_ENABLED=0")
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("failed to build sandbox: %w\n%s", err, out)
		}
	})
	return binaryPath, buildErr
}

// CleanupBuild removes a binary compiled by BuildSandbox. Prebuilt binaries
// are left alone.
func CleanupBuild() {
	if ownsBuild && binaryPath != "" {
		os.RemoveAll(filepath.Dir(binaryPath))
	}
}
