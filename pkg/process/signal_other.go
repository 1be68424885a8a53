//go:build !unix

package process

import (
	"os"
	"os/exec"
)

func SetProcessGroup(_ *exec.Cmd) {}

func SignalGroup(pid int, _ bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
