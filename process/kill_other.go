//go:build !unix

package process

import (
	"errors"
	"os"
	"os/exec"
)

func setProcAttr(cmd *exec.Cmd) {}

// killProcessGroup kills proc only; descendants are not tracked here.
func killProcessGroup(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	err := proc.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func exitSignal(state *os.ProcessState) string {
	return ""
}
