//go:build !windows

package supervisor

import (
	"errors"
	"os/exec"
	"path/filepath"
	"syscall"
)

// setProcessGroup puts the child in its own process group so the whole tree,
// including forked workers, can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// terminateTree signals the process group led by pid.
func terminateTree(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func venvPython(venvDir string) string {
	return filepath.Join(venvDir, "bin", "python")
}
