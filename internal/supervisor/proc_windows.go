//go:build windows

package supervisor

import (
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}

// terminateTree uses taskkill /T, which walks the child tree. There is no
// graceful console signal for a detached group, so both modes force.
func terminateTree(pid int, force bool) error {
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}

func venvPython(venvDir string) string {
	return filepath.Join(venvDir, "Scripts", "python.exe")
}
