//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// KillExitCode is the exit code taskkill /f leaves behind.
const KillExitCode = 1

func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func exitCode(state *os.ProcessState) int {
	return state.ExitCode()
}

func killGroup(process *os.Process) error {
	return process.Kill()
}
