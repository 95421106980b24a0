//go:build !windows

package capability

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		return
	}
	cmd.SysProcAttr.Setpgid = true
}

// terminateProcessGroup sends SIGTERM to the whole process group so
// children spawned by the capability's subprocess receive it too, giving a
// well-behaved process a chance to flush before it exits. No SIGKILL
// follows; Process.Kill is used only when the group signal cannot be sent. Uses
// golang.org/x/sys/unix rather than the syscall package for the signal
// call itself — SysProcAttr still has to be a *syscall.SysProcAttr
// because that's the type os/exec embeds, but the kill itself doesn't.
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return cmd.Process.Kill()
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
