//go:build windows

package capability

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}

// terminateProcessGroup falls back to killing just the process itself;
// Windows has no POSIX process-group signal to fan out to children.
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
