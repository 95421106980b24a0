package capability

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/armon/circbuf"
)

// stderrCapLimit bounds how much of a subprocess's stderr kake retains for
// a BuildFailed error. A runaway process writing gigabytes of noise to
// stderr must not OOM the host; the last stderrCapLimit bytes are what
// actually matter for diagnosing a failure anyway.
const stderrCapLimit = 64 * 1024

// SubprocessError reports a subprocess invoked via Call that exited
// non-zero or was killed by a timeout.
type SubprocessError struct {
	Argv     []string
	Stderr   string
	Timeout  bool
	ExitCode int
	Err      error
}

func (e *SubprocessError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("capability: %v: timed out", e.Argv)
	}
	return fmt.Sprintf("capability: %v: exit %d: %v", e.Argv, e.ExitCode, e.Err)
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// Caller runs subprocesses on behalf of capabilities, enforcing a fixed
// working directory, bounded stderr capture, and an optional per-call
// timeout that sends SIGTERM to the process's entire group when the
// deadline passes.
type Caller struct {
	// WorkDir is the working directory every subprocess runs in —
	// always the project root, never a rule-chosen path.
	WorkDir string
	// Timeout bounds each Call; zero means no timeout.
	Timeout time.Duration
}

// Call runs argv[0] with argv[1:] as arguments, capturing stdout and a
// bounded tail of stderr. A non-zero exit or an exceeded timeout is
// reported as a *SubprocessError.
func (c Caller) Call(ctx context.Context, argv []string) (stdout []byte, err error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("capability: empty argv")
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(callCtx, argv[0], argv[1:]...)
	cmd.Dir = c.WorkDir
	configureProcessGroup(cmd)

	var stdoutBuf bytes.Buffer
	stderrBuf, bufErr := circbuf.NewBuffer(stderrCapLimit)
	if bufErr != nil {
		stderrBuf, _ = circbuf.NewBuffer(4096)
	}
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = stderrBuf

	cmd.Cancel = func() error {
		return terminateProcessGroup(cmd)
	}

	runErr := cmd.Run()
	if runErr == nil {
		return stdoutBuf.Bytes(), nil
	}

	timedOut := callCtx.Err() == context.DeadlineExceeded
	exitCode := -1
	var exitErr *exec.ExitError
	if ok := asExitError(runErr, &exitErr); ok {
		exitCode = exitErr.ExitCode()
	}

	return stdoutBuf.Bytes(), &SubprocessError{
		Argv:     argv,
		Stderr:   stderrBuf.String(),
		Timeout:  timedOut,
		ExitCode: exitCode,
		Err:      runErr,
	}
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
