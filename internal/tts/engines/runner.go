package engines

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// DefaultGracePeriod is how long a cancelled process gets between the
// interrupt and the kill.
const DefaultGracePeriod = 500 * time.Millisecond

// CommandRunner runs an external process. It lets process-backed adapters
// be tested without the binary installed.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error)
	LookPath(name string) (string, error)
}

// ExecCommandRunner uses os/exec. On cancellation the process is sent an
// interrupt and killed after GracePeriod.
type ExecCommandRunner struct {
	GracePeriod time.Duration
}

// Run runs a command to completion.
func (r ExecCommandRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = r.GracePeriod
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// LookPath wraps exec.LookPath.
func (ExecCommandRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// interrupt asks the process to stop (platform-specific)
func interrupt(proc *os.Process) error {
	if runtime.GOOS == "windows" {
		// Windows doesn't have SIGINT
		return proc.Kill()
	}
	return proc.Signal(os.Interrupt)
}
