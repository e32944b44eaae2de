package lxd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
)

// Command is one invocation of the runtime client.
type Command struct {
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner executes runtime client commands. The returned error is non-nil
// only when the command could not be run at all; a non-zero exit is
// reported through ExecResult.ExitCode.
type Runner interface {
	Run(ctx context.Context, binary string, cmd Command) (ExecResult, error)
}

// ExecRunner runs commands as host processes.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, binary string, cmd Command) (ExecResult, error) {
	c := exec.CommandContext(ctx, binary, cmd.Args...)
	var stdout, stderr bytes.Buffer
	c.Stdin = cmd.Stdin
	c.Stdout = tee(&stdout, cmd.Stdout)
	c.Stderr = tee(&stderr, cmd.Stderr)

	err := c.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
