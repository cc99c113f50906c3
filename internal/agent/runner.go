// Package agent builds and issues external agent invocations, manages the
// rate-limit fallback retry, and writes session-lifecycle facts back to the
// registry.
package agent

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// CommandSpec describes one external process invocation.
type CommandSpec struct {
	Path string
	Args []string
	// Env entries are appended to the parent environment.
	Env []string
	Dir string
}

// Runner executes a command and captures both output streams and the exit
// code. The executor treats any abnormal exit as a regular failure outcome.
type Runner interface {
	Run(ctx context.Context, spec CommandSpec) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, spec CommandSpec) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Dir = spec.Dir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			// Captured output is still meaningful on non-zero exit.
			err = nil
		} else {
			exitCode = -1
		}
	}
	return outBuf.String(), errBuf.String(), exitCode, err
}
