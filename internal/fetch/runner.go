package fetch

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// RunResult is the outcome of a finished process
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner starts an external command and waits for it
type Runner interface {
	// Run returns an error only when the process could not be started or
	// waited for. A non-zero exit status is reported through RunResult.
	Run(ctx context.Context, name string, args []string) (RunResult, error)
}

// ExecRunner implements Runner with os/exec
type ExecRunner struct{}

// Run runs name with args, capturing both output streams
func (ExecRunner) Run(ctx context.Context, name string, args []string) (RunResult, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, err
	}
	return res, nil
}
