// Package command abstracts external process invocation: argv slices,
// captured output, explicit exit codes. No shell interpolation anywhere.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	logger "github.com/sirupsen/logrus"
)

// Spec describes one process invocation.
type Spec struct {
	Name string
	Args []string
	// Env entries ("KEY=value") are appended to the current environment.
	Env []string
	Dir string
}

// Result captures the outcome of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external processes.
type Runner interface {
	// Run executes the process and waits for it. A non-zero exit code is
	// returned as an error alongside the captured output.
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner runs processes via os/exec.
type ExecRunner struct{}

// NewExecRunner creates the default runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	logger.Debugf("running %s %s", spec.Name, strings.Join(spec.Args, " "))

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf(
			"%s exited with code %d: %s",
			spec.Name, result.ExitCode, strings.TrimSpace(result.Stderr),
		)
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", spec.Name, err)
	}
}
