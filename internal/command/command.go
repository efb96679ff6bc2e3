// Package command runs external host tools (losetup, lvcreate, vgs, ...)
// with a bounded wait.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a command when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Runner runs a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run calls f.
func (f Func) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f(ctx, name, args...)
}

// Exec runs commands on the host with os/exec.
type Exec struct {
	// Sudo prefixes every command with "sudo".
	Sudo bool
	// Timeout bounds each command. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewExec returns an Exec runner.
func NewExec(sudo bool, timeout time.Duration) *Exec {
	return &Exec{Sudo: sudo, Timeout: timeout}
}

// WithTimeout returns a copy of e using timeout.
func (e *Exec) WithTimeout(timeout time.Duration) *Exec {
	c := *e
	c.Timeout = timeout
	return &c
}

// Run executes name with args. A non-zero exit status or a timeout is
// returned as an *Error carrying the command line and its stderr.
func (e *Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append([]string{name}, args...)
	if e.Sudo {
		argv = append([]string{"sudo", "-n"}, argv...)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Ctx(ctx).Debug().Strs("argv", argv).Msg("running command")
	err := cmd.Run()
	if err != nil {
		cmdErr := &Error{
			Argv:   argv,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cmdErr.Err = fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return stdout.Bytes(), cmdErr
	}

	return stdout.Bytes(), nil
}

// Error describes a failed command.
type Error struct {
	Argv   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("command %q failed: %v", strings.Join(e.Argv, " "), e.Err)
	if e.Stderr != "" {
		msg += "\nOutput: " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit status of the failed command, or -1 when it did
// not run to completion.
func (e *Error) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
