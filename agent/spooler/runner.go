package spooler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is one external program invocation.
type Command struct {
	Name    string
	Args    []string
	Env     []string // appended to the agent's environment
	Dir     string
	Timeout time.Duration
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is what a command produced. Err is set when the program could not
// run, timed out or exited non-zero.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// OK reports whether the command ran and exited 0.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Message returns the most useful error text of a failed command.
func (r Result) Message() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Stdout); s != "" {
		return s
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return fmt.Sprintf("exit status %d", r.ExitCode)
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	DefaultTimeout time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, c Command) Result {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.Err = fmt.Errorf("%s: timed out after %s", c.Name, timeout)
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Err = fmt.Errorf("%s: %w", c.Name, err)
	default:
		res.ExitCode = -1
		res.Err = fmt.Errorf("%s: %w", c.Name, err)
	}
	return res
}

// cLocale forces untranslated output from CUPS tools.
var cLocale = []string{"LANG=C", "LC_ALL=C"}
