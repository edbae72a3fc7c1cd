// Package deployment runs the rebuild-and-restart command sequence that
// redeploys the documentation site, and serializes those runs.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docshook/pkg/cmdutil"

	"github.com/google/uuid"
)

// IgnoreErrorPrefix marks a command whose failure does not stop the sequence.
const IgnoreErrorPrefix = "-"

var ErrNoCommands = errors.New("no deployment commands configured")

// Trigger executes a fixed sequence of commands in a working directory.
type Trigger struct {
	// WorkDir is the checkout the commands run in.
	WorkDir string

	// Commands are shell-quoted command strings, run in order without a shell.
	// A command prefixed with "-" may fail without aborting the sequence.
	Commands []string

	// Env is the command environment. Nil inherits the process environment.
	Env []string

	// Timeout bounds the whole sequence. Zero means no limit beyond ctx.
	Timeout time.Duration

	// CommandTimeout bounds each command. A tolerated command that runs
	// out of time does not stop the sequence. Zero means no limit.
	CommandTimeout time.Duration

	// Redact lists values scrubbed from captured output and error text.
	Redact []string
}

// NewTrigger creates a trigger for the given directory and command sequence.
func NewTrigger(workDir string, commands []string) *Trigger {
	return &Trigger{
		WorkDir:  workDir,
		Commands: commands,
	}
}

// Run executes the command sequence and returns the attempt.
// It never returns an error: failures are reported through Attempt.Err and
// Attempt.Status so that callers can always build a response.
func (t *Trigger) Run(ctx context.Context) Attempt {
	start := time.Now()
	attempt := Attempt{
		ID:        uuid.New(),
		Timestamp: start.UTC(),
		Status:    StatusSuccess,
	}

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	var stdout, stderr strings.Builder
	err := t.runSequence(ctx, &stdout, &stderr)

	attempt.Duration = time.Since(start)
	attempt.Stdout = t.sanitize(stdout.String())
	attempt.Stderr = t.sanitize(stderr.String())
	if err != nil {
		attempt.Status = StatusFailure
		attempt.Err = t.sanitizeError(err)
	}

	return attempt
}

func (t *Trigger) runSequence(ctx context.Context, stdout, stderr *strings.Builder) error {
	if len(t.Commands) == 0 {
		return ErrNoCommands
	}

	for i, raw := range t.Commands {
		cmdStr, tolerated := strings.CutPrefix(strings.TrimSpace(raw), IgnoreErrorPrefix)

		parts, err := cmdutil.ParseCommandString(cmdStr)
		if err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
		formatted := cmdutil.FormatCommand(parts)

		fmt.Fprintf(stdout, "$ %s\n", formatted)
		result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
			Dir:     t.WorkDir,
			Env:     t.Env,
			Timeout: t.CommandTimeout,
		}, parts)
		stdout.Write(result.Stdout)
		stderr.Write(result.Stderr)

		if err == nil {
			continue
		}
		if tolerated && ctx.Err() == nil {
			fmt.Fprintf(stderr, "ignoring failure of command %d (%s): %v\n", i, formatted, err)
			continue
		}
		return fmt.Errorf("command %d (%s) exited with code %d: %w", i, formatted, result.ExitCode, err)
	}

	return nil
}

func (t *Trigger) sanitize(s string) string {
	return string(cmdutil.SanitizeOutput([]byte(s), t.Redact))
}

func (t *Trigger) sanitizeError(err error) error {
	msg := t.sanitize(err.Error())
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
