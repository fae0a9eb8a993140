package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// RunFunc runs name with args and returns what it wrote to stdout and stderr.
type RunFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRun runs the command as a child process. ctx cancellation kills it.
func ExecRun(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// CLITask generates text with the claude command line in print mode.
type CLITask struct {
	Binary  string
	RunFunc RunFunc
}

// NewCLITask is a constructor that takes the runner as a dependency
func NewCLITask(binary string, run RunFunc) CLITask {
	return CLITask{
		Binary:  binary,
		RunFunc: run,
	}
}

func (c CLITask) Execute(ctx context.Context, query, model string) (output string, err error) {
	args := []string{"-p", query}
	if model != "" {
		args = append(args, "--model", model)
	}

	slog.Debug("Running claude cli", "binary", c.Binary, "model", model)
	stdout, stderr, err := c.RunFunc(ctx, c.Binary, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s interrupted: %w", c.Binary, ctxErr)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s exited with code %d: %s", c.Binary, exitErr.ExitCode(), strings.TrimSpace(string(stderr)))
		}
		return "", fmt.Errorf("%s failed: %w", c.Binary, err)
	}

	output = strings.TrimSpace(string(stdout))
	if output == "" {
		return "", fmt.Errorf("%s returned no output", c.Binary)
	}

	return output, nil
}
