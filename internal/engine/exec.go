package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

// maxCapturedLines bounds how much tool output is kept for error messages
const maxCapturedLines = 50

// ToolSpec describes one invocation of an external client tool
type ToolSpec struct {
	Name   string
	Args   []string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
}

// ToolResult holds the tail of the diagnostics a tool wrote
type ToolResult struct {
	ExitCode int
	Output   string
}

// ToolRunner runs external tools such as mysqldump or psql
type ToolRunner interface {
	Run(ctx context.Context, spec ToolSpec) (ToolResult, error)
}

// ExecRunner runs tools as child processes. Diagnostics on stderr are drained
// on a separate goroutine so a chatty tool can never block on a full pipe, and
// are never mixed into Stdout.
type ExecRunner struct {
	logger *logging.Logger
}

// NewExecRunner creates a runner that logs tool diagnostics at debug level
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run implements ToolRunner
func (r *ExecRunner) Run(ctx context.Context, spec ToolSpec) (ToolResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ToolResult{ExitCode: -1}, err
	}

	if err := cmd.Start(); err != nil {
		r.logger.LogToolExecution(spec.Name, spec.Args, time.Since(start), err)
		return ToolResult{ExitCode: -1}, err
	}

	tail := newLineTail(maxCapturedLines)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			r.logger.LogToolOutput(spec.Name, line)
			tail.add(line)
		}
		if err := scanner.Err(); err != nil {
			r.logger.WithField("tool", spec.Name).Warnf("Stopped reading diagnostics: %v", err)
			tail.add(fmt.Sprintf("[diagnostics truncated: %v]", err))
		}
		// keep the pipe empty until the tool exits
		_, _ = io.Copy(io.Discard, stderr)
	}()

	// All reads from the pipe must finish before Wait closes it.
	wg.Wait()
	err = cmd.Wait()

	result := ToolResult{ExitCode: cmd.ProcessState.ExitCode(), Output: tail.String()}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	r.logger.LogToolExecution(spec.Name, spec.Args, time.Since(start), err)
	return result, err
}

type lineTail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newLineTail(max int) *lineTail {
	return &lineTail{max: max}
}

func (t *lineTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

// dumpToFile runs spec with stdout redirected into destPath. A partial file is
// removed on failure.
func dumpToFile(ctx context.Context, runner ToolRunner, spec ToolSpec, destPath string) (err error) {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return apperrors.NewDumpError(fmt.Sprintf("cannot create dump file %s", destPath), err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = apperrors.NewDumpError("failed to flush dump file", cerr)
		}
		if err != nil {
			_ = os.Remove(destPath)
		}
	}()

	spec.Stdout = out
	result, runErr := runner.Run(ctx, spec)
	if runErr != nil {
		return toolFailure(ctx, apperrors.NewDumpError, spec.Name, result, runErr)
	}
	return nil
}

// restoreFromFile runs spec with dumpFile on stdin. Stdout is captured along
// with the diagnostics for the error message.
func restoreFromFile(ctx context.Context, runner ToolRunner, spec ToolSpec, dumpFile string) error {
	in, err := os.Open(dumpFile)
	if err != nil {
		return apperrors.NewRestoreError(fmt.Sprintf("cannot open dump file %s", dumpFile), err)
	}
	defer in.Close()

	var stdout bytes.Buffer
	spec.Stdin = in
	spec.Stdout = &stdout

	result, runErr := runner.Run(ctx, spec)
	if runErr != nil {
		if out := strings.TrimSpace(stdout.String()); out != "" {
			result.Output = strings.TrimSpace(result.Output + "\n" + out)
		}
		return toolFailure(ctx, apperrors.NewRestoreError, spec.Name, result, runErr)
	}
	return nil
}

func toolFailure(ctx context.Context, newErr func(string, error) *apperrors.AppError, tool string, result ToolResult, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause = fmt.Errorf("%w: %v", ctxErr, cause)
	}

	var exitErr *exec.ExitError
	var msg string
	if errors.As(cause, &exitErr) {
		msg = fmt.Sprintf("%s exited with status %d", tool, result.ExitCode)
	} else {
		msg = fmt.Sprintf("%s failed", tool)
	}
	if result.Output != "" {
		msg += ": " + result.Output
	}

	return newErr(msg, cause).
		WithContext("tool", tool).
		WithContext("exit_code", result.ExitCode)
}
