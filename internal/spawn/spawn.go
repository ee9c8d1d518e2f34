// Package spawn runs external media tools with a hard deadline.
package spawn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/abduss/gomedia/internal/metrics"
)

// ErrTimeout reports that a tool exceeded its deadline and was killed.
var ErrTimeout = errors.New("tool timed out")

// ToolError describes a failed tool invocation. It is transient from the
// pipeline's point of view: callers fall back to a degraded result.
type ToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Tool, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Runner executes a named tool and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Exec is the os/exec backed Runner.
type Exec struct {
	Timeout time.Duration
}

const maxStderr = 2048

// Run starts name with args and waits for it, killing it once Timeout elapses.
func (e Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	tool := filepath.Base(name)
	metrics.ToolRun(tool, err)
	if err == nil {
		return stdout.Bytes(), nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ErrTimeout
	}
	errText := strings.TrimSpace(stderr.String())
	if len(errText) > maxStderr {
		errText = errText[:maxStderr]
	}
	return stdout.Bytes(), &ToolError{Tool: tool, Stderr: errText, Err: err}
}
