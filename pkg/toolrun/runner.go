// Package toolrun runs opaque external build tools.
//
// The resource compiler, bytecode compiler and file-based manifest mergers
// are consumed through one narrow contract: run these arguments, capture the
// output, or fail. Failures are reported with the [errors.ErrCodeMissingTool]
// and [errors.ErrCodeToolFailed] codes and are never retried.
package toolrun

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// Runner executes command lines. The zero value is ready to use.
type Runner struct {
	// Logger receives the command line at debug level. Nil discards.
	Logger *log.Logger

	// Env is appended to the current process environment.
	Env []string

	// Dir is the working directory for the command (current directory if empty).
	Dir string
}

// Run executes args[0] with the remaining arguments and returns its combined
// stdout and stderr.
func (r *Runner) Run(ctx context.Context, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty command line")
	}

	path, err := exec.LookPath(args[0])
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMissingTool, err, "%s is missing", args[0])
	}

	r.logger().Debug("running tool", "cmd", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, path, args[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return out.Bytes(), ctx.Err()
		}
		return out.Bytes(), errors.Wrap(errors.ErrCodeToolFailed, err, "%s failed: %s", args[0], strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	return r.Logger
}
