package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/toolrun"
)

// ToolMerger delegates merging to an external command.
//
// Every call stages its documents in a fresh scratch directory that is
// removed when the call returns, whether it succeeded or not. The command is
// invoked as:
//
//	<Command...> --main main.xml [--lib lib-N.xml]... --out out.xml
//	    [--inject "path|namespace name=value"]... [--package name]
//
// The --inject and --package flags are passed only for the outermost merge.
type ToolMerger struct {
	Runner  *toolrun.Runner
	Command []string
}

// Merge implements [Merger].
func (m *ToolMerger) Merge(ctx context.Context, req Request) ([]byte, error) {
	if len(m.Command) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "manifest merge tool is not configured")
	}

	dir, err := os.MkdirTemp("", "manifest-merge-")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create scratch directory")
	}
	defer os.RemoveAll(dir)

	mainPath := filepath.Join(dir, "main.xml")
	if err := os.WriteFile(mainPath, req.Main.Data, 0o644); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "stage %s", req.Main.Name)
	}
	outPath := filepath.Join(dir, "out.xml")

	args := slices.Clone(m.Command)
	args = append(args, "--main", mainPath)
	for i, sub := range req.Subs {
		p := filepath.Join(dir, fmt.Sprintf("lib-%d.xml", i))
		if err := os.WriteFile(p, sub.Data, 0o644); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "stage %s", sub.Name)
		}
		args = append(args, "--lib", p)
	}
	args = append(args, "--out", outPath)

	if req.Root != nil {
		for _, k := range req.Root.Injection.Keys() {
			args = append(args, "--inject", k.String()+"="+req.Root.Injection[k])
		}
		if req.Root.PackageOverride != "" {
			args = append(args, "--package", req.Root.PackageOverride)
		}
	}

	runner := m.Runner
	if runner == nil {
		runner = &toolrun.Runner{}
	}
	if _, err := runner.Run(ctx, args); err != nil {
		return nil, err
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeToolFailed, err, "%s produced no output", m.Command[0])
	}
	return out, nil
}
