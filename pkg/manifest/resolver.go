package manifest

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/observability"
)

// Input describes one application manifest merge.
type Input struct {
	Main            string        // Path of the application's main manifest
	Overlays        []string      // Overlay manifests, highest priority first
	Libraries       []*Dependency // Direct library dependencies, in priority order
	Injection       Injection     // Attributes forced onto the final manifest
	PackageOverride string        // Renames the final manifest package when non-empty
}

// Resolver orchestrates merges over a dependency tree. Resolver is safe for
// concurrent use if its Merger is.
type Resolver struct {
	Merger Merger
	Logger *log.Logger

	// Parallel resolves sibling library subtrees concurrently. Results are
	// collected by index, so the merged output is identical either way.
	Parallel bool
}

// NewResolver creates a Resolver using m as the merge primitive.
func NewResolver(m Merger, logger *log.Logger) *Resolver {
	return &Resolver{Merger: m, Logger: logger}
}

// Merge produces the final application manifest.
//
// Without overlays, libraries, injection or override the main manifest is
// returned unchanged. Overlays are merged first; when libraries are present
// the overlay result becomes an intermediate document and injection is
// applied by the library merge instead. Each library subtree is merged
// bottom-up without injection before being merged into the main document.
func (r *Resolver) Merge(ctx context.Context, in Input) ([]byte, error) {
	if r.Merger == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no merge primitive configured")
	}
	if in.PackageOverride != "" {
		if err := errors.ValidatePackageName(in.PackageOverride); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	main, err := readFragment(in.Main, in.Main)
	if err != nil {
		return nil, err
	}
	root := &RootOptions{Injection: in.Injection, PackageOverride: in.PackageOverride}

	var out []byte
	switch {
	case len(in.Overlays) == 0 && len(in.Libraries) == 0:
		if root.IsEmpty() {
			r.logger().Debug("manifest copied unchanged", "path", in.Main)
			return main.Data, nil
		}
		out, err = r.call(ctx, Request{Main: main, Root: root})

	case len(in.Libraries) == 0:
		out, err = r.mergeOverlays(ctx, main, in.Overlays, root)

	default:
		if len(in.Overlays) > 0 {
			data, err := r.mergeOverlays(ctx, main, in.Overlays, nil)
			if err != nil {
				return nil, err
			}
			main = Fragment{Name: main.Name + " (overlaid)", Data: data}
		}
		out, err = r.mergeLibraries(ctx, main, in.Libraries, root)
	}
	if err != nil {
		return nil, err
	}

	r.logger().Info("manifest merged",
		"overlays", len(in.Overlays),
		"libraries", countDependencies(in.Libraries),
		"inject", root.String(),
		"time", time.Since(start).Round(time.Millisecond))
	return out, nil
}

// MergeTest generates the instrumentation manifest described by tm and merges
// the libraries into it. Test manifests never receive injection or a package
// override.
func (r *Resolver) MergeTest(ctx context.Context, tm TestManifest, libs []*Dependency) ([]byte, error) {
	gen, err := GenerateTestManifest(tm)
	if err != nil {
		return nil, err
	}
	if len(libs) == 0 {
		return gen, nil
	}
	if r.Merger == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no merge primitive configured")
	}
	return r.mergeLibraries(ctx, Fragment{Name: "test manifest " + tm.Package, Data: gen}, libs, nil)
}

func (r *Resolver) mergeOverlays(ctx context.Context, main Fragment, paths []string, root *RootOptions) ([]byte, error) {
	subs := make([]Fragment, 0, len(paths))
	for _, p := range paths {
		f, err := readFragment(p, p)
		if err != nil {
			return nil, err
		}
		subs = append(subs, f)
	}
	return r.call(ctx, Request{Main: main, Subs: subs, Root: root})
}

// mergeLibraries resolves each dependency to a single document and merges
// them, in order, into main.
func (r *Resolver) mergeLibraries(ctx context.Context, main Fragment, deps []*Dependency, root *RootOptions) ([]byte, error) {
	subs, err := r.resolveAll(ctx, deps)
	if err != nil {
		return nil, err
	}
	return r.call(ctx, Request{Main: main, Subs: subs, Root: root})
}

func (r *Resolver) resolveAll(ctx context.Context, deps []*Dependency) ([]Fragment, error) {
	subs := make([]Fragment, len(deps))

	if !r.Parallel || len(deps) < 2 {
		for i, d := range deps {
			f, err := r.resolve(ctx, d)
			if err != nil {
				return nil, err
			}
			subs[i] = f
		}
		return subs, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range deps {
		g.Go(func() error {
			f, err := r.resolve(gctx, d)
			if err != nil {
				return err
			}
			subs[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return subs, nil
}

// resolve returns the document for one library. A leaf is read as-is; a
// library with dependencies is first merged with its own resolved subtree.
func (r *Resolver) resolve(ctx context.Context, d *Dependency) (Fragment, error) {
	if d == nil {
		return Fragment{}, errors.New(errors.ErrCodeInvalidInput, "nil library dependency")
	}
	f, err := readFragment(d.Path, d.Label())
	if err != nil {
		return Fragment{}, err
	}
	if d.IsLeaf() {
		return f, nil
	}
	data, err := r.mergeLibraries(ctx, f, d.Dependencies, nil)
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{Name: d.Label(), Data: data}, nil
}

func (r *Resolver) call(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	observability.Pipeline().OnMergeCall(ctx, 1+len(req.Subs), req.Root != nil)
	r.logger().Debug("merge call", "main", req.Main.Name, "subs", len(req.Subs), "root", req.Root != nil)

	out, err := r.Merger.Merge(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Tool failures keep their own code.
		for _, code := range []errors.Code{errors.ErrCodeMissingTool, errors.ErrCodeToolFailed} {
			if errors.Has(err, code) {
				return nil, errors.Wrap(code, err, "merge into %s", req.Main.Name)
			}
		}
		return nil, errors.Wrap(errors.ErrCodeMergeFailed, err, "merge into %s", req.Main.Name)
	}
	return out, nil
}

func (r *Resolver) logger() *log.Logger {
	if r.Logger == nil {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	return r.Logger
}

func countDependencies(deps []*Dependency) int {
	n := 0
	Walk(deps, func(*Dependency, int) bool {
		n++
		return true
	})
	return n
}
