package manifest

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// GraphOptions configures dependency graph rendering.
type GraphOptions struct {
	// Detailed adds the manifest path below each node label.
	Detailed bool
}

// ToDOT converts a dependency tree rooted at the application named app to
// Graphviz DOT. Edges point from a manifest to the manifests merged into it
// and are labeled with their merge priority. A library reached through more
// than one parent is drawn once.
func ToDOT(app string, deps []*Dependency, opts GraphOptions) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	fmt.Fprintf(&buf, "  %q [label=%q, fillcolor=lightblue];\n", app, app)

	seen := map[string]bool{app: true}
	Walk(deps, func(d *Dependency, _ int) bool {
		id := d.Label()
		if seen[id] {
			return true
		}
		seen[id] = true
		label := id
		if opts.Detailed && d.Path != "" && d.Path != id {
			label = id + "\n" + filepath.ToSlash(d.Path)
		}
		fmt.Fprintf(&buf, "  %q [label=%q];\n", id, label)
		return true
	})

	buf.WriteString("\n")
	writeEdges(&buf, app, deps)

	buf.WriteString("}\n")
	return buf.String()
}

func writeEdges(buf *bytes.Buffer, parent string, deps []*Dependency) {
	for i, d := range deps {
		fmt.Fprintf(buf, "  %q -> %q [label=\"%d\"];\n", parent, d.Label(), i+1)
		writeEdges(buf, d.Label(), d.Dependencies)
	}
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "init graphviz")
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "parse DOT")
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "render")
	}
	return buf.Bytes(), nil
}
