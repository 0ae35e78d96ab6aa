package symbols

import (
	"bytes"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// FileName is the name of the generated source in each package directory.
const FileName = "R.java"

var sourceTmpl = template.Must(template.New("R.java").Parse(`/* AUTO-GENERATED FILE.  DO NOT MODIFY.
 *
 * This class was generated by {{.Generator}} from the resource
 * identifier tables of the libraries in package {{.Package}}.
 * It should not be modified by hand.
 */

package {{.Package}};

public final class R {
{{- range .Types}}
    public static final class {{.Name}} {
{{- range .Symbols}}
        public static final {{.Kind}} {{.Name}} = {{.Value}};
{{- end}}
    }
{{- end}}
}
`))

// Writer renders generated identifier sources.
type Writer struct {
	// Generator names the tool in the file header.
	Generator string
}

type typeBlock struct {
	Name    string
	Symbols []Symbol
}

// Render produces the source for pkg. Types and names are sorted so the
// output depends only on the set of symbols.
func (w *Writer) Render(pkg string, syms []Symbol) ([]byte, error) {
	byType := map[string][]Symbol{}
	for _, s := range syms {
		byType[s.Type] = append(byType[s.Type], s)
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	slices.Sort(types)

	blocks := make([]typeBlock, len(types))
	for i, t := range types {
		list := byType[t]
		slices.SortFunc(list, func(a, b Symbol) int { return strings.Compare(a.Name, b.Name) })
		blocks[i] = typeBlock{Name: t, Symbols: list}
	}

	gen := w.Generator
	if gen == "" {
		gen = "packsmith"
	}

	var buf bytes.Buffer
	err := sourceTmpl.Execute(&buf, map[string]any{
		"Generator": gen,
		"Package":   pkg,
		"Types":     blocks,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "render %s for %s", FileName, pkg)
	}
	return buf.Bytes(), nil
}

// Path returns the location of the generated source for pkg under dir.
func (w *Writer) Path(dir, pkg string) string {
	return filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(pkg, ".", "/")), FileName)
}
