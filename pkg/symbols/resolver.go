package symbols

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/manifest"
)

// Library is one dependency contributing identifiers.
type Library struct {
	Name       string // Display name (defaults to Manifest)
	Manifest   string // Library manifest, read for its package name
	SymbolFile string // Library symbol table; may not exist
}

func (l Library) label() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Manifest
}

// Request describes one resolve call.
type Request struct {
	FullTable   string // The application's authoritative table
	Libraries   []Library
	HostPackage string // Package of the application; never generated
	OutputDir   string // Root of the generated source tree
}

// Package is the resolved output for one package name.
type Package struct {
	Name      string
	Libraries []string // Contributing libraries, in input order
	Symbols   []Symbol // Resolved symbols, in first-seen order
	Path      string   // Generated file
}

// Conflict records a key that two libraries of one package declare with
// different local values. The generated value is always the full table's.
type Conflict struct {
	Package string
	Key     Key
	Claims  []Claim
}

// Claim is one library's local value for a conflicting key.
type Claim struct {
	Library string
	Kind    Kind
	Value   string
}

// MissingSymbol is a key a library references that the full table lacks.
type MissingSymbol struct {
	Package string
	Library string
	Key     Key
}

// Result summarizes a resolve call.
type Result struct {
	Packages  []*Package // In first-seen order of the library list
	Skipped   []string   // Libraries without a symbol table or owned by the host
	Conflicts []Conflict
	Missing   []MissingSymbol
}

// Resolver turns library symbol tables into generated sources.
type Resolver struct {
	Writer *Writer
	Logger *log.Logger
}

// NewResolver creates a Resolver with the default writer.
func NewResolver(logger *log.Logger) *Resolver {
	return &Resolver{Writer: &Writer{}, Logger: logger}
}

type group struct {
	name   string
	libs   []string
	tables []*Table
}

// Resolve groups library tables by package, resolves their values against the
// full table and writes one generated source per package. Nothing is written
// unless every package resolved.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if req.OutputDir == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "output directory is required")
	}
	start := time.Now()
	logger := r.logger()
	res := &Result{}

	// ===== Grouping =====

	var (
		full   *Table
		groups []*group
		byName = map[string]*group{}
	)
	for _, lib := range req.Libraries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(lib.SymbolFile)
		if err != nil && !os.IsNotExist(err) && lib.SymbolFile != "" {
			return nil, errors.Wrap(errors.ErrCodeInvalidSymbols, err, "stat symbols of %s", lib.label())
		}
		if err != nil || !info.Mode().IsRegular() {
			logger.Debug("library has no symbols", "library", lib.label())
			res.Skipped = append(res.Skipped, lib.label())
			continue
		}

		pkg, err := manifest.ReadPackage(lib.Manifest)
		if err != nil {
			return nil, err
		}
		if pkg == req.HostPackage {
			logger.Debug("library shares host package", "library", lib.label(), "package", pkg)
			res.Skipped = append(res.Skipped, lib.label())
			continue
		}

		if full == nil {
			if full, err = loadFullTable(req.FullTable); err != nil {
				return nil, err
			}
			logger.Debug("loaded full table", "path", req.FullTable, "symbols", full.Len())
		}

		table, err := Load(lib.SymbolFile)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidSymbols, err, "symbols of library %s", lib.label())
		}

		g, ok := byName[pkg]
		if !ok {
			g = &group{name: pkg}
			byName[pkg] = g
			groups = append(groups, g)
		}
		g.libs = append(g.libs, lib.label())
		g.tables = append(g.tables, table)
	}

	// ===== Resolution =====

	outputs := make(map[string][]byte, len(groups))
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.resolveGroup(g, full, res)
		data, err := r.writer().Render(p.Name, p.Symbols)
		if err != nil {
			return nil, err
		}
		p.Path = r.writer().Path(req.OutputDir, p.Name)
		outputs[p.Path] = data
		res.Packages = append(res.Packages, p)
	}

	for _, c := range res.Conflicts {
		logger.Warn("conflicting library values", "package", c.Package, "symbol", c.Key, "libraries", len(c.Claims))
	}
	for _, m := range res.Missing {
		logger.Warn("symbol missing from full table", "package", m.Package, "library", m.Library, "symbol", m.Key)
	}

	// ===== Output =====

	for _, p := range res.Packages {
		if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "create %s", filepath.Dir(p.Path))
		}
		if err := os.WriteFile(p.Path, outputs[p.Path], 0o644); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "write %s", p.Path)
		}
	}

	logger.Info("symbols resolved",
		"packages", len(res.Packages),
		"skipped", len(res.Skipped),
		"time", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// resolveGroup coalesces the keys of every table in g and takes their values
// from full.
func (r *Resolver) resolveGroup(g *group, full *Table, res *Result) *Package {
	p := &Package{Name: g.name, Libraries: g.libs}

	claims := map[Key][]Claim{}
	var order []Key
	for i, t := range g.tables {
		for _, s := range t.Symbols() {
			k := s.Key()
			if _, seen := claims[k]; !seen {
				order = append(order, k)
			}
			claims[k] = append(claims[k], Claim{Library: g.libs[i], Kind: s.Kind, Value: s.Value})
		}
	}

	for _, k := range order {
		cs := claims[k]
		if isConflict(cs) {
			res.Conflicts = append(res.Conflicts, Conflict{Package: g.name, Key: k, Claims: cs})
		}
		s, ok := full.Get(k)
		if !ok {
			res.Missing = append(res.Missing, MissingSymbol{Package: g.name, Library: cs[0].Library, Key: k})
			continue
		}
		p.Symbols = append(p.Symbols, s)
	}
	return p
}

func isConflict(cs []Claim) bool {
	for _, c := range cs[1:] {
		if c.Kind != cs[0].Kind || c.Value != cs[0].Value {
			return true
		}
	}
	return false
}

func loadFullTable(path string) (*Table, error) {
	if path == "" {
		return nil, &MissingFullTableError{}
	}
	t, err := Load(path)
	if err != nil {
		if errors.Is(err, errors.ErrCodeFileNotFound) {
			return nil, &MissingFullTableError{Path: path}
		}
		return nil, err
	}
	return t, nil
}

// MissingFullTableError is returned when libraries need identifiers but the
// application's full table does not exist.
type MissingFullTableError struct {
	Path string
}

func (e *MissingFullTableError) Error() string {
	if e.Path == "" {
		return "full symbol table is required but not configured"
	}
	return "full symbol table " + e.Path + " does not exist"
}

// Code implements [errors.Coder].
func (e *MissingFullTableError) Code() errors.Code {
	return errors.ErrCodeMissingFullTable
}

func (r *Resolver) writer() *Writer {
	if r.Writer == nil {
		return &Writer{}
	}
	return r.Writer
}

func (r *Resolver) logger() *log.Logger {
	if r.Logger == nil {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	return r.Logger
}
