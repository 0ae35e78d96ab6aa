// Package symbols resolves per-library resource identifier tables into
// generated identifier sources, one per package.
//
// A symbol table is a flat text file with one record per line:
//
//	int drawable icon 0x7f020000
//	int[] styleable Theme { 0x7f010000, 0x7f010001 }
//
// The application's full table holds the authoritative values. Library
// tables reference a subset of the same keys and are used only to decide
// which keys each package needs.
package symbols

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// Kind is the declared type of a symbol value.
type Kind string

const (
	KindInt      Kind = "int"
	KindIntArray Kind = "int[]"
)

// Key identifies a symbol within a table.
type Key struct {
	Type string // Resource type, e.g. "drawable" or "styleable"
	Name string
}

func (k Key) String() string {
	return k.Type + "/" + k.Name
}

// Symbol is one record of a table.
type Symbol struct {
	Kind  Kind
	Type  string
	Name  string
	Value string // Canonical literal: "0x7f020000" or "{ 0x7f010000, 0x7f010001 }"
}

// Key returns the (type, name) key of s.
func (s Symbol) Key() Key {
	return Key{Type: s.Type, Name: s.Name}
}

// Table is an ordered set of symbols keyed by (type, name).
type Table struct {
	Name    string // Origin, used in errors
	symbols []Symbol
	index   map[Key]int
}

// NewTable returns an empty table.
func NewTable(name string) *Table {
	return &Table{Name: name, index: map[Key]int{}}
}

// Put adds s, replacing the value of an existing symbol with the same key in
// place so that table order is that of first declaration.
func (t *Table) Put(s Symbol) {
	if i, ok := t.index[s.Key()]; ok {
		t.symbols[i] = s
		return
	}
	t.index[s.Key()] = len(t.symbols)
	t.symbols = append(t.symbols, s)
}

// Get returns the symbol stored under k.
func (t *Table) Get(k Key) (Symbol, bool) {
	i, ok := t.index[k]
	if !ok {
		return Symbol{}, false
	}
	return t.symbols[i], true
}

// Len returns the number of symbols.
func (t *Table) Len() int {
	return len(t.symbols)
}

// Symbols returns the symbols in table order.
func (t *Table) Symbols() []Symbol {
	out := make([]Symbol, len(t.symbols))
	copy(out, t.symbols)
	return out
}

// WriteTo serializes the table in the flat text format.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, s := range t.symbols {
		c, err := fmt.Fprintf(w, "%s %s %s %s\n", s.Kind, s.Type, s.Name, s.Value)
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Load reads a table from path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "symbol table %s not found", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidSymbols, err, "open symbol table %s", path)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads a table in the flat text format. Blank lines are ignored.
func Parse(r io.Reader, name string) (*Table, error) {
	t := NewTable(name)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		s, err := parseRecord(text)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidSymbols, err, "%s:%d", name, line)
		}
		t.Put(s)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidSymbols, err, "read %s", name)
	}
	return t, nil
}

func parseRecord(line string) (Symbol, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Symbol{}, fmt.Errorf("want \"<kind> <type> <name> <value>\", got %q", line)
	}
	s := Symbol{Kind: Kind(fields[0]), Type: fields[1], Name: fields[2]}

	switch s.Kind {
	case KindInt:
		if len(fields) != 4 {
			return Symbol{}, fmt.Errorf("int %s has trailing data", s.Name)
		}
		v, err := parseID(fields[3])
		if err != nil {
			return Symbol{}, err
		}
		s.Value = v
	case KindIntArray:
		v, err := parseIDList(strings.Join(fields[3:], " "))
		if err != nil {
			return Symbol{}, fmt.Errorf("int[] %s: %w", s.Name, err)
		}
		s.Value = v
	default:
		return Symbol{}, fmt.Errorf("unknown kind %q", s.Kind)
	}
	return s, nil
}

func parseID(s string) (string, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return "", fmt.Errorf("invalid identifier %q", s)
	}
	return fmt.Sprintf("0x%08x", v), nil
}

func parseIDList(s string) (string, error) {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return "", fmt.Errorf("array value %q is not braced", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return "{ }", nil
	}

	parts := strings.Split(body, ",")
	ids := make([]string, len(parts))
	for i, p := range parts {
		id, err := parseID(strings.TrimSpace(p))
		if err != nil {
			return "", err
		}
		ids[i] = id
	}
	return "{ " + strings.Join(ids, ", ") + " }", nil
}
