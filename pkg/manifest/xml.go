package manifest

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/beevik/etree"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// XMLMerger is the in-memory merge primitive.
//
// Sub-documents are folded into the main document in order. A child element
// of <manifest> or <application> is copied over only if the main document
// has no element with the same tag and android:name yet, so the first
// declaration wins. Relative component class names (".Foo") of a library are
// expanded against that library's package before they are copied.
type XMLMerger struct {
	// Indent is the number of spaces used to re-indent the output. Zero
	// keeps the whitespace of the main document as parsed.
	Indent int
}

// NewXMLMerger returns an XMLMerger with default settings.
func NewXMLMerger() *XMLMerger {
	return &XMLMerger{}
}

// Tags merged as direct children of <manifest>.
var manifestChildTags = []string{
	"uses-permission",
	"uses-permission-sdk-23",
	"permission",
	"permission-group",
	"permission-tree",
	"uses-feature",
	"uses-configuration",
	"supports-screens",
	"compatible-screens",
	"supports-gl-texture",
	"instrumentation",
}

// Tags merged as direct children of <application>.
var applicationChildTags = []string{
	"activity",
	"activity-alias",
	"service",
	"receiver",
	"provider",
	"uses-library",
	"uses-native-library",
	"meta-data",
}

// Tags whose android:name is a class name.
var componentTags = []string{
	"application",
	"activity",
	"activity-alias",
	"service",
	"receiver",
	"provider",
	"instrumentation",
}

// Merge implements [Merger].
func (m *XMLMerger) Merge(ctx context.Context, req Request) ([]byte, error) {
	main, err := parseManifest(req.Main)
	if err != nil {
		return nil, err
	}

	for _, f := range req.Subs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub, err := parseManifest(f)
		if err != nil {
			return nil, err
		}
		main.merge(sub)
	}

	if req.Root != nil {
		if err := main.applyRoot(req.Root); err != nil {
			return nil, err
		}
	}

	if m.Indent > 0 {
		main.doc.Indent(m.Indent)
	}
	out, err := main.doc.WriteToBytes()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "serialize %s", req.Main.Name)
	}
	return out, nil
}

// =============================================================================
// Document
// =============================================================================

type manifestDoc struct {
	name string
	doc  *etree.Document
	root *etree.Element
	uris map[string]string // prefix -> namespace URI
}

func parseManifest(f Fragment) (*manifestDoc, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(f.Data); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "parse %s", f.Name)
	}
	root := doc.Root()
	if root == nil || root.Tag != "manifest" {
		return nil, errors.New(errors.ErrCodeInvalidManifest, "%s: root element is not <manifest>", f.Name)
	}

	d := &manifestDoc{name: f.Name, doc: doc, root: root, uris: map[string]string{}}
	for _, a := range root.Attr {
		if a.Space == "xmlns" {
			d.uris[a.Key] = a.Value
		}
	}
	return d, nil
}

func (d *manifestDoc) pkg() string {
	if a := d.attr(d.root, "", "package"); a != nil {
		return a.Value
	}
	return ""
}

func (d *manifestDoc) uri(prefix string) string {
	if prefix == "" {
		return ""
	}
	return d.uris[prefix]
}

// prefix returns the prefix bound to uri, preferring the lexically smallest
// one when several are declared.
func (d *manifestDoc) prefix(uri string) (string, bool) {
	var found []string
	for p, u := range d.uris {
		if u == uri {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return "", false
	}
	slices.Sort(found)
	return found[0], true
}

// declare binds uri to a prefix on the root element and returns the prefix.
func (d *manifestDoc) declare(uri, hint string) string {
	if p, ok := d.prefix(uri); ok {
		return p
	}
	p := hint
	if uri == AndroidNS && p == "" {
		p = "android"
	}
	for i := 0; p == "" || d.uris[p] != ""; i++ {
		p = fmt.Sprintf("ns%d", i)
	}
	d.root.CreateAttr("xmlns:"+p, uri)
	d.uris[p] = uri
	return p
}

func (d *manifestDoc) attr(el *etree.Element, uri, name string) *etree.Attr {
	for i := range el.Attr {
		a := &el.Attr[i]
		if a.Space == "xmlns" || a.Key != name {
			continue
		}
		if d.uri(a.Space) == uri {
			return a
		}
	}
	return nil
}

// key identifies an element for first-declaration-wins merging.
func (d *manifestDoc) key(el *etree.Element) string {
	if a := d.attr(el, AndroidNS, "name"); a != nil {
		name := a.Value
		if slices.Contains(componentTags, el.Tag) {
			name = qualifyClass(d.pkg(), name)
		}
		return el.Tag + "|" + name
	}

	attrs := make([]string, 0, len(el.Attr))
	for _, a := range el.Attr {
		attrs = append(attrs, d.uri(a.Space)+" "+a.Key+"="+a.Value)
	}
	slices.Sort(attrs)
	return el.Tag + "|" + strings.Join(attrs, ";")
}

// =============================================================================
// Merge
// =============================================================================

func (d *manifestDoc) merge(sub *manifestDoc) {
	seen := d.childKeys(d.root)
	for _, el := range sub.root.ChildElements() {
		if el.Tag == "application" {
			d.mergeApplication(sub, el)
			continue
		}
		if !slices.Contains(manifestChildTags, el.Tag) {
			continue
		}
		k := sub.key(el)
		if seen[k] {
			continue
		}
		seen[k] = true
		d.insertTopLevel(d.importElement(sub, el))
	}
}

func (d *manifestDoc) mergeApplication(sub *manifestDoc, subApp *etree.Element) {
	app := d.root.SelectElement("application")
	var seen map[string]bool
	if app != nil {
		seen = d.childKeys(app)
	} else {
		seen = map[string]bool{}
	}

	for _, el := range subApp.ChildElements() {
		if !slices.Contains(applicationChildTags, el.Tag) {
			continue
		}
		k := sub.key(el)
		if seen[k] {
			continue
		}
		seen[k] = true
		if app == nil {
			app = etree.NewElement("application")
			appendChild(d.root, app)
		}
		appendChild(app, d.importElement(sub, el))
	}
}

func (d *manifestDoc) childKeys(parent *etree.Element) map[string]bool {
	keys := map[string]bool{}
	for _, el := range parent.ChildElements() {
		keys[d.key(el)] = true
	}
	return keys
}

// insertTopLevel places el before <application> so declarations stay ahead
// of the components that use them.
func (d *manifestDoc) insertTopLevel(el *etree.Element) {
	if app := d.root.SelectElement("application"); app != nil {
		insertBefore(d.root, app, el)
		return
	}
	appendChild(d.root, el)
}

// insertBefore inserts el ahead of next and repeats the whitespace in front
// of next, so inserted elements line up with their parsed siblings.
func insertBefore(parent, next, el *etree.Element) {
	i := next.Index()
	ws := leadingSpace(parent, i)
	parent.InsertChildAt(i, el)
	if ws != "" {
		parent.InsertChildAt(i+1, etree.NewText(ws))
	}
}

// appendChild adds el after the last child element of parent, indented like
// that element. Trailing whitespace before the end tag stays last.
func appendChild(parent, el *etree.Element) {
	children := parent.ChildElements()
	if len(children) == 0 {
		parent.AddChild(el)
		return
	}
	last := children[len(children)-1]
	i := last.Index() + 1
	if ws := leadingSpace(parent, last.Index()); ws != "" {
		parent.InsertChildAt(i, etree.NewText(ws))
		i++
	}
	parent.InsertChildAt(i, el)
}

// leadingSpace returns the whitespace token directly in front of child i.
func leadingSpace(parent *etree.Element, i int) string {
	if i <= 0 {
		return ""
	}
	cd, ok := parent.Child[i-1].(*etree.CharData)
	if !ok || cd.IsCData() || strings.TrimSpace(cd.Data) != "" {
		return ""
	}
	return cd.Data
}

// importElement copies el out of sub, rebinding namespace prefixes to the
// ones declared in d and expanding relative class names.
func (d *manifestDoc) importElement(sub *manifestDoc, el *etree.Element) *etree.Element {
	c := el.Copy()
	d.rebind(sub, c)
	qualifyComponent(sub, c, sub.pkg())
	d.rebindAttrs(sub, c)
	return c
}

func (d *manifestDoc) rebind(sub *manifestDoc, el *etree.Element) {
	if el.Space != "" {
		if uri := sub.uri(el.Space); uri != "" {
			el.Space = d.declare(uri, el.Space)
		}
	}
	for _, c := range el.ChildElements() {
		d.rebind(sub, c)
	}
}

func (d *manifestDoc) rebindAttrs(sub *manifestDoc, el *etree.Element) {
	for i := range el.Attr {
		a := &el.Attr[i]
		if a.Space == "" || a.Space == "xmlns" {
			continue
		}
		if uri := sub.uri(a.Space); uri != "" {
			a.Space = d.declare(uri, a.Space)
		}
	}
	for _, c := range el.ChildElements() {
		d.rebindAttrs(sub, c)
	}
}

// =============================================================================
// Root Options
// =============================================================================

func (d *manifestDoc) applyRoot(opts *RootOptions) error {
	if opts.PackageOverride != "" {
		if app := d.root.SelectElement("application"); app != nil {
			qualifyComponent(d, app, d.pkg())
			for _, el := range app.ChildElements() {
				qualifyComponent(d, el, d.pkg())
			}
		}
		for _, el := range d.root.SelectElements("instrumentation") {
			qualifyComponent(d, el, d.pkg())
		}
		d.root.CreateAttr("package", opts.PackageOverride)
	}

	for _, k := range opts.Injection.Keys() {
		el, err := d.ensurePath(k.Path)
		if err != nil {
			return err
		}
		name := k.Name
		if k.Namespace != "" {
			name = d.declare(k.Namespace, "") + ":" + k.Name
		}
		el.CreateAttr(name, opts.Injection[k])
	}
	return nil
}

// ensurePath returns the element at an absolute path, creating missing
// elements as the first child of their parent.
func (d *manifestDoc) ensurePath(path string) (*etree.Element, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) == 0 || segs[0] != d.root.Tag {
		return nil, errors.New(errors.ErrCodeInvalidInput, "injection path %q does not start at <%s>", path, d.root.Tag)
	}
	el := d.root
	for _, seg := range segs[1:] {
		if seg == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "injection path %q has an empty segment", path)
		}
		next := el.SelectElement(seg)
		if next == nil {
			next = etree.NewElement(seg)
			if first := el.ChildElements(); len(first) > 0 {
				insertBefore(el, first[0], next)
			} else {
				el.AddChild(next)
			}
		}
		el = next
	}
	return el, nil
}

// =============================================================================
// Class Names
// =============================================================================

// qualifyComponent expands relative class names on a component element.
func qualifyComponent(d *manifestDoc, el *etree.Element, pkg string) {
	if pkg == "" || !slices.Contains(componentTags, el.Tag) {
		return
	}
	for _, attr := range []string{"name", "targetActivity", "backupAgent"} {
		if a := d.attr(el, AndroidNS, attr); a != nil {
			a.Value = qualifyClass(pkg, a.Value)
		}
	}
}

// qualifyClass expands ".Foo" and "Foo" to "pkg.Foo". Fully qualified names
// are returned unchanged.
func qualifyClass(pkg, name string) string {
	switch {
	case pkg == "" || name == "":
		return name
	case strings.HasPrefix(name, "."):
		return pkg + name
	case !strings.Contains(name, "."):
		return pkg + "." + name
	default:
		return name
	}
}
