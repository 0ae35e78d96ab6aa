package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zip"
	"github.com/opencontainers/go-digest"

	"github.com/matzehuels/packsmith/pkg/buildinfo"
	"github.com/matzehuels/packsmith/pkg/errors"
	"github.com/matzehuels/packsmith/pkg/observability"
	"github.com/matzehuels/packsmith/pkg/signing"
)

// BytecodeEntry is the archive path of the bytecode blob.
const BytecodeEntry = "classes.dex"

// entryTime is stamped on every entry so identical inputs produce identical
// archives.
var entryTime = time.Date(1981, time.January, 1, 0, 0, 0, 0, time.UTC)

// Options configures [Open].
type Options struct {
	Output          string // Archive to create (overwritten)
	ResourcePackage string // Compiled resource package (zip)
	Bytecode        string // Compiled bytecode blob

	// Signing is applied at seal time. SigningRequested without Signing
	// fails Open before anything is written.
	Signing          *signing.Material
	SigningRequested bool

	CreatedBy string // Created-By manifest header (defaults to buildinfo.CreatedBy)
	JNIDebug  bool   // Package gdbserver with native payloads
	Logger    *log.Logger
}

// Assembler builds one archive. It is not safe for concurrent use.
type Assembler struct {
	opts   Options
	state  State
	file   *os.File
	zw     *zip.Writer
	logger *log.Logger

	entries []Entry
	index   map[string]int
}

// Open validates the inputs, opens the output and absorbs the resource
// package and the bytecode blob.
func Open(ctx context.Context, opts Options) (*Assembler, error) {
	a := &Assembler{opts: opts, state: StateCreated, index: map[string]int{}, logger: opts.Logger}
	if a.logger == nil {
		a.logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if a.opts.CreatedBy == "" {
		a.opts.CreatedBy = buildinfo.CreatedBy()
	}

	if opts.Output == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "archive output path is required")
	}
	for _, in := range []struct{ what, path string }{
		{"resource package", opts.ResourcePackage},
		{"bytecode", opts.Bytecode},
	} {
		if err := requireFile(in.what, in.path); err != nil {
			return nil, err
		}
	}
	if opts.SigningRequested && opts.Signing == nil {
		return nil, errors.New(errors.ErrCodeSigning, "signing requested but no certificate is available")
	}

	if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create %s", filepath.Dir(opts.Output))
	}
	f, err := os.Create(opts.Output)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create %s", opts.Output)
	}
	a.file = f
	a.zw = zip.NewWriter(f)
	a.state = StateOpen

	if err := a.absorbResourcePackage(ctx); err != nil {
		a.Abort()
		return nil, err
	}
	data, err := os.ReadFile(opts.Bytecode)
	if err != nil {
		a.Abort()
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "read bytecode")
	}
	origin := Origin{Kind: OriginBytecode, Source: opts.Bytecode}
	if err := a.commit(ctx, []candidate{newCandidate(BytecodeEntry, data, origin)}); err != nil {
		a.Abort()
		return nil, err
	}

	a.logger.Debug("archive opened", "output", opts.Output, "entries", len(a.entries))
	return a, nil
}

// State returns the current lifecycle state.
func (a *Assembler) State() State {
	return a.state
}

// Entries returns the committed entries in commit order.
func (a *Assembler) Entries() []Entry {
	return slices.Clone(a.entries)
}

// AddSecondaryResources packages every file below root under its relative
// path. Hidden files, VCS folders, source and class files are skipped.
func (a *Assembler) AddSecondaryResources(ctx context.Context, root string) error {
	if err := a.checkOpen("add secondary resources"); err != nil {
		return err
	}

	origin := Origin{Kind: OriginSecondaryResource, Source: root}
	var cands []candidate
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && !keepFolder(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !keepFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		cands = append(cands, newCandidate(filepath.ToSlash(rel), data, origin))
		return nil
	})
	if err != nil {
		return walkError(ctx, err, root)
	}
	return a.commit(ctx, cands)
}

// AddFromArchive absorbs the entries of a packaged dependency. Directories,
// class files and signature files are skipped.
func (a *Assembler) AddFromArchive(ctx context.Context, archivePath string) error {
	if err := a.checkOpen("add from archive"); err != nil {
		return err
	}
	cands, err := readArchive(ctx, archivePath, Origin{Kind: OriginDependencyArchive, Source: archivePath}, func(name string) bool {
		return !isSignatureEntry(name) && keepFile(path.Base(name))
	})
	if err != nil {
		return err
	}
	return a.commit(ctx, cands)
}

// AddNativePayloads packages root/<abi>/*.so as lib/<abi>/<file>, plus
// gdbserver when JNIDebug is set. Deeper directories are ignored.
func (a *Assembler) AddNativePayloads(ctx context.Context, root string) error {
	if err := a.checkOpen("add native payloads"); err != nil {
		return err
	}

	abis, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(errors.ErrCodeFileNotFound, err, "native payload root %s", root)
		}
		return errors.Wrap(errors.ErrCodeInternal, err, "read %s", root)
	}

	origin := Origin{Kind: OriginNativePayload, Source: root}
	var cands []candidate
	for _, abi := range abis {
		if !abi.IsDir() || !keepFolder(abi.Name()) || abi.Name()[0] == '.' {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, abi.Name()))
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "read %s", abi.Name())
		}
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !f.Type().IsRegular() || !nativeFile(f.Name(), a.opts.JNIDebug) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(root, abi.Name(), f.Name()))
			if err != nil {
				return errors.Wrap(errors.ErrCodeInternal, err, "read %s", f.Name())
			}
			cands = append(cands, newCandidate("lib/"+abi.Name()+"/"+f.Name(), data, origin))
		}
	}
	return a.commit(ctx, cands)
}

// Seal writes the archive metadata, signs the archive when signing material
// was supplied and closes the output. The assembler is terminal afterwards.
func (a *Assembler) Seal(ctx context.Context) error {
	if err := a.checkOpen("seal"); err != nil {
		return err
	}

	signed := a.opts.Signing != nil
	manifest, sections := buildManifest(a.opts.CreatedBy, a.entries, signed)
	meta := []candidate{newCandidate(ManifestPath, manifest, Origin{Kind: OriginMetadata})}

	if signed {
		sf := buildSignatureFile(a.opts.CreatedBy, manifest, sections)
		sig, err := signing.Sign(a.opts.Signing, sf)
		if err != nil {
			a.Abort()
			return err
		}
		meta = append(meta,
			newCandidate(a.opts.Signing.EntryName("SF"), sf, Origin{Kind: OriginMetadata}),
			newCandidate(a.opts.Signing.EntryName("SIG"), sig, Origin{Kind: OriginMetadata}),
		)
	}

	for _, c := range meta {
		if err := a.write(c); err != nil {
			a.Abort()
			return err
		}
	}
	if err := a.zw.Close(); err != nil {
		a.Abort()
		return errors.Wrap(errors.ErrCodeInternal, err, "finish %s", a.opts.Output)
	}
	if err := a.file.Close(); err != nil {
		a.state = StateAborted
		return errors.Wrap(errors.ErrCodeInternal, err, "close %s", a.opts.Output)
	}

	a.state = StateSealed
	observability.Archive().OnSealed(ctx, len(a.entries), signed)
	a.logger.Info("archive sealed", "output", a.opts.Output, "entries", len(a.entries), "signed", signed)
	return nil
}

// Abort closes and removes the output. It is a no-op unless the assembler
// is open.
func (a *Assembler) Abort() {
	if a.state != StateOpen {
		return
	}
	a.state = StateAborted
	_ = a.file.Close()
	_ = os.Remove(a.opts.Output)
}

// =============================================================================
// Internals
// =============================================================================

func (a *Assembler) checkOpen(op string) error {
	if a.state != StateOpen {
		return &SealedStateError{Op: op, State: a.state}
	}
	return nil
}

// commit validates a whole batch against the committed entries and each
// other, then writes the new entries. Nothing is written if any candidate is
// rejected.
func (a *Assembler) commit(ctx context.Context, cands []candidate) error {
	pending := map[string]int{}
	var accepted []candidate

	for _, c := range cands {
		if err := errors.ValidateEntryPath(c.path); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidPath, err, "entry from %s", c.origin)
		}
		if i, ok := a.index[c.path]; ok {
			existing := a.entries[i]
			if existing.Digest != c.digest {
				return &DuplicateEntryError{Path: c.path, Existing: existing.Origin, Incoming: c.origin}
			}
			observability.Archive().OnDuplicateSkipped(ctx, c.path)
			a.logger.Debug("identical entry skipped", "path", c.path, "origin", c.origin.Kind)
			continue
		}
		if i, ok := pending[c.path]; ok {
			if accepted[i].digest != c.digest {
				return &DuplicateEntryError{Path: c.path, Existing: accepted[i].origin, Incoming: c.origin}
			}
			continue
		}
		pending[c.path] = len(accepted)
		accepted = append(accepted, c)
	}

	for _, c := range accepted {
		if err := a.write(c); err != nil {
			a.Abort()
			return err
		}
		a.index[c.path] = len(a.entries)
		a.entries = append(a.entries, Entry{Path: c.path, Origin: c.origin, Size: int64(len(c.data)), Digest: c.digest})
		observability.Archive().OnEntryAdded(ctx, string(c.origin.Kind), int64(len(c.data)))
	}
	return nil
}

func (a *Assembler) write(c candidate) error {
	method := zip.Deflate
	if c.store || storeUncompressed(c.path) {
		method = zip.Store
	}
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     c.path,
		Method:   method,
		Modified: entryTime,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create entry %s", c.path)
	}
	if _, err := w.Write(c.data); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write entry %s", c.path)
	}
	return nil
}

func (a *Assembler) absorbResourcePackage(ctx context.Context) error {
	origin := Origin{Kind: OriginResourcePackage, Source: a.opts.ResourcePackage}
	cands, err := readArchive(ctx, a.opts.ResourcePackage, origin, func(name string) bool {
		return !isSignatureEntry(name)
	})
	if err != nil {
		return err
	}
	return a.commit(ctx, cands)
}

// readArchive reads the file entries of a zip archive accepted by keep.
func readArchive(ctx context.Context, archivePath string, origin Origin, keep func(string) bool) ([]candidate, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "archive %s", archivePath)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "open archive %s", archivePath)
	}
	defer r.Close()

	var cands []candidate
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() || !keep(f.Name) {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read %s from %s", f.Name, archivePath)
		}
		c := newCandidate(f.Name, data, origin)
		c.store = f.Method == zip.Store
		cands = append(cands, c)
	}
	return cands, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func requireFile(what, p string) error {
	if p == "" {
		return errors.New(errors.ErrCodeInvalidInput, "%s path is required", what)
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(errors.ErrCodeFileNotFound, err, "%s %s does not exist", what, p)
		}
		return errors.Wrap(errors.ErrCodeInternal, err, "stat %s", p)
	}
	if info.IsDir() {
		return errors.New(errors.ErrCodeInvalidInput, "%s %s is a directory", what, p)
	}
	return nil
}

func walkError(ctx context.Context, err error, root string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeFileNotFound, err, "secondary resource root %s", root)
	}
	return errors.Wrap(errors.ErrCodeInternal, err, "walk %s", root)
}

// Digest returns the digest of a committed entry.
func (a *Assembler) Digest(p string) (digest.Digest, bool) {
	i, ok := a.index[p]
	if !ok {
		return "", false
	}
	return a.entries[i].Digest, true
}
