package archive

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// OriginKind classifies where an entry came from.
type OriginKind string

const (
	OriginResourcePackage   OriginKind = "resource-package"
	OriginBytecode          OriginKind = "bytecode"
	OriginSecondaryResource OriginKind = "secondary-resource"
	OriginDependencyArchive OriginKind = "dependency-archive"
	OriginNativePayload     OriginKind = "native-payload"
	OriginMetadata          OriginKind = "metadata"
)

// Origin identifies the input that produced an entry.
type Origin struct {
	Kind   OriginKind
	Source string // File or directory the entry was read from
}

func (o Origin) String() string {
	if o.Source == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s (%s)", o.Kind, o.Source)
}

// Entry is a committed archive entry.
type Entry struct {
	Path   string
	Origin Origin
	Size   int64
	Digest digest.Digest
}

// candidate is an entry that has been read but not yet committed.
type candidate struct {
	path   string
	data   []byte
	origin Origin
	store  bool // Write uncompressed
	digest digest.Digest
}

func newCandidate(path string, data []byte, origin Origin) candidate {
	return candidate{path: path, data: data, origin: origin, digest: digest.FromBytes(data)}
}
