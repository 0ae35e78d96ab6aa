package archive

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"

	"github.com/opencontainers/go-digest"
)

// Metadata entry names.
const (
	ManifestPath    = "META-INF/MANIFEST.MF"
	manifestVersion = "1.0"
	maxLineLength   = 72
)

type section struct {
	name string
	data []byte
}

// buildManifest renders META-INF/MANIFEST.MF. With digests it carries one
// section per entry, in commit order, and returns the sections separately
// for the signature file.
func buildManifest(createdBy string, entries []Entry, digests bool) ([]byte, []section) {
	var buf bytes.Buffer
	writeHeader(&buf, "Manifest-Version", manifestVersion)
	writeHeader(&buf, "Created-By", createdBy)
	buf.WriteString("\r\n")

	if !digests {
		return buf.Bytes(), nil
	}

	sections := make([]section, 0, len(entries))
	for _, e := range entries {
		var s bytes.Buffer
		writeHeader(&s, "Name", e.Path)
		writeHeader(&s, "SHA-256-Digest", encodeDigest(e.Digest))
		s.WriteString("\r\n")
		buf.Write(s.Bytes())
		sections = append(sections, section{name: e.Path, data: s.Bytes()})
	}
	return buf.Bytes(), sections
}

// buildSignatureFile renders the signature file covering the manifest and
// each of its sections.
func buildSignatureFile(createdBy string, manifest []byte, sections []section) []byte {
	var buf bytes.Buffer
	writeHeader(&buf, "Signature-Version", manifestVersion)
	writeHeader(&buf, "Created-By", createdBy)
	writeHeader(&buf, "SHA-256-Digest-Manifest", encodeDigest(digest.FromBytes(manifest)))
	buf.WriteString("\r\n")

	for _, s := range sections {
		writeHeader(&buf, "Name", s.name)
		writeHeader(&buf, "SHA-256-Digest", encodeDigest(digest.FromBytes(s.data)))
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// writeHeader writes "key: value", continuing lines longer than 72 bytes
// with a leading space.
func writeHeader(buf *bytes.Buffer, key, value string) {
	line := key + ": " + value
	limit := maxLineLength
	for len(line) > limit {
		buf.WriteString(line[:limit])
		buf.WriteString("\r\n ")
		line = line[limit:]
		limit = maxLineLength - 1
	}
	buf.WriteString(line)
	buf.WriteString("\r\n")
}

// encodeDigest converts a digest to the base64 form used in manifests.
func encodeDigest(d digest.Digest) string {
	raw, err := hex.DecodeString(d.Encoded())
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
