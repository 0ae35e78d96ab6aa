// Package signing supplies the certificate material used to seal signed
// archives.
//
// Signing is a boundary capability: the archive assembler only needs a
// [Material] (private key plus certificate chain). Where it comes from is up
// to a [Provider]. The bundled [PEMProvider] reads PEM files from disk.
//
// Signatures are SHA-256 based and encoded as one PEM block of type
// SIGNATURE, carrying the algorithm in a header, followed by the certificate
// chain as CERTIFICATE blocks.
package signing

import (
	"crypto"
	"crypto/x509"
	"strings"
)

// DefaultAlias names the signature files when no alias is configured.
const DefaultAlias = "CERT"

// Config locates signing material.
type Config struct {
	StoreFile string // PEM certificate chain, leaf first
	KeyFile   string // PEM private key
	KeyAlias  string // Base name of the signature entries (default CERT)
}

// IsReady reports whether c names everything needed to sign.
func (c Config) IsReady() bool {
	return c.StoreFile != "" && c.KeyFile != ""
}

// Material is a loaded private key and its certificate chain.
type Material struct {
	Key   crypto.Signer
	Chain []*x509.Certificate
	Alias string
}

// Certificate returns the leaf certificate.
func (m *Material) Certificate() *x509.Certificate {
	if m == nil || len(m.Chain) == 0 {
		return nil
	}
	return m.Chain[0]
}

// EntryName returns the archive name for a signature file with the given
// extension, e.g. "META-INF/CERT.SF".
func (m *Material) EntryName(ext string) string {
	alias := DefaultAlias
	if m != nil && m.Alias != "" {
		alias = strings.ToUpper(m.Alias)
	}
	return "META-INF/" + alias + "." + ext
}

// Provider loads signing material.
//
// Certificate returns (nil, nil) when cfg is not ready to sign. Callers that
// require signing must treat that as an error.
type Provider interface {
	Certificate(cfg Config) (*Material, error)
}
