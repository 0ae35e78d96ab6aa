package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// Signature algorithms written to the SIGNATURE block header.
const (
	AlgorithmRSA   = "SHA256withRSA"
	AlgorithmECDSA = "SHA256withECDSA"
)

// Sign signs data with m and returns the SIGNATURE block followed by the
// certificate chain.
func Sign(m *Material, data []byte) ([]byte, error) {
	if m == nil || m.Key == nil || len(m.Chain) == 0 {
		return nil, errors.New(errors.ErrCodeSigning, "incomplete signing material")
	}

	var algo string
	switch m.Key.Public().(type) {
	case *rsa.PublicKey:
		algo = AlgorithmRSA
	case *ecdsa.PublicKey:
		algo = AlgorithmECDSA
	default:
		return nil, errors.New(errors.ErrCodeSigning, "unsupported key type %T", m.Key.Public())
	}

	digest := sha256.Sum256(data)
	sig, err := m.Key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSigning, err, "sign")
	}

	out := pem.EncodeToMemory(&pem.Block{
		Type:    BlockSignature,
		Headers: map[string]string{AlgorithmHeader: algo},
		Bytes:   sig,
	})
	for _, c := range m.Chain {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: BlockCertificate, Bytes: c.Raw})...)
	}
	return out, nil
}

// Verify checks a block produced by [Sign] against data and returns the
// signing certificate. The chain itself is not validated against any root.
func Verify(sigPEM, data []byte) (*x509.Certificate, error) {
	block, rest := pem.Decode(sigPEM)
	if block == nil || block.Type != BlockSignature {
		return nil, errors.New(errors.ErrCodeSigning, "missing %s block", BlockSignature)
	}
	chain, err := ParseCertificateChain(rest)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSigning, err, "parse certificate chain")
	}

	var algo x509.SignatureAlgorithm
	switch block.Headers[AlgorithmHeader] {
	case AlgorithmRSA:
		algo = x509.SHA256WithRSA
	case AlgorithmECDSA:
		algo = x509.ECDSAWithSHA256
	default:
		return nil, errors.New(errors.ErrCodeSigning, "unsupported signature algorithm %q", block.Headers[AlgorithmHeader])
	}

	if err := chain[0].CheckSignature(algo, data, block.Bytes); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSigning, err, "verify signature")
	}
	return chain[0], nil
}
