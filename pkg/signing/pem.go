package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// PEM block types.
const (
	BlockCertificate = "CERTIFICATE"
	BlockSignature   = "SIGNATURE"
	blockPKCS1Key    = "RSA PRIVATE KEY"
	blockPKCS8Key    = "PRIVATE KEY"
	blockECKey       = "EC PRIVATE KEY"
)

// AlgorithmHeader is the SIGNATURE block header naming the algorithm.
const AlgorithmHeader = "Signature Algorithm"

// PEMProvider loads material from a PEM certificate chain and a PEM private
// key. RSA (PKCS#1 or PKCS#8) and ECDSA (SEC 1 or PKCS#8) keys are supported.
type PEMProvider struct{}

// Certificate implements [Provider].
func (PEMProvider) Certificate(cfg Config) (*Material, error) {
	if !cfg.IsReady() {
		return nil, nil
	}

	certData, err := os.ReadFile(cfg.StoreFile)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSigning, err, "read certificate store")
	}
	chain, err := ParseCertificateChain(certData)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSigning, err, "parse %s", cfg.StoreFile)
	}

	keyData, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSigning, err, "read private key")
	}
	key, err := ParsePrivateKey(keyData)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSigning, err, "parse %s", cfg.KeyFile)
	}

	if !publicKeyMatches(key.Public(), chain[0].PublicKey) {
		return nil, errors.New(errors.ErrCodeSigning, "private key does not match certificate %s", chain[0].Subject)
	}
	return &Material{Key: key, Chain: chain, Alias: cfg.KeyAlias}, nil
}

// ParseCertificateChain parses consecutive CERTIFICATE blocks, stopping at
// the first block of another type.
func ParseCertificateChain(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for len(data) > 0 {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != BlockCertificate {
			if len(chain) == 0 {
				return nil, fmt.Errorf("unexpected PEM block %q, want %q", block.Type, BlockCertificate)
			}
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
		data = rest
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no %q PEM block found", BlockCertificate)
	}
	return chain, nil
}

// ParsePrivateKey returns the first private key found in PEM data.
func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	for len(data) > 0 {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case blockPKCS1Key:
			return x509.ParsePKCS1PrivateKey(block.Bytes)
		case blockECKey:
			return x509.ParseECPrivateKey(block.Bytes)
		case blockPKCS8Key:
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			switch k := k.(type) {
			case *rsa.PrivateKey:
				return k, nil
			case *ecdsa.PrivateKey:
				return k, nil
			default:
				return nil, fmt.Errorf("unsupported private key type %T", k)
			}
		}
		data = rest
	}
	return nil, fmt.Errorf("no private key PEM block found")
}

func publicKeyMatches(a, b crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	if e, ok := a.(equaler); ok {
		return e.Equal(b)
	}
	return false
}
