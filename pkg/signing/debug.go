package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// DebugSubject is the subject of generated debug certificates.
var DebugSubject = pkix.Name{
	CommonName:   "Android Debug",
	Organization: []string{"Android"},
	Country:      []string{"US"},
}

// DebugValidity is how long a generated debug certificate is valid.
const DebugValidity = 30 * 365 * 24 * time.Hour

// CreateDebugStore generates a self-signed debug certificate and key and
// writes them as PEM to cfg.StoreFile and cfg.KeyFile. Existing files are
// left alone and reported as an error.
func CreateDebugStore(cfg Config) error {
	if !cfg.IsReady() {
		return errors.New(errors.ErrCodeInvalidInput, "certificate and key paths are required")
	}
	for _, p := range []string{cfg.StoreFile, cfg.KeyFile} {
		if _, err := os.Stat(p); err == nil {
			return errors.New(errors.ErrCodeInvalidInput, "%s already exists", p)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSigning, err, "generate key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return errors.Wrap(errors.ErrCodeSigning, err, "generate serial")
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               DebugSubject,
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(DebugValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSigning, err, "create certificate")
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSigning, err, "encode key")
	}

	if err := writePEM(cfg.StoreFile, BlockCertificate, der, 0o644); err != nil {
		return err
	}
	return writePEM(cfg.KeyFile, blockPKCS8Key, keyDER, 0o600)
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create %s", filepath.Dir(path))
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write %s", path)
	}
	return nil
}
