package manifest

import (
	"os"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// ReadPackage returns the package attribute of the manifest at path.
func ReadPackage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrap(errors.ErrCodeFileNotFound, err, "manifest %s not found", path)
		}
		return "", errors.Wrap(errors.ErrCodeInvalidManifest, err, "read manifest %s", path)
	}
	return PackageOf(path, data)
}

// PackageOf returns the package attribute of a manifest document. name is
// used in error messages only.
func PackageOf(name string, data []byte) (string, error) {
	d, err := parseManifest(Fragment{Name: name, Data: data})
	if err != nil {
		return "", err
	}
	pkg := d.pkg()
	if pkg == "" {
		return "", errors.New(errors.ErrCodeInvalidManifest, "%s: missing package attribute", name)
	}
	return pkg, nil
}
