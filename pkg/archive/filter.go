package archive

import (
	"path"
	"strings"
)

// Folders never packaged from secondary resource trees.
var ignoredFolders = []string{"cvs", ".svn", ".git", "sccs", "meta-inf"}

// File extensions never packaged from secondary resources or dependency
// archives. Source, compiled class and editor files belong to the build, not
// the archive.
var ignoredExtensions = []string{
	"aidl", "rs", "rsh", "java", "class", "scc", "swp",
}

// Exact file names never packaged.
var ignoredFiles = []string{"thumbs.db", "picasa.ini", "package.html", "overview.html"}

// Signature and manifest files of signed archives.
var signatureExtensions = []string{"sf", "rsa", "dsa", "ec", "sig"}

func keepFolder(name string) bool {
	lower := strings.ToLower(name)
	for _, f := range ignoredFolders {
		if lower == f {
			return false
		}
	}
	return !strings.HasPrefix(name, "_")
}

func keepFile(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	lower := strings.ToLower(name)
	for _, f := range ignoredFiles {
		if lower == f {
			return false
		}
	}
	ext := strings.TrimPrefix(path.Ext(lower), ".")
	for _, e := range ignoredExtensions {
		if ext == e {
			return false
		}
	}
	return true
}

// isSignatureEntry reports whether p is the manifest or a signature file of
// a signed archive.
func isSignatureEntry(p string) bool {
	dir, name := path.Split(p)
	if !strings.EqualFold(dir, "META-INF/") {
		return false
	}
	if strings.EqualFold(name, "MANIFEST.MF") {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	for _, e := range signatureExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// nativeFile reports whether name inside an ABI folder is packaged.
func nativeFile(name string, jniDebug bool) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.EqualFold(path.Ext(name), ".so") {
		return true
	}
	return jniDebug && name == "gdbserver"
}

// storedExtensions are already compressed and written without deflate.
var storedExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".ogg", ".mp3", ".mp4", ".zip", ".jar", ".arsc",
}

func storeUncompressed(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range storedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
