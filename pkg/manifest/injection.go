package manifest

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// AndroidNS is the namespace of the platform's manifest attributes.
const AndroidNS = "http://schemas.android.com/apk/res/android"

// NoValue marks an integer injection that must not be applied.
const NoValue = -1

// Element paths addressed by the built-in injections.
const (
	PathManifest = "/manifest"
	PathUsesSDK  = "/manifest/uses-sdk"
)

// Built-in injectable attributes.
var (
	AttrVersionCode      = AttributeKey{Path: PathManifest, Namespace: AndroidNS, Name: "versionCode"}
	AttrVersionName      = AttributeKey{Path: PathManifest, Namespace: AndroidNS, Name: "versionName"}
	AttrMinSDKVersion    = AttributeKey{Path: PathUsesSDK, Namespace: AndroidNS, Name: "minSdkVersion"}
	AttrTargetSDKVersion = AttributeKey{Path: PathUsesSDK, Namespace: AndroidNS, Name: "targetSdkVersion"}
)

// AttributeKey addresses one attribute of one element in a manifest.
// Path is an absolute element path such as "/manifest/uses-sdk".
type AttributeKey struct {
	Path      string
	Namespace string
	Name      string
}

// String renders the key as "path|namespace name" (or "path|name" without a
// namespace). [ParseAttributeKey] accepts the same form.
func (k AttributeKey) String() string {
	if k.Namespace == "" {
		return k.Path + "|" + k.Name
	}
	return k.Path + "|" + k.Namespace + " " + k.Name
}

// ParseAttributeKey parses the form produced by [AttributeKey.String].
func ParseAttributeKey(s string) (AttributeKey, error) {
	path, attr, ok := strings.Cut(s, "|")
	if !ok || !strings.HasPrefix(path, "/") || attr == "" {
		return AttributeKey{}, errors.New(errors.ErrCodeInvalidInput, "invalid attribute key %q (want /path|namespace name)", s)
	}
	k := AttributeKey{Path: path, Name: attr}
	if ns, name, ok := strings.Cut(attr, " "); ok {
		k.Namespace, k.Name = ns, name
	}
	if k.Name == "" {
		return AttributeKey{}, errors.New(errors.ErrCodeInvalidInput, "invalid attribute key %q: empty attribute name", s)
	}
	return k, nil
}

// Injection maps attributes to the literal values forced onto the final
// merged manifest.
type Injection map[AttributeKey]string

// NewInjection builds the standard injection map. Integer arguments equal to
// [NoValue] and an empty versionName are left out.
func NewInjection(versionCode int, versionName string, minSDK, targetSDK int) Injection {
	inj := Injection{}
	if versionCode != NoValue {
		inj[AttrVersionCode] = strconv.Itoa(versionCode)
	}
	if versionName != "" {
		inj[AttrVersionName] = versionName
	}
	if minSDK != NoValue {
		inj[AttrMinSDKVersion] = strconv.Itoa(minSDK)
	}
	if targetSDK != NoValue {
		inj[AttrTargetSDKVersion] = strconv.Itoa(targetSDK)
	}
	return inj
}

// Keys returns the injected attributes in a stable order (path, namespace, name).
func (inj Injection) Keys() []AttributeKey {
	return slices.SortedFunc(maps.Keys(inj), func(a, b AttributeKey) int {
		return cmp.Or(
			cmp.Compare(a.Path, b.Path),
			cmp.Compare(a.Namespace, b.Namespace),
			cmp.Compare(a.Name, b.Name),
		)
	})
}

// Set adds or replaces one attribute value.
func (inj Injection) Set(key AttributeKey, value string) {
	inj[key] = value
}

// Clone returns an independent copy of inj.
func (inj Injection) Clone() Injection {
	if inj == nil {
		return nil
	}
	return maps.Clone(inj)
}

// RootOptions are applied only by the outermost merge call.
type RootOptions struct {
	Injection       Injection
	PackageOverride string // Renames the manifest package when non-empty
}

// IsEmpty reports whether applying o would change nothing.
func (o *RootOptions) IsEmpty() bool {
	return o == nil || (len(o.Injection) == 0 && o.PackageOverride == "")
}

// String summarizes o for logs.
func (o *RootOptions) String() string {
	if o.IsEmpty() {
		return "none"
	}
	parts := make([]string, 0, len(o.Injection)+1)
	for _, k := range o.Injection.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%s", k.Name, o.Injection[k]))
	}
	if o.PackageOverride != "" {
		parts = append(parts, "package="+o.PackageOverride)
	}
	return strings.Join(parts, ",")
}
