package manifest

import (
	"bytes"
	"encoding/xml"
	"strings"
	"text/template"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// TestManifest describes the instrumentation manifest generated for a test
// application.
type TestManifest struct {
	Package               string // Package of the test application
	TestedPackage         string // Package of the application under test
	InstrumentationRunner string // Fully qualified runner class
	MinSDKVersion         int    // NoValue omits the attribute
	TargetSDKVersion      int    // NoValue omits the attribute
}

var testManifestTmpl = template.Must(template.New("test-manifest").Funcs(template.FuncMap{
	"xml": escapeXML,
}).Parse(`<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="{{.NS}}"
    package="{{xml .Package}}">

    <uses-sdk{{if ne .MinSDKVersion -1}} android:minSdkVersion="{{.MinSDKVersion}}"{{end}}{{if ne .TargetSDKVersion -1}} android:targetSdkVersion="{{.TargetSDKVersion}}"{{end}} />

    <application>
        <uses-library android:name="android.test.runner" />
    </application>

    <instrumentation android:name="{{xml .InstrumentationRunner}}"
                     android:targetPackage="{{xml .TestedPackage}}"
                     android:label="Tests for {{xml .TestedPackage}}" />
</manifest>
`))

// GenerateTestManifest renders the instrumentation manifest for tm.
func GenerateTestManifest(tm TestManifest) ([]byte, error) {
	if err := errors.ValidatePackageName(tm.Package); err != nil {
		return nil, err
	}
	if err := errors.ValidatePackageName(tm.TestedPackage); err != nil {
		return nil, err
	}
	if strings.TrimSpace(tm.InstrumentationRunner) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "instrumentation runner is required")
	}

	var buf bytes.Buffer
	err := testManifestTmpl.Execute(&buf, struct {
		TestManifest
		NS string
	}{tm, AndroidNS})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "render test manifest")
	}
	return buf.Bytes(), nil
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
