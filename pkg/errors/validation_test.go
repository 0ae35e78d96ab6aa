package errors

import (
	"strings"
	"testing"
)

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid two segments", "com.example", false},
		{"valid deep", "com.example.app.feature", false},
		{"valid underscore", "org.my_lib.core", false},
		{"valid digits", "io.v2.app1", false},

		{"empty", "", true},
		{"single segment", "example", true},
		{"too long", "a." + strings.Repeat("b", 300), true},
		{"leading digit segment", "com.1example", true},
		{"dash", "com.my-lib", true},
		{"trailing dot", "com.example.", true},
		{"slash", "com/example", true},
		{"control char", "com.ex\x01ample", true},
		{"newline", "com.example\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePackageName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePackageName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !Is(err, ErrCodeInvalidPackage) {
				t.Errorf("ValidatePackageName(%q) code = %v, want %v", tt.input, GetCode(err), ErrCodeInvalidPackage)
			}
		})
	}
}

func TestValidateEntryPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple file", "classes.dex", false},
		{"nested", "lib/arm64-v8a/libfoo.so", false},
		{"dotted name", "assets/..hidden..txt", false},
		{"meta-inf", "META-INF/MANIFEST.MF", false},

		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "assets/../../x", true},
		{"leading traversal", "../x", true},
		{"backslash", "assets\\x.txt", true},
		{"null byte", "a\x00b", true},
		{"too long", strings.Repeat("a/", 300), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntryPath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEntryPath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
