package manifest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/matzehuels/packsmith/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingMerger renders every request as "main<sub,sub>!" and records it.
// The trailing "!" marks a root merge.
type recordingMerger struct {
	mu    sync.Mutex
	calls []Request
	fail  string // main content that triggers an error
}

func (m *recordingMerger) Merge(_ context.Context, req Request) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.fail != "" && string(req.Main.Data) == m.fail {
		return nil, fmt.Errorf("conflict in %s", req.Main.Name)
	}

	subs := make([]string, len(req.Subs))
	for i, s := range req.Subs {
		subs[i] = string(s.Data)
	}
	out := string(req.Main.Data) + "<" + strings.Join(subs, ",") + ">"
	if req.Root != nil {
		out += "!"
	}
	return []byte(out), nil
}

func (m *recordingMerger) rootCalls() int {
	n := 0
	for _, c := range m.calls {
		if c.Root != nil {
			n++
		}
	}
	return n
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMergeCopiesUnchanged(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")

	m := &recordingMerger{}
	out, err := NewResolver(m, nil).Merge(context.Background(), Input{Main: main})
	if err != nil {
		t.Fatalf("Merge() error: %v", err)
	}
	if string(out) != "APP" {
		t.Errorf("Merge() = %q, want %q", out, "APP")
	}
	if len(m.calls) != 0 {
		t.Errorf("merge calls = %d, want 0", len(m.calls))
	}
}

func TestMergeInjectionOnly(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")

	m := &recordingMerger{}
	out, err := NewResolver(m, nil).Merge(context.Background(), Input{
		Main:      main,
		Injection: NewInjection(3, "", NoValue, NoValue),
	})
	if err != nil {
		t.Fatalf("Merge() error: %v", err)
	}
	if string(out) != "APP<>!" {
		t.Errorf("Merge() = %q, want %q", out, "APP<>!")
	}
}

func TestMergeLibraryTree(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")
	l2 := &Dependency{Name: "L2", Path: writeFile(t, dir, "l2.xml", "L2")}
	l1 := &Dependency{Name: "L1", Path: writeFile(t, dir, "l1.xml", "L1"), Dependencies: []*Dependency{l2}}
	l3 := &Dependency{Name: "L3", Path: writeFile(t, dir, "l3.xml", "L3")}

	m := &recordingMerger{}
	out, err := NewResolver(m, nil).Merge(context.Background(), Input{
		Main:      main,
		Libraries: []*Dependency{l1, l3},
		Injection: NewInjection(12, "", NoValue, NoValue),
	})
	if err != nil {
		t.Fatalf("Merge() error: %v", err)
	}

	want := "APP<L1<L2>,L3>!"
	if string(out) != want {
		t.Errorf("Merge() = %q, want %q", out, want)
	}
	if len(m.calls) != 2 {
		t.Fatalf("merge calls = %d, want 2", len(m.calls))
	}
	if m.calls[0].Root != nil {
		t.Error("library subtree merge received root options")
	}
	if m.rootCalls() != 1 {
		t.Errorf("root calls = %d, want 1", m.rootCalls())
	}
}

func TestMergeOverlays(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")
	o1 := writeFile(t, dir, "o1.xml", "O1")
	o2 := writeFile(t, dir, "o2.xml", "O2")
	lib := &Dependency{Path: writeFile(t, dir, "lib.xml", "LIB")}

	tests := []struct {
		name  string
		libs  []*Dependency
		want  string
		calls int
	}{
		{"overlays only", nil, "APP<O1,O2>!", 1},
		{"overlays and libraries", []*Dependency{lib}, "APP<O1,O2><LIB>!", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &recordingMerger{}
			out, err := NewResolver(m, nil).Merge(context.Background(), Input{
				Main:      main,
				Overlays:  []string{o1, o2},
				Libraries: tt.libs,
				Injection: NewInjection(1, "1.0", NoValue, NoValue),
			})
			if err != nil {
				t.Fatalf("Merge() error: %v", err)
			}
			if string(out) != tt.want {
				t.Errorf("Merge() = %q, want %q", out, tt.want)
			}
			if len(m.calls) != tt.calls {
				t.Errorf("merge calls = %d, want %d", len(m.calls), tt.calls)
			}
			if m.rootCalls() != 1 {
				t.Errorf("root calls = %d, want 1", m.rootCalls())
			}
			if last := m.calls[len(m.calls)-1]; last.Root == nil {
				t.Error("last merge call has no root options")
			}
		})
	}
}

func TestMergeParallelMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")

	var libs []*Dependency
	for i := range 6 {
		leafA := &Dependency{Path: writeFile(t, dir, fmt.Sprintf("a%d.xml", i), fmt.Sprintf("A%d", i))}
		leafB := &Dependency{Path: writeFile(t, dir, fmt.Sprintf("b%d.xml", i), fmt.Sprintf("B%d", i))}
		libs = append(libs, &Dependency{
			Path:         writeFile(t, dir, fmt.Sprintf("l%d.xml", i), fmt.Sprintf("L%d", i)),
			Dependencies: []*Dependency{leafA, leafB},
		})
	}
	in := Input{Main: main, Libraries: libs}

	seq, err := (&Resolver{Merger: &recordingMerger{}}).Merge(context.Background(), in)
	if err != nil {
		t.Fatalf("sequential Merge() error: %v", err)
	}
	for range 5 {
		par, err := (&Resolver{Merger: &recordingMerger{}, Parallel: true}).Merge(context.Background(), in)
		if err != nil {
			t.Fatalf("parallel Merge() error: %v", err)
		}
		if !bytes.Equal(seq, par) {
			t.Fatalf("parallel output differs:\n got %s\nwant %s", par, seq)
		}
	}
}

func TestMergeFailure(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")
	leaf := &Dependency{Name: "leaf", Path: writeFile(t, dir, "leaf.xml", "LEAF")}
	bad := &Dependency{Name: "bad", Path: writeFile(t, dir, "bad.xml", "BAD"), Dependencies: []*Dependency{leaf}}

	for _, parallel := range []bool{false, true} {
		r := &Resolver{Merger: &recordingMerger{fail: "BAD"}, Parallel: parallel}
		_, err := r.Merge(context.Background(), Input{
			Main:      main,
			Libraries: []*Dependency{leaf, bad},
		})
		if !errors.Is(err, errors.ErrCodeMergeFailed) {
			t.Errorf("parallel=%v: code = %v, want %v", parallel, errors.GetCode(err), errors.ErrCodeMergeFailed)
		}
	}
}

func TestMergeKeepsToolErrorCode(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")

	r := NewResolver(&ToolMerger{Command: []string{"packsmith-no-such-merge-tool"}}, nil)
	_, err := r.Merge(context.Background(), Input{Main: main, PackageOverride: "com.example.renamed"})
	if !errors.Is(err, errors.ErrCodeMissingTool) {
		t.Errorf("code = %v, want %v", errors.GetCode(err), errors.ErrCodeMissingTool)
	}
}

func TestMergeMissingFile(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")
	missing := &Dependency{Name: "gone", Path: filepath.Join(dir, "gone.xml")}

	_, err := NewResolver(&recordingMerger{}, nil).Merge(context.Background(), Input{
		Main:      main,
		Libraries: []*Dependency{missing},
	})
	if !errors.Is(err, errors.ErrCodeFileNotFound) {
		t.Errorf("code = %v, want %v", errors.GetCode(err), errors.ErrCodeFileNotFound)
	}
}

func TestMergeCanceled(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")
	lib := &Dependency{Path: writeFile(t, dir, "lib.xml", "LIB")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewResolver(&recordingMerger{}, nil).Merge(ctx, Input{Main: main, Libraries: []*Dependency{lib}})
	if err != context.Canceled {
		t.Errorf("Merge() error = %v, want %v", err, context.Canceled)
	}
}

func TestMergeTest(t *testing.T) {
	dir := t.TempDir()
	lib := &Dependency{Path: writeFile(t, dir, "lib.xml", "LIB")}
	tm := TestManifest{
		Package:               "com.app.test",
		TestedPackage:         "com.app",
		InstrumentationRunner: "android.test.InstrumentationTestRunner",
		MinSDKVersion:         9,
		TargetSDKVersion:      NoValue,
	}

	m := &recordingMerger{}
	out, err := NewResolver(m, nil).MergeTest(context.Background(), tm, []*Dependency{lib})
	if err != nil {
		t.Fatalf("MergeTest() error: %v", err)
	}
	if !strings.HasSuffix(string(out), "<LIB>") {
		t.Errorf("MergeTest() = %q, want library merged without root options", out)
	}
	if m.rootCalls() != 0 {
		t.Errorf("root calls = %d, want 0", m.rootCalls())
	}
}

func TestMergeInvalidOverride(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.xml", "APP")

	_, err := NewResolver(&recordingMerger{}, nil).Merge(context.Background(), Input{
		Main:            main,
		PackageOverride: "nodots",
	})
	if !errors.Is(err, errors.ErrCodeInvalidPackage) {
		t.Errorf("code = %v, want %v", errors.GetCode(err), errors.ErrCodeInvalidPackage)
	}
}
