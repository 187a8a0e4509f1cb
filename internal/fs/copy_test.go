package fs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"svld/internal/fs"
	"svld/internal/testutil"
)

func TestNativeStrategy_Copy(t *testing.T) {
	src := t.TempDir()
	testutil.BuildTree(t, src, testutil.SaveTree()...)
	testutil.BuildTree(t, src, testutil.Dir("empty", 1_700_000_500))
	dst := filepath.Join(t.TempDir(), "nested", "copy")

	w := fs.NewWalker(4, nil)
	if err := fs.NewNativeStrategy(w, nil).Copy(context.Background(), src, dst); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}

	want, err := w.Fingerprint(src)
	if err != nil {
		t.Fatalf("Fingerprint(src) error = %v", err)
	}
	got, err := w.Fingerprint(dst)
	if err != nil {
		t.Fatalf("Fingerprint(dst) error = %v", err)
	}
	if got != want {
		t.Errorf("copy digest = %s, want %s", got, want)
	}

	if data := testutil.ReadFile(t, filepath.Join(dst, "world", "level.dat")); len(data) != 512 {
		t.Errorf("level.dat has %d bytes, want 512", len(data))
	}
	if info, err := os.Stat(filepath.Join(dst, "empty")); err != nil || !info.IsDir() {
		t.Errorf("empty directory not recreated: %v", err)
	}
}

func TestNativeStrategy_Copy_KeepsExistingFiles(t *testing.T) {
	src := t.TempDir()
	testutil.BuildTree(t, src, testutil.File("a.txt", 3, 1000))
	dst := t.TempDir()
	testutil.BuildTree(t, dst, testutil.Node{Path: "extra.txt", Data: "keep"})

	if err := fs.NewNativeStrategy(fs.NewWalker(1, nil), nil).Copy(context.Background(), src, dst); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if got := testutil.ReadFile(t, filepath.Join(dst, "extra.txt")); got != "keep" {
		t.Errorf("extra.txt = %q, want %q", got, "keep")
	}
	if got := testutil.ReadFile(t, filepath.Join(dst, "a.txt")); got != "xxx" {
		t.Errorf("a.txt = %q, want %q", got, "xxx")
	}
}

func TestNativeStrategy_Copy_PreservesMode(t *testing.T) {
	src := t.TempDir()
	testutil.BuildTree(t, src, testutil.File("run.sh", 4, 1000))
	if err := os.Chmod(filepath.Join(src, "run.sh"), 0750); err != nil {
		t.Fatal(err)
	}
	dst := t.TempDir()

	if err := fs.NewNativeStrategy(fs.NewWalker(1, nil), nil).Copy(context.Background(), src, dst); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0750 {
		t.Errorf("mode = %v, want %v", info.Mode().Perm(), os.FileMode(0750))
	}
}

func TestNativeStrategy_Copy_UnreadableSource(t *testing.T) {
	dst := t.TempDir()
	err := fs.NewNativeStrategy(fs.NewWalker(1, nil), nil).Copy(context.Background(), filepath.Join(dst, "missing"), filepath.Join(dst, "out"))
	if err == nil {
		t.Fatal("Copy() expected error for missing source")
	}
}

// fakeStrategy records its invocation order and returns a fixed error.
type fakeStrategy struct {
	name  string
	err   error
	calls *[]string
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Copy(context.Context, string, string) error {
	*f.calls = append(*f.calls, f.name)
	return f.err
}

func TestCopier_CopyTree(t *testing.T) {
	errBoom := errors.New("boom")
	errLast := errors.New("last")

	tests := []struct {
		name      string
		results   []error
		wantCalls []string
		wantErr   error
	}{
		{
			name:      "first strategy succeeds",
			results:   []error{nil, nil},
			wantCalls: []string{"s0"},
		},
		{
			name:      "unavailable falls through",
			results:   []error{fs.ErrStrategyUnavailable, nil},
			wantCalls: []string{"s0", "s1"},
		},
		{
			name:      "failure falls back",
			results:   []error{errBoom, nil},
			wantCalls: []string{"s0", "s1"},
		},
		{
			name:      "all fail returns last error",
			results:   []error{errBoom, errLast},
			wantCalls: []string{"s0", "s1"},
			wantErr:   errLast,
		},
		{
			name:      "trailing unavailable keeps real failure",
			results:   []error{errBoom, fs.ErrStrategyUnavailable},
			wantCalls: []string{"s0", "s1"},
			wantErr:   errBoom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			var strategies []fs.Strategy
			for i, res := range tt.results {
				strategies = append(strategies, &fakeStrategy{name: "s" + string(rune('0'+i)), err: res, calls: &calls})
			}

			err := fs.NewCopier(nil, strategies...).CopyTree(context.Background(), "src", "dst")
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("CopyTree() error = %v, want %v", err, tt.wantErr)
			}
			if !slices.Equal(calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

func TestCopier_CanceledContext(t *testing.T) {
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fs.NewCopier(nil, &fakeStrategy{name: "s0", calls: &calls}).CopyTree(ctx, "src", "dst")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("CopyTree() error = %v, want context.Canceled", err)
	}
	if len(calls) != 0 {
		t.Errorf("strategy ran %d times after cancel", len(calls))
	}
}

func TestStrategiesFromNames(t *testing.T) {
	w := fs.NewWalker(1, nil)

	got, err := fs.StrategiesFromNames([]string{"robocopy", "rsync", "native"}, w, nil)
	if err != nil {
		t.Fatalf("StrategiesFromNames() error = %v", err)
	}
	var names []string
	for _, s := range got {
		names = append(names, s.Name())
	}
	if want := []string{"robocopy", "rsync", "native"}; !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}

	defaults, err := fs.StrategiesFromNames(nil, w, nil)
	if err != nil {
		t.Fatalf("StrategiesFromNames(nil) error = %v", err)
	}
	if last := defaults[len(defaults)-1].Name(); last != "native" {
		t.Errorf("default chain ends with %q, want native", last)
	}

	if _, err := fs.StrategiesFromNames([]string{"xcopy"}, w, nil); err == nil {
		t.Error("StrategiesFromNames() expected error for unknown strategy")
	}
}
