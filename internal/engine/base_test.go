package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/camptocamp/shared-config-manager/internal/config"
	"github.com/camptocamp/shared-config-manager/internal/declaration"
)

func TestTargetPath(t *testing.T) {
	cfg := &config.Config{Target: "/var/lib/scm/slave", MasterTarget: "/var/lib/scm/master"}

	cases := []struct {
		name     string
		isMaster bool
		id       string
		decl     declaration.SourceDeclaration
		want     string
	}{
		{"slave default dir", false, "app1", declaration.SourceDeclaration{}, "/var/lib/scm/slave/app1"},
		{"master default dir", true, "app1", declaration.SourceDeclaration{}, "/var/lib/scm/master/app1"},
		{"declared relative target_dir", false, "app1", declaration.SourceDeclaration{TargetDir: "custom"}, "/var/lib/scm/slave/custom"},
		{"declared absolute target_dir overrides root", false, "app1", declaration.SourceDeclaration{TargetDir: "/opt/elsewhere"}, "/opt/elsewhere"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TargetPath(cfg, tc.isMaster, tc.id, tc.decl)
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFilterExcluded(t *testing.T) {
	files := []string{"app.conf", "secrets/token.txt", "build/output.bin", "README.md"}

	cases := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{"no patterns keeps everything", nil, files},
		{"single dir glob", []string{"secrets/**"}, []string{"app.conf", "build/output.bin", "README.md"}},
		{"doublestar across any depth", []string{"**/*.bin"}, []string{"app.conf", "secrets/token.txt", "README.md"}},
		{"exact file name", []string{"README.md"}, []string{"app.conf", "secrets/token.txt", "build/output.bin"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := filterExcluded(files, tc.patterns)
			if !stringSlicesEqualUnordered(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWalkFiles(t *testing.T) {
	t.Run("enumerates regular files relative to root", func(t *testing.T) {
		dir := t.TempDir()
		mustWrite(t, filepath.Join(dir, "a.txt"), "a")
		mustWrite(t, filepath.Join(dir, "sub", "b.txt"), "b")

		files, err := walkFiles(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"a.txt", filepath.Join("sub", "b.txt")}
		if !stringSlicesEqualUnordered(files, want) {
			t.Errorf("got %v, want %v", files, want)
		}
	})

	t.Run("missing root returns no error", func(t *testing.T) {
		files, err := walkFiles(filepath.Join(t.TempDir(), "does-not-exist"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if files != nil {
			t.Errorf("expected nil file list, got %v", files)
		}
	})
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func stringSlicesEqualUnordered(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[string]int{}
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, c := range seen {
		if c != 0 {
			return false
		}
	}
	return true
}
