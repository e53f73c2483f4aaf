package template

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/camptocamp/shared-config-manager/internal/declaration"
)

func TestEvaluate_TextTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.conf.tmpl"), "host={{.HOST}}\n")
	writeFile(t, filepath.Join(dir, "unrelated.txt"), "leave me alone")

	cfg := declaration.TemplateEngineConfig{Kind: KindText, Extension: ".tmpl"}
	ev := New(cfg, map[string]string{"HOST": "backend.internal"})

	errs := ev.Evaluate(dir, []string{"app.conf.tmpl", "unrelated.txt"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}

	out, err := os.ReadFile(filepath.Join(dir, "app.conf"))
	if err != nil {
		t.Fatalf("reading expanded output: %v", err)
	}
	if string(out) != "host=backend.internal\n" {
		t.Errorf("unexpected output: %q", out)
	}

	if _, err := os.Stat(filepath.Join(dir, "unrelated")); !os.IsNotExist(err) {
		t.Error("expected unrelated.txt (no matching extension) to be left untouched")
	}
}

func TestEvaluate_TextTemplate_DestSubDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.conf.tmpl"), "x={{.X}}")

	cfg := declaration.TemplateEngineConfig{Kind: KindText, Extension: ".tmpl", DestSubDir: "rendered"}
	ev := New(cfg, map[string]string{"X": "1"})

	errs := ev.Evaluate(dir, []string{"app.conf.tmpl"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}

	if _, err := os.Stat(filepath.Join(dir, "rendered", "app.conf")); err != nil {
		t.Errorf("expected output under rendered/: %v", err)
	}
}

func TestEvaluate_TextTemplate_ParseErrorIsPerFileNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.conf.tmpl"), "{{.Unclosed")
	writeFile(t, filepath.Join(dir, "good.conf.tmpl"), "ok={{.OK}}")

	cfg := declaration.TemplateEngineConfig{Kind: KindText, Extension: ".tmpl"}
	ev := New(cfg, map[string]string{"OK": "yes"})

	errs := ev.Evaluate(dir, []string{"bad.conf.tmpl", "good.conf.tmpl"})
	if len(errs) != 1 {
		t.Fatalf("expected exactly 1 file error, got %d: %+v", len(errs), errs)
	}
	if errs[0].Path != "bad.conf.tmpl" {
		t.Errorf("expected the error to name bad.conf.tmpl, got %q", errs[0].Path)
	}

	if _, err := os.Stat(filepath.Join(dir, "good.conf")); err != nil {
		t.Errorf("expected good.conf.tmpl to still expand despite bad.conf.tmpl failing: %v", err)
	}
}

func TestFilterEnv(t *testing.T) {
	environ := []string{
		"MUTUALIZED_HOST=backend.internal",
		"MUTUALIZED_PORT=8080",
		"PATH=/usr/bin",
		"HOME=/root",
		"malformed-entry",
	}

	got := FilterEnv(environ, []string{"MUTUALIZED_"})

	if len(got) != 2 {
		t.Fatalf("expected 2 matching vars, got %d: %v", len(got), got)
	}
	if got["MUTUALIZED_HOST"] != "backend.internal" {
		t.Errorf("unexpected value: %v", got)
	}
	if _, ok := got["PATH"]; ok {
		t.Error("expected PATH to be excluded")
	}
}

func TestFilterEnv_NoPrefixesConfigured(t *testing.T) {
	got := FilterEnv([]string{"MUTUALIZED_HOST=x"}, nil)
	if len(got) != 0 {
		t.Errorf("expected empty result with no configured prefixes, got %v", got)
	}
}

func TestFlattenEnv_NestedData(t *testing.T) {
	cfg := declaration.TemplateEngineConfig{
		Kind: KindShell,
		Data: map[string]any{
			"backend": map[string]any{
				"host": "db1",
				"port": float64(5432),
			},
			"hosts": []any{"a", "b"},
			"flag":  "on",
		},
	}
	ev := New(cfg, nil)

	got := ev.flattenEnv()
	sort.Strings(got)

	want := []string{
		"BACKEND_HOST=db1",
		"BACKEND_PORT=5432",
		"FLAG=on",
		"HOSTS_0=a",
		"HOSTS_1=b",
	}
	sort.Strings(want)

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
