package engine

import (
	"testing"

	"github.com/camptocamp/shared-config-manager/internal/config"
	"github.com/camptocamp/shared-config-manager/internal/declaration"
)

func TestNew_UnrecognizedKindErrors(t *testing.T) {
	p := testParams("app1")
	p.Decl = declaration.SourceDeclaration{Kind: declaration.Kind("bogus")}

	_, err := New(p)
	if err == nil {
		t.Fatal("expected an error for an unrecognized source kind")
	}
}

func TestNew_DispatchesByKind(t *testing.T) {
	root := t.TempDir()

	cases := []declaration.Kind{declaration.KindGit, declaration.KindRsync, declaration.KindRemoteSync}
	for _, kind := range cases {
		t.Run(string(kind), func(t *testing.T) {
			p := testParams("app1")
			p.Decl = declaration.SourceDeclaration{Kind: kind, Repo: "https://example.invalid/app.git"}
			p.Config = &config.Config{CloneRoot: root}
			eng, err := New(p)
			if err != nil {
				t.Fatalf("unexpected error constructing %s engine: %v", kind, err)
			}
			if eng.GetType() != kind {
				t.Errorf("expected GetType() %s, got %s", kind, eng.GetType())
			}
		})
	}
}
