package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/camptocamp/shared-config-manager/internal/config"
	"github.com/camptocamp/shared-config-manager/internal/declaration"
)

func TestNewRemoteSyncEngine_DeleteRemovesRcloneConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	cfg := &config.Config{CloneRoot: root}
	p := testParams("app1")
	p.Config = cfg
	p.Decl = declaration.SourceDeclaration{Kind: declaration.KindRemoteSync, RcloneConfig: "type = s3\n"}
	p.TargetPath = filepath.Join(root, "app1")

	eng, err := NewRemoteSyncEngine(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	configPath := filepath.Join(root, "rclone-app1.conf")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("seeding config dir: %v", err)
	}
	if err := os.WriteFile(configPath, []byte("[remote]\ntype = s3\n"), 0o600); err != nil {
		t.Fatalf("seeding rclone config: %v", err)
	}

	if err := eng.Delete(context.Background()); err != nil {
		t.Fatalf("unexpected error deleting: %v", err)
	}
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Errorf("expected rclone config to be removed, stat err = %v", err)
	}
}

func TestNewRemoteSyncEngine_DeleteIsIdempotentWhenConfigAbsent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	cfg := &config.Config{CloneRoot: root}
	p := testParams("app1")
	p.Config = cfg
	p.Decl = declaration.SourceDeclaration{Kind: declaration.KindRemoteSync, RcloneConfig: "type = s3\n"}

	eng, err := NewRemoteSyncEngine(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := eng.Delete(context.Background()); err != nil {
		t.Errorf("expected deleting a never-written config to be a no-op, got %v", err)
	}
}
