package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/camptocamp/shared-config-manager/internal/metrics"
)

func TestReadMasterConfigFile_ReadsExpectedFilename(t *testing.T) {
	dir := t.TempDir()
	content := []byte("sources: {}\n")
	if err := os.WriteFile(filepath.Join(dir, MasterConfigFileName), content, 0o644); err != nil {
		t.Fatalf("seeding config file: %v", err)
	}

	got, err := ReadMasterConfigFile(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("expected %q, got %q", content, got)
	}
}

func TestReadMasterConfigFile_MissingFile(t *testing.T) {
	_, err := ReadMasterConfigFile(t.TempDir())
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func testParams(id string) Params {
	return Params{ID: id, Log: logr.Discard(), Metrics: metrics.New()}
}

func TestNewMasterEngine_DefaultsToNoopRefresh(t *testing.T) {
	eng := NewMasterEngine(testParams("master"), nil)
	if err := eng.Refresh(context.Background()); err != nil {
		t.Errorf("expected default backing refresh to be a no-op, got %v", err)
	}
}

func TestNewMasterEngine_UsesProvidedBacking(t *testing.T) {
	wantErr := errors.New("backing refresh failed")
	eng := NewMasterEngine(testParams("master"), func(context.Context) error { return wantErr })

	if err := eng.Refresh(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("expected provided backing error to propagate, got %v", err)
	}
}
