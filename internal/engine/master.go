package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// MasterConfigFileName is the file the synthetic "master" engine's
// target_path is expected to contain, per spec.md §3.
const MasterConfigFileName = "shared_config_manager.yaml"

// NewMasterEngine builds the synthetic engine with id "master" whose
// do_refresh is a no-op (its content is supplied by whatever real source
// kind backs it — typically git or rsync pointed at a config repo) unless
// the caller wires a concrete backing refresh via backing. Standalone mode
// never constructs this engine at all: the config is decoded inline instead.
func NewMasterEngine(p Params, backing func(ctx context.Context) error) Engine {
	b := newBase(p)
	if backing != nil {
		b.doRefresh = backing
	} else {
		b.doRefresh = func(context.Context) error { return nil }
	}
	return b
}

// ReadMasterConfigFile reads shared_config_manager.yaml from the master
// engine's target_path.
func ReadMasterConfigFile(targetPath string) ([]byte, error) {
	path := filepath.Join(targetPath, MasterConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
