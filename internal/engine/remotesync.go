package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/camptocamp/shared-config-manager/internal/subprocess"
)

// NewRemoteSyncEngine builds the remote-sync source engine: writes
// "[remote]\n<config>" to a per-id rclone config file, syncs to a temporary
// sibling of target_path on first install, then atomically renames into
// position; subsequent refreshes sync in place. Grounded on
// original_source's RcloneSource.
func NewRemoteSyncEngine(p Params) (Engine, error) {
	decl := p.Decl
	configPath := filepath.Join(p.Config.CloneRoot, "rclone-"+p.ID+".conf")

	b := newBase(p)
	b.doRefresh = func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("creating rclone config dir: %w", err)
		}
		body := "[remote]\n" + decl.RcloneConfig + "\n"
		if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
			return fmt.Errorf("writing rclone config: %w", err)
		}

		if _, err := os.Stat(b.targetPath); os.IsNotExist(err) {
			tmp := b.targetPath + ".tmp"
			if err := os.RemoveAll(tmp); err != nil {
				return fmt.Errorf("clearing stale temp dir %s: %w", tmp, err)
			}
			if err := subprocess.RcloneSync(ctx, configPath, decl.SubDir, tmp, decl.Excludes); err != nil {
				_ = os.RemoveAll(tmp)
				return fmt.Errorf("rclone sync: %w", err)
			}
			return os.Rename(tmp, b.targetPath)
		}

		return subprocess.RcloneSync(ctx, configPath, decl.SubDir, b.targetPath, decl.Excludes)
	}
	b.doDelete = func(context.Context) error {
		if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing rclone config: %w", err)
		}
		return nil
	}
	return b, nil
}
