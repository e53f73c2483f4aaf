package watch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Reconciler is the subset of Registry the config file watcher needs.
type Reconciler interface {
	ReloadAndReconcile(ctx context.Context) error
}

// ConfigFileWatcher watches the master config file for close-after-write or
// removal/replacement (the inode-replacement pattern editors and
// ConfigMap/Secret mounts use) and triggers a reconcile, per spec.md §4.5.
type ConfigFileWatcher struct {
	path       string
	reconciler Reconciler
	log        logr.Logger
}

// NewConfigFileWatcher builds a ConfigFileWatcher for path.
func NewConfigFileWatcher(path string, reconciler Reconciler, log logr.Logger) *ConfigFileWatcher {
	return &ConfigFileWatcher{path: path, reconciler: reconciler, log: log.WithName("config-watcher")}
}

// Run blocks until ctx is canceled, watching the config file's containing
// directory (so a Rename/Remove-then-recreate of the file itself, as
// happens with symlink-swap-based ConfigMap mounts, is still observed).
func (c *ConfigFileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != c.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if err := c.reconciler.ReloadAndReconcile(ctx); err != nil {
				c.log.Error(err, "reconcile after config change failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Error(err, "fsnotify error")
		}
	}
}

