// Package engine implements the per-kind source engines spec.md §4.3
// describes: a common base (composition, not inheritance, per spec.md §9)
// that owns target_path, the refresh/fetch state machine, template
// evaluation and stats redaction, and three kind-specific closures
// (do_refresh, do_fetch, delete) supplied by the constructors in git.go,
// rsync.go, remotesync.go and master.go.
//
// Grounded on internal/syncengine's engine.go/copy.go (the copy step and
// per-engine state) and internal/git/client.go (the clone/fetch/checkout
// split this package's git.go adapts).
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-logr/logr"

	"github.com/camptocamp/shared-config-manager/internal/config"
	"github.com/camptocamp/shared-config-manager/internal/declaration"
	"github.com/camptocamp/shared-config-manager/internal/errs"
	"github.com/camptocamp/shared-config-manager/internal/metrics"
	"github.com/camptocamp/shared-config-manager/internal/status"
	"github.com/camptocamp/shared-config-manager/internal/subprocess"
	"github.com/camptocamp/shared-config-manager/internal/template"
)

// Fetcher pulls a materialized source from the master by tarball (§4.4).
// Implemented by internal/fetch.Client; declared here so this package does
// not need to import it.
type Fetcher interface {
	Fetch(ctx context.Context, id, targetPath string) error
}

// Engine is the polymorphic interface spec.md §9 asks for: do_refresh,
// do_fetch, delete, get_stats, get_type, get_path, plus the bookkeeping
// (IsLoaded, RefreshOrFetch) the registry needs.
type Engine interface {
	ID() string
	GetType() declaration.Kind
	GetPath() string
	IsLoaded() bool
	Declaration() declaration.SourceDeclaration

	Refresh(ctx context.Context) error
	Fetch(ctx context.Context) error
	RefreshOrFetch(ctx context.Context, isMaster bool) error
	Delete(ctx context.Context) error
	GetStats() status.SourceStatus
}

// Base holds every field and method that does not vary by source kind.
// Kind-specific behavior is injected as closures by the constructors in
// this package, per spec.md §9's "composition, not inheritance" note.
type Base struct {
	id         string
	decl       declaration.SourceDeclaration
	targetPath string

	cfg *config.Config
	met *metrics.Metrics
	log logr.Logger
	fch Fetcher

	doRefresh func(ctx context.Context) error
	doFetch   func(ctx context.Context) error // nil => default pull-by-tarball
	doDelete  func(ctx context.Context) error // extra cleanup beyond target_path removal

	// templatesEnabled is false on a master with one or more slaves, per
	// spec.md §4.3: "Skipped entirely on a master that has non-zero
	// slaves (templates run near the point of consumption)."
	templatesEnabled bool

	mu      sync.Mutex
	loaded  bool
	hash    string
	gitTags []string
}

// Params bundles the shared dependencies every kind-specific constructor
// needs.
type Params struct {
	ID               string
	Decl             declaration.SourceDeclaration
	TargetPath       string
	Config           *config.Config
	Metrics          *metrics.Metrics
	Log              logr.Logger
	Fetcher          Fetcher
	TemplatesEnabled bool
}

func newBase(p Params) *Base {
	return &Base{
		id:               p.ID,
		decl:             p.Decl,
		targetPath:       p.TargetPath,
		cfg:              p.Config,
		met:              p.Metrics,
		log:              p.Log.WithValues("source_id", p.ID, "kind", string(p.Decl.Kind)),
		fch:              p.Fetcher,
		templatesEnabled: p.TemplatesEnabled,
	}
}

// TargetPath computes target_path per spec.md §4.3: declaration.target_dir
// under the role root, or the root joined with id if unset; an absolute
// target_dir overrides the root entirely.
func TargetPath(cfg *config.Config, isMaster bool, id string, decl declaration.SourceDeclaration) string {
	root := cfg.Target
	if isMaster {
		root = cfg.MasterTarget
	}
	sub := decl.TargetDir
	if sub == "" {
		sub = id
	}
	if filepath.IsAbs(sub) {
		return sub
	}
	return filepath.Join(root, sub)
}

func (b *Base) ID() string                                  { return b.id }
func (b *Base) GetType() declaration.Kind                    { return b.decl.Kind }
func (b *Base) GetPath() string                              { return b.targetPath }
func (b *Base) Declaration() declaration.SourceDeclaration   { return b.decl }

func (b *Base) IsLoaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

func (b *Base) setLoaded(v bool) {
	b.mu.Lock()
	b.loaded = v
	b.mu.Unlock()
}

// SetHash records the hash/tags a git engine resolved, surfaced later via
// GetStats. No-op for non-git kinds.
func (b *Base) SetHash(hash string, tags []string) {
	b.mu.Lock()
	b.hash = hash
	b.gitTags = tags
	b.mu.Unlock()
}

func (b *Base) snapshot() (string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hash, b.gitTags
}

// Refresh is the master-side update: do_refresh, then templates, then mark
// loaded, per spec.md §4.3.
func (b *Base) Refresh(ctx context.Context) error {
	start := time.Now()
	if err := b.doRefresh(ctx); err != nil {
		b.met.RefreshTotal.WithLabelValues(b.id, string(b.decl.Kind), "error").Inc()
		b.log.Error(err, "refresh failed")
		return &errs.ProviderError{SourceID: b.id, Err: err}
	}

	b.evaluateTemplates(ctx)
	b.setLoaded(true)

	b.met.RefreshDuration.WithLabelValues(b.id, string(b.decl.Kind)).Observe(time.Since(start).Seconds())
	b.met.RefreshTotal.WithLabelValues(b.id, string(b.decl.Kind), "ok").Inc()
	return nil
}

// Fetch is the slave-side update: do_fetch (default: pull-by-tarball), then
// templates, then mark loaded.
func (b *Base) Fetch(ctx context.Context) error {
	start := time.Now()

	fetchFn := b.doFetch
	if fetchFn == nil {
		fetchFn = func(ctx context.Context) error {
			return b.fch.Fetch(ctx, b.id, b.targetPath)
		}
	}

	if err := fetchFn(ctx); err != nil {
		b.met.FetchTotal.WithLabelValues(b.id, "error").Inc()
		b.log.Error(err, "fetch failed")
		return &errs.FetchError{SourceID: b.id, Err: err}
	}

	b.evaluateTemplates(ctx)
	b.setLoaded(true)

	b.met.FetchDuration.WithLabelValues(b.id).Observe(time.Since(start).Seconds())
	b.met.FetchTotal.WithLabelValues(b.id, "ok").Inc()
	return nil
}

// RefreshOrFetch picks the operation appropriate to this node's role.
func (b *Base) RefreshOrFetch(ctx context.Context, isMaster bool) error {
	if isMaster {
		return b.Refresh(ctx)
	}
	return b.Fetch(ctx)
}

// Delete removes target_path and any kind-specific state (clone dir, ssh
// key), per spec.md §4.2 step 4 and §4.3's ssh-key management.
func (b *Base) Delete(ctx context.Context) error {
	if b.doDelete != nil {
		if err := b.doDelete(ctx); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(b.targetPath); err != nil {
		return fmt.Errorf("removing target path %s: %w", b.targetPath, err)
	}
	return removeSSHKey(b.id)
}

// GetStats builds the redacted SourceStatus spec.md §3 and §8 describe.
func (b *Base) GetStats() status.SourceStatus {
	hash, tags := b.snapshot()
	return status.FromDeclaration(b.id, b.decl, hash, tags, false, b.IsLoaded())
}

// copyStep runs the shared rsync invocation spec.md §4.3 describes for
// rsync sources and git's post-checkout publish: --recursive --links
// --devices --specials --delete --verbose --checksum, plus declaration and
// caller excludes.
func (b *Base) copyStep(ctx context.Context, src string, extraExcludes []string) error {
	excludes := append(append([]string{}, b.decl.Excludes...), extraExcludes...)
	if err := os.MkdirAll(b.targetPath, 0o755); err != nil {
		return fmt.Errorf("creating target path %s: %w", b.targetPath, err)
	}

	var env []string
	if b.decl.SSHKey != "" {
		keyPath, err := installSSHKey(b.id, b.decl.SSHKey)
		if err != nil {
			return err
		}
		env = []string{"RSYNC_RSH=ssh -i " + keyPath + " -o StrictHostKeyChecking=no"}
	}

	return subprocess.RsyncEnv(ctx, src, b.targetPath, excludes, env)
}

// evaluateTemplates walks target_path once and runs every configured
// engine over the resulting file list, in declaration order, per spec.md
// §4.3's "Enumerate files under target_path once before any engine runs"
// rationale (engines would otherwise see each other's emitted files).
func (b *Base) evaluateTemplates(ctx context.Context) {
	if !b.templatesEnabled || len(b.decl.Engines) == 0 {
		return
	}

	files, err := walkFiles(b.targetPath)
	if err != nil {
		b.log.Error(err, "enumerating files for template evaluation")
		return
	}
	files = filterExcluded(files, b.decl.Excludes)

	env := template.FilterEnv(os.Environ(), b.cfg.EnvPrefixes)
	for _, cfg := range b.decl.Engines {
		ev := template.New(cfg, env)
		for _, fe := range ev.Evaluate(b.targetPath, files) {
			b.met.TemplateErrors.WithLabelValues(b.id).Inc()
			b.log.Error(fe.Err, "template expansion failed", "path", fe.Path)
		}
	}
}

func walkFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return files, err
}

// filterExcluded drops any file matching one of patterns. The transport
// layer (rsync/rclone --exclude) already keeps excluded files out of
// target_path; this is a second, Go-native pass with real ** semantics so
// template evaluation never touches an excluded file regardless of which
// transport's own glob dialect is in play.
func filterExcluded(files []string, patterns []string) []string {
	if len(patterns) == 0 {
		return files
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		excluded := false
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, f); ok {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, f)
		}
	}
	return out
}
