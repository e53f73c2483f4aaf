// Package registry implements the declaration reconciler spec.md §4.2
// describes: the only mutator of the live set of source engines, with
// create/skip/replace/delete semantics driven by structural equality and a
// readiness flag derived from refresh outcomes.
package registry

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/camptocamp/shared-config-manager/internal/bus"
	"github.com/camptocamp/shared-config-manager/internal/config"
	"github.com/camptocamp/shared-config-manager/internal/declaration"
	"github.com/camptocamp/shared-config-manager/internal/engine"
	"github.com/camptocamp/shared-config-manager/internal/errs"
	"github.com/camptocamp/shared-config-manager/internal/metrics"
	"github.com/camptocamp/shared-config-manager/internal/status"
)

// Readiness mirrors spec.md §4.2 step 7's flag.
type Readiness int

const (
	NotReady Readiness = iota
	Ready
	Errored
)

// Registry owns active and filtered, the two engine maps spec.md §4.2
// names, plus the synthetic master engine held outside both.
type Registry struct {
	cfg *config.Config
	met *metrics.Metrics
	log logr.Logger

	fetcher   engine.Fetcher
	publisher bus.Publisher

	// reconcileMu strictly serializes reconciles and single-id refreshes
	// (spec.md §4.2 "Sequencing" and §5 "Serialization"): a refresh for a
	// given id acquires the same serialization point as a reconcile.
	reconcileMu sync.Mutex

	mapMu    sync.RWMutex
	active   map[string]engine.Engine
	filtered map[string]engine.Engine
	master   engine.Engine

	sf singleflight.Group

	readiness Readiness
}

// New constructs an empty Registry. The master engine is installed
// separately via SetMaster once the config source is known.
func New(cfg *config.Config, met *metrics.Metrics, log logr.Logger, fetcher engine.Fetcher, publisher bus.Publisher) *Registry {
	return &Registry{
		cfg:       cfg,
		met:       met,
		log:       log.WithName("registry"),
		fetcher:   fetcher,
		publisher: publisher,
		active:    map[string]engine.Engine{},
		filtered:  map[string]engine.Engine{},
	}
}

// LoadMasterConfig obtains the current MasterConfig per spec.md §4.2's
// "Loading" rule: inline if standalone, otherwise read from the master
// engine's target_path (after a refresh-or-fetch to make sure it's
// current).
func (r *Registry) LoadMasterConfig(ctx context.Context) (*declaration.MasterConfig, error) {
	if r.cfg.Standalone() {
		return declaration.Decode([]byte(r.cfg.MasterConfigInline))
	}

	m := r.Master()
	if m == nil {
		return nil, &errs.BadRequest{Reason: "no master source configured"}
	}
	if err := m.RefreshOrFetch(ctx, !r.cfg.IsSlave); err != nil {
		return nil, err
	}
	data, err := engine.ReadMasterConfigFile(m.GetPath())
	if err != nil {
		return nil, err
	}
	return declaration.Decode(data)
}

// ReloadAndReconcile re-reads the master config (inline, from the master
// engine, or — when configFilePath is set — from that file directly) and
// reconciles. Satisfies watch.Reconciler.
func (r *Registry) ReloadAndReconcile(ctx context.Context) error {
	var cfg *declaration.MasterConfig
	var err error

	switch {
	case r.cfg.MasterConfigFile != "":
		var data []byte
		data, err = os.ReadFile(r.cfg.MasterConfigFile)
		if err == nil {
			cfg, err = declaration.Decode(data)
		}
	default:
		cfg, err = r.LoadMasterConfig(ctx)
	}
	if err != nil {
		return err
	}
	return r.Reconcile(ctx, cfg)
}

// SetMaster installs the synthetic "master" engine, held outside both maps.
func (r *Registry) SetMaster(m engine.Engine) {
	r.mapMu.Lock()
	r.master = m
	r.mapMu.Unlock()
}

// Master returns the synthetic master engine, or nil in standalone mode.
func (r *Registry) Master() engine.Engine {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	return r.master
}

// templatesEnabled implements spec.md §4.3's "skipped entirely on a master
// that has non-zero slaves" rule.
func (r *Registry) templatesEnabled() bool {
	return !(!r.cfg.IsSlave && len(r.cfg.SlaveURLs) > 0)
}

func (r *Registry) paramsFor(id string, decl declaration.SourceDeclaration) engine.Params {
	return engine.Params{
		ID:               id,
		Decl:             decl,
		TargetPath:       engine.TargetPath(r.cfg, false, id, decl),
		Config:           r.cfg,
		Metrics:          r.met,
		Log:              r.log,
		Fetcher:          r.fetcher,
		TemplatesEnabled: r.templatesEnabled(),
	}
}

// Reconcile runs the 7-step algorithm spec.md §4.2 describes. It is atomic
// with respect to external observers of Active/Filtered/GetStats: those
// acquire only mapMu, which Reconcile holds just long enough to swap in
// the rebuilt active and filtered maps, never across a subprocess call.
func (r *Registry) Reconcile(ctx context.Context, newConfig *declaration.MasterConfig) error {
	r.reconcileMu.Lock()
	defer r.reconcileMu.Unlock()

	start := time.Now()
	defer func() { r.met.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	ready, err := r.reconcileOnce(ctx, newConfig)
	if err != nil {
		return err
	}
	if ready == Errored {
		// spec.md §4.2 step 7: "a single retry of the full reconcile is
		// allowed before settling to ERROR."
		ready, err = r.reconcileOnce(ctx, newConfig)
		if err != nil {
			return err
		}
	}

	r.mapMu.Lock()
	r.readiness = ready
	r.mapMu.Unlock()
	r.met.Ready.Set(map[Readiness]float64{Ready: 1, NotReady: 0, Errored: 0}[ready])
	return nil
}

func (r *Registry) reconcileOnce(ctx context.Context, newConfig *declaration.MasterConfig) (Readiness, error) {
	if _, ok := newConfig.Sources[declaration.MasterID]; ok {
		return Errored, &errs.BadRequest{Reason: `source id "master" is reserved`}
	}

	keep, filteredOut := r.partition(newConfig.Sources)

	r.mapMu.Lock()
	oldActive := r.active
	r.mapMu.Unlock()

	// Step 3: rebuild the filtered map wholesale (constructed, not
	// refreshed).
	newFiltered := make(map[string]engine.Engine, len(filteredOut))
	for id, decl := range filteredOut {
		eng, err := engine.New(r.paramsFor(id, decl))
		if err != nil {
			r.log.Error(err, "constructing filtered engine", "source_id", id)
			continue
		}
		newFiltered[id] = eng
	}

	// Step 4: delete engines whose id left the keep set.
	for id, eng := range oldActive {
		if _, stillKept := keep[id]; !stillKept {
			if err := eng.Delete(ctx); err != nil {
				r.log.Error(err, "deleting removed engine", "source_id", id)
			}
		}
	}

	// Step 5: create/skip/replace.
	newActive := make(map[string]engine.Engine, len(keep))
	var created []engine.Engine
	for id, decl := range keep {
		existing, ok := oldActive[id]
		switch {
		case !ok:
			eng, err := engine.New(r.paramsFor(id, decl))
			if err != nil {
				r.log.Error(err, "constructing engine", "source_id", id)
				continue
			}
			newActive[id] = eng
			created = append(created, eng)
		case existing.Declaration().Equal(decl):
			newActive[id] = existing
			if !existing.IsLoaded() {
				// A prior pass's refresh failed and nothing about the
				// declaration changed to trigger a recreate: still needs a
				// retry so the single-retry-of-the-whole-reconcile rule
				// (step 7) can actually settle this source instead of
				// silently reporting Ready with it still unloaded.
				created = append(created, existing)
			}
		default:
			if err := existing.Delete(ctx); err != nil {
				r.log.Error(err, "deleting changed engine before recreate", "source_id", id)
			}
			eng, err := engine.New(r.paramsFor(id, decl))
			if err != nil {
				r.log.Error(err, "constructing replacement engine", "source_id", id)
				continue
			}
			newActive[id] = eng
			created = append(created, eng)
		}
	}

	r.mapMu.Lock()
	r.active = newActive
	r.filtered = newFiltered
	r.mapMu.Unlock()

	// Step 6: refresh-or-fetch newly-created engines, isolating errors.
	allOK := true
	for _, eng := range created {
		if err := eng.RefreshOrFetch(ctx, !r.cfg.IsSlave); err != nil {
			allOK = false
			r.log.Error(err, "engine failed to load during reconcile", "source_id", eng.ID())
			continue
		}
		if r.publisher != nil {
			if pubErr := r.publisher.PublishSlaveFetch(ctx, eng.ID()); pubErr != nil {
				r.log.Error(pubErr, "publishing slave_fetch", "source_id", eng.ID())
			}
		}
	}

	r.met.ActiveSources.Set(float64(len(newActive)))
	r.met.FilteredSources.Set(float64(len(newFiltered)))

	if allOK {
		r.met.ReconcileTotal.WithLabelValues("ok").Inc()
		return Ready, nil
	}
	r.met.ReconcileTotal.WithLabelValues("partial").Inc()
	return Errored, nil
}

// partition splits sources into keep/filtered via tag_filter, per spec.md
// §4.2 step 2: only applied on a slave; the master sees everything as keep.
func (r *Registry) partition(sources map[string]declaration.SourceDeclaration) (keep, filteredOut map[string]declaration.SourceDeclaration) {
	keep = make(map[string]declaration.SourceDeclaration, len(sources))
	filteredOut = make(map[string]declaration.SourceDeclaration)

	if !r.cfg.IsSlave || r.cfg.TagFilter == "" {
		for id, d := range sources {
			keep[id] = d
		}
		return keep, filteredOut
	}

	for id, d := range sources {
		if d.HasTag(r.cfg.TagFilter) {
			keep[id] = d
		} else {
			filteredOut[id] = d
		}
	}
	return keep, filteredOut
}

// RefreshID refreshes or fetches a single source by id, coalescing
// concurrent calls for the same id (spec.md §5's "implementation freedom"
// to coalesce). Acquires the same serialization point as Reconcile.
func (r *Registry) RefreshID(ctx context.Context, id string) error {
	_, err, _ := r.sf.Do(id, func() (interface{}, error) {
		r.reconcileMu.Lock()
		defer r.reconcileMu.Unlock()

		eng, ok := r.lookupActive(id)
		if !ok {
			return nil, &errs.NotFound{ID: id}
		}
		err := eng.RefreshOrFetch(ctx, !r.cfg.IsSlave)
		if err == nil && r.publisher != nil {
			if pubErr := r.publisher.PublishSlaveFetch(ctx, id); pubErr != nil {
				r.log.Error(pubErr, "publishing slave_fetch", "source_id", id)
			}
		}
		return nil, err
	})
	return err
}

// RefreshAll refreshes every active, non-filtered source, skipping match
// as filterFn instructs (used by POST /refresh's per-branch webhook
// filter). filterFn receives the id and declaration and returns false to
// skip.
func (r *Registry) RefreshAll(ctx context.Context, filterFn func(id string, d declaration.SourceDeclaration) bool) map[string]error {
	r.mapMu.RLock()
	ids := make([]string, 0, len(r.active))
	decls := make(map[string]declaration.SourceDeclaration, len(r.active))
	for id, eng := range r.active {
		ids = append(ids, id)
		decls[id] = eng.Declaration()
	}
	r.mapMu.RUnlock()

	results := map[string]error{}
	for _, id := range ids {
		if filterFn != nil && !filterFn(id, decls[id]) {
			continue
		}
		results[id] = r.RefreshID(ctx, id)
	}
	return results
}

// lookupActive finds id in active only. Filtered engines and the synthetic
// master are not returned, so RefreshID reports them as NotFound; Lookup
// is the call that reports whether an id exists only as filtered.
func (r *Registry) lookupActive(id string) (engine.Engine, bool) {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	if eng, ok := r.active[id]; ok {
		return eng, true
	}
	return nil, false
}

// Lookup finds id anywhere (active, filtered, or the synthetic master) and
// reports whether it was only found filtered.
func (r *Registry) Lookup(id string) (eng engine.Engine, filtered bool, ok bool) {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()

	if id == declaration.MasterID && r.master != nil {
		return r.master, false, true
	}
	if eng, ok := r.active[id]; ok {
		return eng, false, true
	}
	if eng, ok := r.filtered[id]; ok {
		return eng, true, true
	}
	return nil, false, false
}

// ActiveIDs lists every currently active (non-filtered, non-master) source
// id, for the drift detector to iterate.
func (r *Registry) ActiveIDs() []string {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Status builds this node's SlaveStatus snapshot.
func (r *Registry) Status() status.SlaveStatus {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()

	sources := make(map[string]status.SourceStatus, len(r.active)+len(r.filtered))
	for id, eng := range r.active {
		sources[id] = eng.GetStats()
	}
	for id, eng := range r.filtered {
		st := eng.GetStats()
		st.Filtered = true
		sources[id] = st
	}

	return status.SlaveStatus{
		Hostname: r.cfg.Hostname,
		PID:      os.Getpid(),
		Sources:  sources,
	}
}

// SourceStatus returns a single source's status, if known on this node.
func (r *Registry) SourceStatus(id string) (status.SourceStatus, bool) {
	eng, filtered, ok := r.Lookup(id)
	if !ok {
		return status.SourceStatus{}, false
	}
	st := eng.GetStats()
	st.Filtered = filtered
	return st, true
}

// Readiness reports the outcome of the last reconcile.
func (r *Registry) Readiness() Readiness {
	r.mapMu.RLock()
	defer r.mapMu.RUnlock()
	return r.readiness
}

// Ready satisfies health.ReadinessSource: a node is ready once it has
// completed at least one reconcile with every source OK.
func (r *Registry) Ready() bool {
	return r.Readiness() == Ready
}

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "READY"
	case Errored:
		return "ERROR"
	default:
		return "NOT_READY"
	}
}
