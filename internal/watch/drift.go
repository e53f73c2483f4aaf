// Package watch implements the two watcher loops spec.md §4.5 describes:
// the drift detector (master-side hash comparison across slaves) and the
// config file watcher (fsnotify-based reconcile trigger).
package watch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"

	"github.com/camptocamp/shared-config-manager/internal/bus"
	"github.com/camptocamp/shared-config-manager/internal/metrics"
)

// Refresher is the subset of Registry the drift detector needs.
type Refresher interface {
	RefreshID(ctx context.Context, id string) error
}

// StatusSource is the subset of Registry the drift detector reads active
// ids from.
type StatusSource interface {
	ActiveIDs() []string
}

// DriftDetector polls every slave's per-source status once per interval
// and triggers a refresh when hashes disagree, per spec.md §4.5.
type DriftDetector struct {
	interval         time.Duration
	broadcaster      *bus.Broadcaster
	refresher        Refresher
	statusSrc        StatusSource
	statusPathPrefix string
	met              *metrics.Metrics
	log              logr.Logger
}

// NewDriftDetector builds a DriftDetector. routePrefix must match the
// prefix every node mounts its HTTP control surface under
// (internal/httpapi.Server), since the detector polls the same
// GET {prefix}/1/status/{id} route a browser or the master's own status
// fan-out would hit.
func NewDriftDetector(interval time.Duration, broadcaster *bus.Broadcaster, refresher Refresher, statusSrc StatusSource, routePrefix string, met *metrics.Metrics, log logr.Logger) *DriftDetector {
	return &DriftDetector{
		interval:         interval,
		broadcaster:      broadcaster,
		refresher:        refresher,
		statusSrc:        statusSrc,
		statusPathPrefix: routePrefix,
		met:              met,
		log:              log.WithName("drift-detector"),
	}
}

// Run blocks until ctx is canceled, checking drift every interval. Errors
// per-source are isolated: the loop continues per spec.md §4.5.
func (d *DriftDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkAll(ctx)
		}
	}
}

func (d *DriftDetector) checkAll(ctx context.Context) {
	for _, id := range d.statusSrc.ActiveIDs() {
		if err := d.checkOne(ctx, id); err != nil {
			d.log.Error(err, "drift check failed", "source_id", id)
		}
	}
}

// hashReply is the shape of a single entry in a per-source status
// response's relevant field. handleStatusOne (internal/httpapi/handlers.go)
// replies with a JSON array of these, one per node that had a non-filtered
// view of the source — never a single bare object.
type hashReply struct {
	Hash string `json:"hash"`
}

func (d *DriftDetector) checkOne(ctx context.Context, id string) error {
	replies := d.broadcaster.Broadcast(ctx, d.statusPathPrefix+"/1/status/"+id)

	needsRefresh := false
	seen := map[string]bool{}
	for _, r := range replies {
		if r.Body == nil {
			needsRefresh = true
			continue
		}
		var entries []hashReply
		if err := json.Unmarshal(r.Body, &entries); err != nil || len(entries) == 0 {
			needsRefresh = true
			continue
		}
		for _, hr := range entries {
			if hr.Hash == "" {
				needsRefresh = true
				continue
			}
			seen[hr.Hash] = true
		}
	}
	if len(seen) > 1 {
		needsRefresh = true
	}

	if !needsRefresh {
		return nil
	}

	d.met.DriftDetected.WithLabelValues(id).Inc()
	d.log.Info("drift detected, refreshing", "source_id", id)
	return d.refresher.RefreshID(ctx, id)
}
