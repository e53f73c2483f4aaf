/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command scm is the process entry point: it wires configuration, the
// registry, the HTTP control surface, the broadcast bus and the two
// background watchers into a single node, identical in shape whether the
// node is acting as master or slave.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/camptocamp/shared-config-manager/internal/auth"
	"github.com/camptocamp/shared-config-manager/internal/bus"
	"github.com/camptocamp/shared-config-manager/internal/config"
	"github.com/camptocamp/shared-config-manager/internal/declaration"
	"github.com/camptocamp/shared-config-manager/internal/engine"
	"github.com/camptocamp/shared-config-manager/internal/errs"
	"github.com/camptocamp/shared-config-manager/internal/fetch"
	"github.com/camptocamp/shared-config-manager/internal/health"
	"github.com/camptocamp/shared-config-manager/internal/httpapi"
	"github.com/camptocamp/shared-config-manager/internal/logging"
	"github.com/camptocamp/shared-config-manager/internal/metrics"
	"github.com/camptocamp/shared-config-manager/internal/registry"
	"github.com/camptocamp/shared-config-manager/internal/watch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "scm:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(os.Getenv("LOG_DEV") == "true")
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	ctx = logging.IntoContext(ctx, log)

	met := metrics.New()

	var publisher bus.Publisher = bus.NoopPublisher{}
	if cfg.PubSubProjectID != "" {
		pub, err := bus.NewPubSubPublisher(ctx, cfg.PubSubProjectID, cfg.PubSubTopic, log)
		if err != nil {
			return fmt.Errorf("starting pubsub publisher: %w", err)
		}
		defer func() { _ = pub.Close() }()
		publisher = pub
	}

	fetcher := fetch.New(cfg.APIMaster, cfg.Secret, cfg.RetryNumber, cfg.RetryDelay, met, log)

	reg := registry.New(cfg, met, log, fetcher, publisher)

	// The synthetic "master" engine is only constructed for a slave
	// self-fetching the config over HTTP. A master node's own config
	// comes in inline (MASTER_CONFIG) or from a watched file
	// (MASTER_CONFIG_FILE) — it cannot bootstrap a source declaration for
	// itself before it has decoded a MasterConfig in the first place.
	if cfg.IsSlave && !cfg.Standalone() && cfg.MasterConfigFile == "" {
		masterParams := engine.Params{
			ID:               declaration.MasterID,
			Decl:             declaration.SourceDeclaration{Kind: declaration.KindGit},
			TargetPath:       engine.TargetPath(cfg, true, declaration.MasterID, declaration.SourceDeclaration{}),
			Config:           cfg,
			Metrics:          met,
			Log:              log,
			Fetcher:          fetcher,
			TemplatesEnabled: true,
		}
		reg.SetMaster(engine.NewMasterEngine(masterParams, nil))
	}

	if err := reg.ReloadAndReconcile(ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}

	var broadcaster *bus.Broadcaster
	if len(cfg.SlaveURLs) > 0 {
		broadcaster = bus.NewBroadcaster(cfg.SlaveURLs, cfg.Secret, cfg.RetryDelay)
	}

	var oauth auth.SessionVerifier
	if url := os.Getenv("OAUTH_USERINFO_URL"); url != "" {
		oauth = auth.NewOAuthVerifier(url)
	}

	api := httpapi.New(cfg, reg, broadcaster, oauth, log)
	healthSrv := health.New(cfg.HealthAddr, reg, log)
	metricsSrv := health.NewMetricsServer(cfg.MetricsAddr, met.Handler(), log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return api.Run(gctx) })

	g.Go(func() error { healthSrv.Run(gctx); return nil })
	g.Go(func() error { metricsSrv.Run(gctx); return nil })

	// The drift detector only makes sense on the master, where there are
	// slaves to compare against each other.
	if !cfg.IsSlave && broadcaster != nil {
		driftDetector := watch.NewDriftDetector(cfg.WatchSourceInterval, broadcaster, reg, reg, cfg.RoutePrefix, met, log)
		g.Go(func() error { driftDetector.Run(gctx); return nil })
	}

	if cfg.MasterConfigFile != "" {
		configWatcher := watch.NewConfigFileWatcher(cfg.MasterConfigFile, reg, log)
		g.Go(func() error {
			if err := configWatcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(err, "config file watcher exited")
			}
			return nil
		})
	}

	if cfg.PubSubProjectID != "" {
		sub, err := bus.NewPubSubSubscription(ctx, cfg.PubSubProjectID, cfg.PubSubTopic, cfg.Hostname)
		if err != nil {
			return fmt.Errorf("starting pubsub subscription: %w", err)
		}
		defer func() { _ = sub.Close() }()

		g.Go(func() error {
			return sub.Receive(gctx, func(ctx context.Context, sourceID string) {
				dispatchSlaveFetch(ctx, reg, cfg, sourceID, log)
			})
		})
	}

	log.Info("scm started", "is_slave", cfg.IsSlave, "hostname", cfg.Hostname)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dispatchSlaveFetch applies spec.md §4.4's slave_fetch dispatch policy: a
// received event refreshes the named source unless it names the master
// engine and master_dispatch is disabled, or it names a source filtered out
// on this node.
func dispatchSlaveFetch(ctx context.Context, reg *registry.Registry, cfg *config.Config, sourceID string, log logr.Logger) {
	if sourceID == declaration.MasterID {
		// The synthetic master engine lives outside the active map, so
		// RefreshID cannot reach it: reload the master config and reconcile.
		if !cfg.MasterDispatch || reg.Master() == nil {
			return
		}
		if err := reg.ReloadAndReconcile(ctx); err != nil {
			log.Error(err, "slave_fetch dispatch failed", "source_id", sourceID)
		}
		return
	}

	if _, filtered, ok := reg.Lookup(sourceID); ok && filtered {
		return
	}

	var notFound *errs.NotFound
	if err := reg.RefreshID(ctx, sourceID); err != nil && !errors.As(err, &notFound) {
		log.Error(err, "slave_fetch dispatch failed", "source_id", sourceID)
	}
}
