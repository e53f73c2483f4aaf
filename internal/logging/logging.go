// Package logging threads a logr.Logger through context.Context, the same
// way the rest of this codebase's lineage uses sigs.k8s.io/controller-runtime's
// logf.FromContext — except the sink here is a standalone zap logger rather
// than one wired to a controller-runtime manager.
package logging

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

type ctxKey struct{}

// New builds the process-wide logr.Logger backed by zap. devMode selects a
// human-readable console encoder; production mode emits JSON.
func New(devMode bool) (logr.Logger, error) {
	var zl *zap.Logger
	var err error
	if devMode {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}

// IntoContext returns a copy of ctx carrying log.
func IntoContext(ctx context.Context, log logr.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logr.Logger stored in ctx, or the discard logger
// if none was set.
func FromContext(ctx context.Context) logr.Logger {
	if log, ok := ctx.Value(ctxKey{}).(logr.Logger); ok {
		return log
	}
	return logr.Discard()
}
