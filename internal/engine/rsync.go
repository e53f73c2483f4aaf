package engine

import "context"

// NewRsyncEngine builds the rsync source engine: do_refresh is just the
// shared copy step against declaration.source, per spec.md §4.3.
func NewRsyncEngine(p Params) (Engine, error) {
	decl := p.Decl
	b := newBase(p)
	b.doRefresh = func(ctx context.Context) error {
		return b.copyStep(ctx, decl.Source, nil)
	}
	return b, nil
}
