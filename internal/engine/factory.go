package engine

import (
	"fmt"

	"github.com/camptocamp/shared-config-manager/internal/declaration"
)

// New dispatches to the kind-specific constructor, the tagged-variant
// pattern spec.md §9 calls for.
func New(p Params) (Engine, error) {
	switch p.Decl.Kind {
	case declaration.KindGit:
		return NewGitEngine(p)
	case declaration.KindRsync:
		return NewRsyncEngine(p)
	case declaration.KindRemoteSync:
		return NewRemoteSyncEngine(p)
	default:
		return nil, fmt.Errorf("unrecognized source kind %q for id %q", p.Decl.Kind, p.ID)
	}
}
