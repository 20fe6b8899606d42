package refine

import (
	"context"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/pkgver"
)

// repointedSnapshot holds the persisted prerequisite sets this iteration
// temporarily rewrote, keyed by dependent, so they can be put back once
// ordering and simulation no longer need the repointed edge to be visible.
type repointedSnapshot struct {
	original map[buildpkg.Key][]catalog.Prerequisite
}

// applyRepointedPrerequisites is step 1: every dependent the previous
// iteration recorded as repointed gets its persisted prerequisite set
// temporarily patched to the replacement key, so that anything this pass
// reads straight from the store -- QueryDependents, FindSelected -- sees the
// post-repoint shape rather than a stale one. Repointed entries accumulated
// here are never cleared by either scratch reset, so they persist across
// retries within the same outer iteration and across iterations until
// restored.
func (d *Driver) applyRepointedPrerequisites(ctx context.Context) (*repointedSnapshot, error) {
	c := d.Collector
	snap := &repointedSnapshot{original: make(map[buildpkg.Key][]catalog.Prerequisite)}

	for _, dependent := range c.State.Repointed.Dependents() {
		swaps, ok := c.State.Repointed.For(dependent)
		if !ok {
			continue
		}
		sel, err := c.Store.FindSelected(ctx, dependent.Config, dependent.Name)
		if err != nil {
			return nil, err
		}
		if sel == nil {
			continue
		}

		snap.original[dependent] = append([]catalog.Prerequisite(nil), sel.Prerequisites...)

		var oldKey, newKey buildpkg.Key
		for k, isNew := range swaps {
			if isNew {
				newKey = k
			} else {
				oldKey = k
			}
		}
		var constraint pkgver.Constraint
		for _, p := range sel.Prerequisites {
			if p.Key == oldKey {
				constraint = p.Constraint
			}
		}
		sel.ReplacePrerequisite(oldKey, newKey, constraint)
	}

	return snap, nil
}

// restoreRepointedPrerequisites is step 8: put every patched prerequisite
// set back exactly as snapshotted, since the real repoint is only supposed
// to become persistent once the caller commits a real (non-simulated)
// execution of the plan this iteration produces.
func (d *Driver) restoreRepointedPrerequisites(ctx context.Context, snap *repointedSnapshot) error {
	c := d.Collector
	for dependent, original := range snap.original {
		sel, err := c.Store.FindSelected(ctx, dependent.Config, dependent.Name)
		if err != nil {
			return err
		}
		if sel == nil {
			continue
		}
		sel.Prerequisites = original
	}
	return nil
}
