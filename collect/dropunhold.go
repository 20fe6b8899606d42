package collect

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/pkgver"
)

// CollectDrop marks key for removal: either converting a pre-entered or
// adjust entry in place, or constructing a fresh drop entry from the
// persisted selected-package record. Like CollectBuild, a key already
// sealed as a dependent of a postponed-configuration cluster is routed
// back through a restart instead.
func (c *Collector) CollectDrop(ctx context.Context, key buildpkg.Key) (*buildpkg.Entry, error) {
	cc, cancel := c.withCaller(ctx)
	defer cancel()

	if cl, ok := c.State.Clusters.Get(key); ok && cl.Sealed() && clusterHasDependent(cl, key) {
		c.State.Dependents.Add(key)
		return nil, &PostponeDependentSignal{Key: key}
	}

	entry := c.Map.EnteredBuild(key)
	if entry == nil {
		sel, err := c.Store.FindSelected(cc, key.Config, key.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "collect: %s: resolving selected record to drop", key)
		}
		if sel == nil {
			return nil, fmt.Errorf("collect: %s: cannot drop, no selected record", key)
		}
		entry = buildpkg.NewPreEntered(key)
		entry.Selected = sel
	}

	entry.Action = buildpkg.Drop
	entry.Available = nil
	entry.Dependencies = nil
	entry.Skeleton = nil

	if err := c.Map.Put(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CollectUnhold converts an existing selected package's record into an
// adjust entry carrying the unhold flag, fetching the selected record from
// the store if the key hasn't been entered yet this run.
func (c *Collector) CollectUnhold(ctx context.Context, key buildpkg.Key) (*buildpkg.Entry, error) {
	cc, cancel := c.withCaller(ctx)
	defer cancel()

	entry := c.Map.EnteredBuild(key)
	if entry == nil {
		sel, err := c.Store.FindSelected(cc, key.Config, key.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "collect: %s: resolving selected record to unhold", key)
		}
		if sel == nil {
			return nil, fmt.Errorf("collect: %s: cannot unhold, no selected record", key)
		}
		entry = buildpkg.NewPreEntered(key)
		entry.Selected = sel
	}

	switch entry.Action {
	case buildpkg.NoAction:
		entry.Action = buildpkg.Adjust
		fallthrough
	case buildpkg.Adjust:
		entry.Flags.Set(buildpkg.AdjustUnhold)
	case buildpkg.Build, buildpkg.Drop:
		// already slated for a stronger action; unhold is implied.
	}

	if entry.Action == buildpkg.Adjust {
		if err := c.Map.Put(entry); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// CollectRepointedDependents walks every dependent the repointed-dependents
// side table recorded during collection and either flags its existing
// entry with reconfigure, or builds a fresh repoint-adjust entry from its
// persisted selected-package record, swapping the repointed prerequisite in
// before recursing into its own prerequisite collection.
func (c *Collector) CollectRepointedDependents(ctx context.Context) error {
	cc, cancel := c.withCaller(ctx)
	defer cancel()

	for _, dependent := range c.State.Repointed.Dependents() {
		swaps, _ := c.State.Repointed.For(dependent)

		var oldKey, newKey buildpkg.Key
		var constraint pkgver.Constraint
		for k, isNew := range swaps {
			if isNew {
				newKey = k
			} else {
				oldKey = k
			}
		}
		if e := c.Map.EnteredBuild(oldKey); e != nil {
			for _, cs := range e.Constraints {
				constraint = cs.Constraint
			}
		}

		if entry := c.Map.EnteredBuild(dependent); entry != nil {
			entry.Flags.Set(buildpkg.AdjustReconfigure)
			if entry.Selected != nil {
				entry.Selected.ReplacePrerequisite(oldKey, newKey, constraint)
			}
			if err := c.Map.Put(entry); err != nil {
				return err
			}
			if err := c.collectBuildPrerequisites(cc, entry, MaxAltIndexUnbounded, nil); err != nil {
				return err
			}
			continue
		}

		sel, err := c.Store.FindSelected(cc, dependent.Config, dependent.Name)
		if err != nil {
			return errors.Wrapf(err, "collect: %s: resolving repointed dependent's selected record", dependent)
		}
		if sel == nil {
			return fmt.Errorf("collect: %s: repointed dependent has no selected record", dependent)
		}
		sel = sel.Clone()
		sel.ReplacePrerequisite(oldKey, newKey, constraint)

		entry := buildpkg.NewPreEntered(dependent)
		entry.Action = buildpkg.Adjust
		entry.Selected = sel
		entry.Flags.Set(buildpkg.AdjustReconfigure)
		entry.Flags.Set(buildpkg.BuildRepoint)
		entry.RequiredByDependents = false

		if err := c.Map.Put(entry); err != nil {
			return err
		}
		if err := c.collectBuildPrerequisites(cc, entry, MaxAltIndexUnbounded, nil); err != nil {
			return err
		}
	}
	return nil
}

// CollectOrderDependents walks the dependents of every changed key --
// reconfigured or rebuilt during this run -- verifying that each
// dependent's persisted constraint on the changed package still holds
// against the new version, and failing unless the dependent is itself
// being rebuilt. Any dependent not yet entered gets a reconfigure-adjust
// entry inserted into the ordered list ahead of its dependency; a
// dependent already ordered behind its dependency is moved forward. The
// walk recurses into each affected dependent's own dependents.
func (c *Collector) CollectOrderDependents(ctx context.Context, changed []buildpkg.Key) error {
	cc, cancel := c.withCaller(ctx)
	defer cancel()

	seen := make(map[buildpkg.Key]bool)
	var walk func(key buildpkg.Key) error
	walk = func(key buildpkg.Key) error {
		if seen[key] {
			return nil
		}
		seen[key] = true

		changedEntry := c.Map.EnteredBuild(key)
		var newVersion pkgver.Version
		if changedEntry != nil && changedEntry.Available != nil {
			newVersion = changedEntry.Available.Version
		}

		dependents, err := c.Store.QueryDependents(cc, key.Config, key.Name, key.Config)
		if err != nil {
			return errors.Wrapf(err, "collect: querying dependents of %s", key)
		}

		for _, dep := range dependents {
			depKey := buildpkg.Key{Config: dep.Config, Name: dep.Name}
			depEntry := c.Map.EnteredBuild(depKey)

			if dep.HasConstraint && !pkgver.Satisfies(newVersion, dep.Constraint) {
				beingRebuilt := depEntry != nil && depEntry.Action == buildpkg.Build
				if !beingRebuilt {
					return fmt.Errorf(
						"collect: %s: dependent %s no longer satisfies its persisted constraint against %s",
						key, depKey, newVersion,
					)
				}
			}

			if depEntry == nil {
				sel, err := c.Store.FindSelected(cc, dep.Config, dep.Name)
				if err != nil {
					return errors.Wrapf(err, "collect: resolving dependent %s's selected record", depKey)
				}
				if sel == nil {
					continue
				}
				depEntry = buildpkg.NewPreEntered(depKey)
				depEntry.Action = buildpkg.Adjust
				depEntry.Selected = sel
				depEntry.Flags.Set(buildpkg.AdjustReconfigure)
				if err := c.Map.Put(depEntry); err != nil {
					return err
				}
			} else if depEntry.Action == buildpkg.Adjust {
				depEntry.Flags.Set(buildpkg.AdjustReconfigure)
			}

			if err := c.reorderBefore(depKey, key); err != nil {
				return err
			}

			if err := walk(depKey); err != nil {
				return err
			}
		}
		return nil
	}

	for _, k := range changed {
		if err := walk(k); err != nil {
			return err
		}
	}
	return nil
}

// reorderBefore ensures dependent is ordered somewhere ahead of dependency,
// moving it forward only if it currently sits behind (or isn't ordered at
// all).
func (c *Collector) reorderBefore(dependent, dependency buildpkg.Key) error {
	depPos, depOrdered := c.Map.PositionIndex(dependency)
	if !depOrdered {
		c.Map.AppendOrdered(dependent)
		return nil
	}

	if depPos2, ok := c.Map.PositionIndex(dependent); ok && depPos2 < depPos {
		return nil
	}

	c.Map.InsertOrdered(dependent, dependency)
	return nil
}
