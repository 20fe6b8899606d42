package refine

import (
	"context"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/collect"
)

// evaluateStaleness is step 10: for every configured, not-held package, ask
// what a fresh lookup would recommend; for every recursive-scope selection,
// ask the same question transitively. A recommendation that disagrees with
// what the plan already built for that key makes the whole plan stale;
// anything else becomes a fresh deps-list entry for the next iteration.
func (d *Driver) evaluateStaleness(ctx context.Context, req Request) (stale bool, fresh []recommendation, err error) {
	c := d.Collector

	for key, entry := range c.Map.All() {
		if entry.HoldPackage || entry.HoldVersion {
			continue
		}
		rec, changed, err := d.evaluateDependency(ctx, key, entry)
		if err != nil {
			return false, nil, err
		}
		if rec == nil {
			continue
		}
		if changed {
			stale = true
			c.State.ScratchExe()
			c.Map.Delete(key)
			continue
		}
		fresh = append(fresh, *rec)
	}

	for _, s := range req.Selections {
		if !s.Recursive {
			continue
		}
		recs, changedKeys, err := d.evaluateRecursive(ctx, s.Key)
		if err != nil {
			return false, nil, err
		}
		if len(changedKeys) > 0 {
			stale = true
			c.State.ScratchExe()
			for _, k := range changedKeys {
				c.Map.Delete(k)
			}
			continue
		}
		fresh = append(fresh, recs...)
	}

	return stale, fresh, nil
}

// evaluateDependency looks up what the best available candidate for key
// would be right now (via the system-version authority for a system
// package, the repository query otherwise) and compares it against what the
// map already decided. A nil recommendation means the currently selected
// version is still the best one. changed is true when a recommendation
// disagrees with a version this run already committed to building.
func (d *Driver) evaluateDependency(ctx context.Context, key buildpkg.Key, entry *buildpkg.Entry) (rec *recommendation, changed bool, err error) {
	c := d.Collector

	// evaluate_dependency only applies to packages already configured
	// before this run started; a brand-new build has nothing persisted
	// to compare against yet.
	sel, err := c.Store.FindSelected(ctx, key.Config, key.Name)
	if err != nil {
		return nil, false, err
	}
	if sel == nil {
		return nil, false, nil
	}

	var cand collect.BuildCandidate
	if sel.System {
		ver, authoritative, err := c.SysVer.SystemVersionAuthoritative(ctx, key.Config, key.Name)
		if err != nil {
			return nil, false, err
		}
		if !authoritative || ver.Equal(sel.Version) {
			return nil, false, nil
		}
		cand = collect.BuildCandidate{Available: &catalog.Available{Name: key.Name, Version: ver}, System: true}
	} else {
		avail, err := c.Store.QueryAvailable(ctx, key.Config, key.Name, nil)
		if err != nil {
			return nil, false, err
		}
		best, ok := highestVersion(avail)
		if !ok || best.Version.Equal(sel.Version) {
			return nil, false, nil
		}
		cand = collect.BuildCandidate{Available: best}
	}

	if entry.Action == buildpkg.Build && entry.Available != nil {
		if entry.Available.Version.Equal(cand.Available.Version) && entry.System == cand.System {
			return nil, false, nil
		}
		return &recommendation{Key: key, Candidate: cand}, true, nil
	}

	return &recommendation{Key: key, Candidate: cand}, false, nil
}

// evaluateRecursive walks root's prerequisite tree (as collected this run,
// falling back to the persisted set for untouched entries) applying
// evaluateDependency at every node, the recursive-scope counterpart to the
// single-key evaluateDependency call.
func (d *Driver) evaluateRecursive(ctx context.Context, root buildpkg.Key) (recs []recommendation, changed []buildpkg.Key, err error) {
	c := d.Collector
	seen := make(map[buildpkg.Key]bool)

	var walk func(key buildpkg.Key) error
	walk = func(key buildpkg.Key) error {
		if seen[key] {
			return nil
		}
		seen[key] = true

		entry := c.Map.EnteredBuild(key)
		if entry == nil {
			return nil
		}

		if !entry.HoldPackage && !entry.HoldVersion {
			rec, isChanged, err := d.evaluateDependency(ctx, key, entry)
			if err != nil {
				return err
			}
			if rec != nil {
				if isChanged {
					changed = append(changed, key)
				} else {
					recs = append(recs, *rec)
				}
			}
		}

		for _, dep := range d.prerequisitesOf(entry) {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, nil, err
	}
	return recs, changed, nil
}

func highestVersion(avail []*catalog.Available) (*catalog.Available, bool) {
	var best *catalog.Available
	for _, a := range avail {
		if best == nil || a.Version.Compare(best.Version) > 0 {
			best = a
		}
	}
	return best, best != nil
}
