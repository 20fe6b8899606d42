// Package order places a collected build-package map into a deterministic
// build order: an entry always lands ahead of every prerequisite it
// recursively orders, using the same radix-indexed name lookup buildpkg
// exposes for its own bookkeeping.
package order

import (
	"fmt"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
)

// Orderer walks a build-package map and assigns ordered-list positions.
type Orderer struct {
	Map  *buildpkg.Map
	Eval catalog.Evaluator
}

// New returns an Orderer bound to m and eval.
func New(m *buildpkg.Map, eval catalog.Evaluator) *Orderer {
	return &Orderer{Map: m, Eval: eval}
}

// Order resolves key via the map, detects a name+configuration cycle against
// chain, recursively orders its prerequisites, and places key at the
// earliest position among them (or at the tail, if it has none). reorder
// forces key to be re-placed even if it already has a position; without it,
// an already-ordered key returns immediately.
func (o *Orderer) Order(key buildpkg.Key, chain []buildpkg.Key, reorder bool) error {
	for _, c := range chain {
		if c == key {
			return fmt.Errorf("order: dependency cycle: %s", formatChain(append(append([]buildpkg.Key(nil), chain...), key)))
		}
	}

	entry := o.Map.EnteredBuild(key)
	if entry == nil {
		return fmt.Errorf("order: %s: not in build-package map", key)
	}

	if o.Map.IsOrdered(key) {
		if !reorder {
			return nil
		}
		o.Map.EraseOrdered(key)
	}

	nextChain := append(append([]buildpkg.Key(nil), chain...), key)

	earliest, hasEarliest := -1, false
	var earliestKey buildpkg.Key
	for _, p := range o.prerequisiteKeys(entry) {
		if err := o.Order(p, nextChain, false); err != nil {
			return err
		}
		if idx, ok := o.Map.PositionIndex(p); ok && (!hasEarliest || idx < earliest) {
			earliest, earliestKey, hasEarliest = idx, p, true
		}
	}

	if entry.Disfigure && entry.Selected != nil {
		for _, p := range entry.Selected.PrerequisiteKeys() {
			if err := o.Order(p, nextChain, false); err != nil {
				return err
			}
		}
	}

	if hasEarliest {
		o.Map.InsertOrdered(key, earliestKey)
	} else {
		o.Map.AppendOrdered(key)
	}
	return nil
}

// prerequisiteKeys returns the keys Order should recurse into: the
// persisted prerequisite set, in persisted order, for an entry whose
// dependencies were not recomputed this run (already configured,
// non-system, not being repointed/reconfigured/rebuilt, no
// buildfile-content-dependent clause) -- preserving whatever order it was
// previously built in -- or the freshly collected dependency picks in
// reverse source-group order otherwise.
func (o *Orderer) prerequisiteKeys(entry *buildpkg.Entry) []buildpkg.Key {
	if o.usesPersistedPrerequisites(entry) {
		return entry.Selected.PrerequisiteKeys()
	}

	var out []buildpkg.Key
	for i := len(entry.Dependencies) - 1; i >= 0; i-- {
		for _, spec := range entry.Dependencies[i].Picked {
			if key, ok := o.resolveDependencyKey(entry, spec); ok {
				out = append(out, key)
			}
		}
	}
	return out
}

func (o *Orderer) usesPersistedPrerequisites(entry *buildpkg.Entry) bool {
	if entry.Selected == nil || entry.Selected.State != catalog.Configured || entry.System {
		return false
	}
	if entry.Flags.Has(buildpkg.BuildRepoint) || entry.Flags.Has(buildpkg.AdjustReconfigure) {
		return false
	}
	if entry.Action == buildpkg.Build {
		return false
	}
	if entry.Available != nil && o.Eval.HasBuildfileClause(entry.Available.Dependencies) {
		return false
	}
	return true
}

// resolveDependencyKey recovers the configuration a picked dependency spec
// was actually resolved into, by scanning the map's name index for an entry
// that records dependent as a contributor to its RequiredBy set -- every
// dependency CollectBuild enters is registered against its dependent this
// way, so this never needs to repeat the target-configuration resolution
// the collector already performed.
func (o *Orderer) resolveDependencyKey(dependent *buildpkg.Entry, spec catalog.DependencySpec) (buildpkg.Key, bool) {
	for _, k := range o.Map.ByName(string(spec.Name)) {
		e := o.Map.EnteredBuild(k)
		if e == nil {
			continue
		}
		if _, ok := e.RequiredBy[dependent.Key]; ok {
			return k, true
		}
	}
	return buildpkg.Key{}, false
}

func formatChain(chain []buildpkg.Key) string {
	s := ""
	for i, k := range chain {
		if i > 0 {
			s += " -> "
		}
		s += k.String()
	}
	return s
}
