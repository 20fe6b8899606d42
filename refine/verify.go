package refine

import (
	"fmt"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
)

// prerequisitesOf recovers the keys entry depends on, for verification and
// recursive evaluation purposes: the persisted prerequisite set for an
// already-configured entry untouched this run, or the freshly collected
// picks resolved the same way order.Orderer.resolveDependencyKey does, by
// scanning the map's name index for a contributor recorded in RequiredBy.
func (d *Driver) prerequisitesOf(entry *buildpkg.Entry) []buildpkg.Key {
	c := d.Collector

	if entry.Selected != nil && entry.Action != buildpkg.Build {
		return entry.Selected.PrerequisiteKeys()
	}

	var out []buildpkg.Key
	for _, dep := range entry.Dependencies {
		for _, spec := range dep.Picked {
			for _, k := range c.Map.ByName(string(spec.Name)) {
				e := c.Map.EnteredBuild(k)
				if e == nil {
					continue
				}
				if _, ok := e.RequiredBy[entry.Key]; ok {
					out = append(out, k)
					break
				}
			}
		}
	}
	return out
}

// verifyOrderingInvariant is the final part of step 7: every ordered entry
// must precede each of its prerequisites in the ordered list -- the same
// invariant order.Orderer maintains by construction, checked here as a
// cross-check against anything that touched list positions directly
// (collect_order_dependents' reorderBefore, most notably).
func (d *Driver) verifyOrderingInvariant() error {
	m := d.Collector.Map
	for _, key := range m.Ordered() {
		entry := m.EnteredBuild(key)
		if entry == nil {
			continue
		}
		pos, ok := m.PositionIndex(key)
		if !ok {
			continue
		}
		for _, dep := range d.prerequisitesOf(entry) {
			depPos, ok := m.PositionIndex(dep)
			if !ok {
				continue
			}
			if depPos <= pos {
				return fmt.Errorf("refine: ordering invariant violated: %s (position %d) does not precede its prerequisite %s (position %d)", key, pos, dep, depPos)
			}
		}
	}
	return nil
}

// verifyNoCrossConfigurationDuplication is step 12's final verification
// pair: no runtime dependency may appear in two configurations of the same
// type, and no build-system module may appear in two configurations of the
// same link cluster.
func (d *Driver) verifyNoCrossConfigurationDuplication() error {
	c := d.Collector

	type typeName struct {
		kind linkcfg.Type
		name pkgver.Name
	}
	seen := make(map[typeName][]buildpkg.Key)

	var moduleKeys []buildpkg.Key

	for key, entry := range c.Map.All() {
		if entry.Action == buildpkg.Drop {
			continue
		}
		cfg, ok := c.Graph.Get(key.Config)
		if !ok {
			continue
		}

		tn := typeName{kind: cfg.Kind, name: key.Name}
		seen[tn] = append(seen[tn], key)

		if cfg.Kind == linkcfg.Build2 {
			moduleKeys = append(moduleKeys, key)
		}
	}

	for tn, keys := range seen {
		if len(keys) > 1 {
			return fmt.Errorf("refine: %s appears in %d configurations of type %q: %v", tn.name, len(keys), tn.kind, keys)
		}
	}

	for i := 0; i < len(moduleKeys); i++ {
		for j := i + 1; j < len(moduleKeys); j++ {
			a, b := moduleKeys[i], moduleKeys[j]
			if a.Name == b.Name && c.Graph.SameCluster(a.Config, b.Config) {
				return fmt.Errorf("refine: build-system module %s appears in two configurations of the same link cluster: %s and %s", a.Name, a.Config, b.Config)
			}
		}
	}

	return nil
}
