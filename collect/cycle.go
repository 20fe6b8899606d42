package collect

import (
	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/pkgver"
)

// checkConfigurationCycle decides whether honoring a postpone_dependency
// throw for (dependent, dependency) would require a cycle across already
// sealed postponed-configuration clusters: for every sealed cluster that
// owns dependency, walk each dependent's transitive dependents still inside
// that cluster, and see whether any of them already depends on something
// dependent itself is about to depend on (at an earlier depends position
// than where dependent would sit). atPosition is the depends-clause
// position dependent would occupy once this dependency commits.
func (c *Collector) checkConfigurationCycle(dependent, dependency buildpkg.Key, atPosition int) (bool, buildpkg.Key) {
	depNames := make(map[pkgver.Name]struct{})
	if de := c.Map.EnteredBuild(dependent); de != nil {
		for _, d := range de.Dependencies {
			for _, spec := range d.Picked {
				depNames[spec.Name] = struct{}{}
			}
		}
	}

	for _, cl := range c.State.Clusters.AllSealedClusters() {
		if !cl.HasDependency(dependency) {
			continue
		}

		positions := make(map[buildpkg.Key]int, len(cl.Dependents))
		for _, d := range cl.Dependents {
			positions[d.Key] = d.Depends
		}

		for _, d := range cl.Dependents {
			for _, t := range c.transitiveDependentsWithin(cl, d.Key) {
				tEntry := c.Map.EnteredBuild(t)
				if tEntry == nil {
					continue
				}
				for _, dg := range tEntry.Dependencies {
					for _, spec := range dg.Picked {
						if _, inDeps := depNames[spec.Name]; !inDeps {
							continue
						}
						if positions[t] < atPosition && positions[t] < positions[d.Key] {
							return true, t
						}
					}
				}
			}
		}
	}

	return false, buildpkg.Key{}
}

// transitiveDependentsWithin returns the transitive dependents of start --
// walked via each entry's RequiredBy set -- restricted to keys that are
// themselves dependents of cl.
func (c *Collector) transitiveDependentsWithin(cl interface {
	DependentKeys() []buildpkg.Key
}, start buildpkg.Key) []buildpkg.Key {
	within := make(map[buildpkg.Key]bool)
	for _, k := range cl.DependentKeys() {
		within[k] = true
	}

	seen := map[buildpkg.Key]bool{start: true}
	queue := []buildpkg.Key{start}
	var out []buildpkg.Key
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		entry := c.Map.EnteredBuild(cur)
		if entry == nil {
			continue
		}
		for rb := range entry.RequiredBy {
			if seen[rb] {
				continue
			}
			seen[rb] = true
			if within[rb] {
				out = append(out, rb)
				queue = append(queue, rb)
			}
		}
	}
	return out
}
