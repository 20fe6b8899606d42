package collect

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
	"github.com/dstask/bpm/postpone"
	"github.com/dstask/bpm/store"
)

// prebuild is one resolved dependency slot within an alternative: the spec
// it came from, the key it resolves to, and the available package (real or
// reused-from-selected) to build it from.
type prebuild struct {
	Spec      catalog.DependencySpec
	Key       buildpkg.Key
	Available *catalog.Available
	Fragment  catalog.FragmentHandle
	System    bool
	Reused    bool
}

// collectBuildPrerequisites walks entry's dependency groups in source
// order, resolving each to a chosen alternative and recursing into its
// builds, postponing what it can't decide yet. maxAltIndex bounds which
// "true alternative" (an ambiguous, non-reused choice) may be force-picked
// during this call; the postponed-alt draining loop raises it across
// repeated calls.
func (c *Collector) collectBuildPrerequisites(ctx context.Context, entry *buildpkg.Entry, maxAltIndex int, chain []buildpkg.Key) error {
	if c.prunePrerequisites(entry) {
		return nil
	}

	if entry.System {
		entry.RecursiveCollection = true
		return nil
	}

	if c.needsReconfigureCluster(entry) {
		if _, err := c.State.Clusters.New([]buildpkg.Key{entry.Key}, nil); err != nil {
			return err
		}
		return nil
	}

	if entry.Skeleton == nil {
		entry.Skeleton = catalog.NewSkeleton(entry.ConfigVars)
		entry.Dependencies = []buildpkg.Dependency{}
	}

	for idx := len(entry.Dependencies); idx < len(entry.Available.Dependencies); idx++ {
		group := entry.Available.Dependencies[idx]

		if group.IsToolchain() {
			entry.Dependencies = append(entry.Dependencies, buildpkg.Dependency{})
			continue
		}

		enabled, err := c.evaluateEnable(entry, idx, group)
		if err != nil {
			return err
		}

		anyEnabled := false
		for _, e := range enabled {
			if e {
				anyEnabled = true
				break
			}
		}
		if !anyEnabled {
			entry.Dependencies = append(entry.Dependencies, buildpkg.Dependency{})
			entry.PostponedDependencyAlternatives = nil
			continue
		}

		chosen, builds, postponed, err := c.selectAlternative(ctx, entry, idx, group, enabled, maxAltIndex)
		if err != nil {
			return err
		}
		if postponed {
			return nil
		}

		entry.PostponedDependencyAlternatives = nil
		entry.Dependencies = append(entry.Dependencies, buildpkg.Dependency{Picked: chosen.Deps, Clause: chosen.Clause})

		if chosen.Clause.HasReflect {
			if err := c.Eval.EvaluateReflect(entry.Skeleton, idx, chosen.Clause.Reflect); err != nil {
				return err
			}
		}
		entry.Skeleton.Position = idx + 1

		if chosen.Clause.IsConfigurationClause() {
			var cfgDeps []buildpkg.Key
			for _, b := range builds {
				if _, err := c.CollectBuild(ctx, b.Key, BuildCandidate{Available: b.Available, Fragment: b.Fragment, System: b.System}, BuildOptions{
					RequiredBy: entry.Key, RequiredByDependents: true,
				}); err != nil {
					return err
				}
				c.State.Deps.MarkWithConfig(b.Key, true)
				cfgDeps = append(cfgDeps, b.Key)
			}
			dependents := []postpone.Dependent{{Key: entry.Key, Depends: idx + 1}}
			if _, err := c.State.Clusters.New(cfgDeps, dependents); err != nil {
				return err
			}
			return nil
		}

		for _, b := range builds {
			if _, err := c.CollectBuild(ctx, b.Key, BuildCandidate{Available: b.Available, Fragment: b.Fragment, System: b.System}, BuildOptions{
				RequiredBy: entry.Key, RequiredByDependents: true,
			}); err != nil {
				return err
			}

			if depsEntry, seen := c.State.Deps.Get(b.Key); seen && depsEntry.WithConfig {
				c.State.Deps.MarkWoutConfig(b.Key, true)
				continue
			}

			if cl, inCluster := c.State.Clusters.Get(b.Key); inCluster && cl.InProgress() && !clusterHasDependent(cl, entry.Key) {
				if err := c.State.Clusters.AddDependent(cl.ID, postpone.Dependent{Key: entry.Key, Depends: idx + 1}); err != nil {
					return err
				}
				continue
			}

			depEntry := c.Map.EnteredBuild(b.Key)
			if depEntry != nil && depEntry.RecursiveCollection && !c.dependencyIsOwnExistingDependent(b.Key, entry.Key) {
				if cycle, through := c.checkConfigurationCycle(entry.Key, b.Key, idx+1); cycle {
					return &configurationCycleError{dependent: entry.Key, dependency: b.Key, through: through}
				}
				return &PostponeDependencySignal{Key: b.Key}
			}

			if depEntry != nil {
				if err := c.collectBuildPrerequisites(ctx, depEntry, MaxAltIndexUnbounded, append(chain, entry.Key)); err != nil {
					return err
				}
			}
		}
	}

	entry.RecursiveCollection = true
	return nil
}

// prunePrerequisites reports whether entry can be skipped outright: already
// configured, not a system package, not being reconfigured or repointed,
// carrying no buildfile-content-dependent clause, and not an existing
// dependent of a postponed-configuration cluster.
func (c *Collector) prunePrerequisites(entry *buildpkg.Entry) bool {
	if entry.Selected == nil || entry.Selected.State != catalog.Configured || entry.System {
		return false
	}
	if entry.Flags.Has(buildpkg.BuildRepoint) || entry.Flags.Has(buildpkg.AdjustReconfigure) {
		return false
	}
	if entry.Available != nil && c.Eval.HasBuildfileClause(entry.Available.Dependencies) {
		return false
	}
	if cl, ok := c.State.Clusters.Get(entry.Key); ok {
		for _, d := range cl.Dependents {
			if d.Key == entry.Key && d.Existing {
				return false
			}
		}
	}
	return true
}

// needsReconfigureCluster reports whether entry is being reconfigured, isn't
// already part of a cluster, and has existing configured dependents that
// placed a configuration clause on it -- in which case it must open its own
// postponed-configuration cluster (of itself alone) rather than proceed
// directly, so those dependents get a chance to renegotiate.
func (c *Collector) needsReconfigureCluster(entry *buildpkg.Entry) bool {
	reconfiguring := entry.Flags.Has(buildpkg.AdjustReconfigure) || entry.Flags.Has(buildpkg.BuildRepoint) || entry.Disfigure
	if !reconfiguring {
		return false
	}
	if _, inCluster := c.State.Clusters.Get(entry.Key); inCluster {
		return false
	}
	return c.hasExistingDependentsWithConfigClause(entry.Key)
}

func (c *Collector) hasExistingDependentsWithConfigClause(key buildpkg.Key) bool {
	for _, e := range c.Map.All() {
		if e.Selected == nil || e.Selected.State != catalog.Configured {
			continue
		}
		for _, dep := range e.Dependencies {
			if !dep.Clause.IsConfigurationClause() {
				continue
			}
			for _, spec := range dep.Picked {
				if spec.Name == key.Name {
					return true
				}
			}
		}
	}
	return false
}

func (c *Collector) evaluateEnable(entry *buildpkg.Entry, idx int, group catalog.DependencyGroup) ([]bool, error) {
	if entry.PostponedDependencyAlternatives != nil {
		return entry.PostponedDependencyAlternatives, nil
	}
	enabled := make([]bool, len(group.Alternatives))
	for i, alt := range group.Alternatives {
		if !alt.Clause.HasEnable {
			enabled[i] = true
			continue
		}
		ok, err := c.Eval.EvaluateEnable(entry.Skeleton, idx, alt.Clause.Enable)
		if err != nil {
			return nil, err
		}
		enabled[i] = ok
	}
	return enabled, nil
}

// selectAlternative picks which enabled alternative to commit to, per the
// single/multi/none-satisfactory policy: a single satisfactory alternative
// is used outright; among several, a fully-reused one wins; otherwise the
// first whose 1-based rank is within maxAltIndex is force-picked, and
// failing that the entry is recorded in postponed-alt and postponed=true is
// returned.
func (c *Collector) selectAlternative(ctx context.Context, entry *buildpkg.Entry, idx int, group catalog.DependencyGroup, enabled []bool, maxAltIndex int) (*catalog.Alternative, []prebuild, bool, error) {
	type candidate struct {
		alt    catalog.Alternative
		builds []prebuild
		reused bool
	}

	var satisfactory []candidate
	var reasons []string
	for i, alt := range group.Alternatives {
		if !enabled[i] {
			continue
		}
		builds, allReused, ok, reason, err := c.precollectAlternative(ctx, entry, idx, alt, false)
		if err != nil {
			return nil, nil, false, err
		}
		if !ok {
			reasons = append(reasons, reason)
			continue
		}
		satisfactory = append(satisfactory, candidate{alt, builds, allReused})
	}

	if len(satisfactory) == 0 {
		// Make-dependency-decisions retry: the first pass only searched
		// each dependent's own repositories plus their complements and
		// prerequisites; this pass drops that restriction and searches
		// every available package in the dependency's configuration.
		reasons = nil
		for i, alt := range group.Alternatives {
			if !enabled[i] {
				continue
			}
			builds, allReused, ok, reason, err := c.precollectAlternative(ctx, entry, idx, alt, true)
			if err != nil {
				return nil, nil, false, err
			}
			if !ok {
				reasons = append(reasons, reason)
				continue
			}
			satisfactory = append(satisfactory, candidate{alt, builds, allReused})
		}
	}

	if len(satisfactory) > 0 {
		// A miss against the dependent's own fragment during the first pass
		// may have registered entry.Key in postponed-repo; the broadened
		// retry (or the first pass itself) having found a satisfactory
		// alternative after all means that registration no longer applies.
		c.State.Repo.Remove(entry.Key)
	}

	switch len(satisfactory) {
	case 0:
		return nil, nil, false, fmt.Errorf("collect: %s: no satisfactory alternative at dependency group %d after broadening the repository search (%s)", entry.Key, idx, strings.Join(reasons, "; "))
	case 1:
		return &satisfactory[0].alt, satisfactory[0].builds, false, nil
	default:
		for _, s := range satisfactory {
			if s.reused {
				return &s.alt, s.builds, false, nil
			}
		}
		for i, s := range satisfactory {
			if i+1 <= maxAltIndex {
				return &s.alt, s.builds, false, nil
			}
		}

		snapshot := make([]bool, len(enabled))
		copy(snapshot, enabled)
		entry.PostponedDependencyAlternatives = snapshot
		c.State.Alt.Add(postpone.AltEntry{
			Key:             entry.Key,
			EnabledSnapshot: snapshot,
			UnprocessedTail: len(entry.Available.Dependencies) - idx,
			Name:            string(entry.Key.Name),
			ConfigPath:      string(entry.Key.Config),
		})
		return nil, nil, true, nil
	}
}

// precollectAlternative resolves every dependency spec in alt to a prebuild,
// preferring an already-selected package over a fresh repository lookup.
// The second return is true only if every spec resolved via reuse. The
// third return is false (with a non-empty reason and a nil error) when some
// spec has no satisfactory candidate at all -- the caller treats the whole
// alternative as unsatisfactory rather than failing the entry outright.
//
// broaden, when true, drops the "dependent's own repositories and their
// complements/prerequisites" restriction on the repository search and
// queries every available package visible to the target configuration
// instead -- the "make dependency decisions" retry a dependency group
// with no satisfactory alternative gets before the whole entry fails.
func (c *Collector) precollectAlternative(ctx context.Context, entry *buildpkg.Entry, idx int, alt catalog.Alternative, broaden bool) ([]prebuild, bool, bool, string, error) {
	builds := make([]prebuild, 0, len(alt.Deps))
	allReused := true

	for _, spec := range alt.Deps {
		targetCfg, err := c.resolveTargetConfig(ctx, entry.Key.Config, spec, entry.Available.Dependencies[idx].BuildTime)
		if err != nil {
			return nil, false, false, "", err
		}

		constraint := pkgver.Any()
		if spec.HasConstraint {
			constraint = spec.Constraint
		}
		key := buildpkg.Key{Config: targetCfg, Name: spec.Name}

		sel, err := c.Store.FindSelected(ctx, targetCfg, spec.Name)
		if err != nil {
			return nil, false, false, "", errors.Wrapf(err, "collect: %s: resolving selected record for %s", entry.Key, spec.Name)
		}
		if sel != nil && sel.SatisfiesConstraint(constraint) {
			builds = append(builds, prebuild{
				Spec: spec, Key: key,
				Available: &catalog.Available{Name: sel.Name, Version: sel.Version},
				Fragment:  entry.Fragment,
				System:    sel.SubState == catalog.SubStateSystem,
				Reused:    true,
			})
			continue
		}

		var avail *catalog.Available
		var found bool
		if broaden {
			avail, found, err = c.queryAvailableBroad(ctx, targetCfg, spec.Name, constraint, spec.HasConstraint)
			if err != nil {
				return nil, false, false, "", errors.Wrapf(err, "collect: %s: broadened search for %s", entry.Key, spec.Name)
			}
		} else {
			frags, ferr := c.dependentFragments(ctx, entry)
			if ferr != nil {
				return nil, false, false, "", ferr
			}
			q := store.Query{Name: spec.Name, HasConstraint: spec.HasConstraint, Constraint: constraint, SystemOK: true}
			avail, found, err = c.Repo.FilterOne(ctx, frags, q, store.OrderHighestVersionFirst, 0)
			if err != nil {
				return nil, false, false, "", errors.Wrapf(err, "collect: %s: searching repositories for %s", entry.Key, spec.Name)
			}
		}
		if !found {
			reason := fmt.Sprintf("no version of %s satisfies %s visible to %s", spec.Name, constraint, entry.Key)
			if !broaden {
				c.State.Repo.Add(entry.Key, reason)
			}
			return nil, false, false, reason, nil
		}

		if existingEntry := c.Map.EnteredBuild(key); existingEntry != nil && existingEntry.Available != nil &&
			!existingEntry.Available.Version.Equal(avail.Version) &&
			!buildpkg.SatisfiesAllConstraints(avail.Version, existingEntry.Constraints) {
			return nil, false, false, "", fmt.Errorf(
				"collect: %s and %s both depend on %s but require incompatible versions (%s)",
				entry.Key, describeRequiredBy(existingEntry), spec.Name, describeConstraints(existingEntry.Constraints),
			)
		}

		builds = append(builds, prebuild{Spec: spec, Key: key, Available: avail, Fragment: avail.Fragment, System: avail.SystemVersion.Known})
		allReused = false
	}

	return builds, allReused, true, "", nil
}

// queryAvailableBroad searches every available package visible to cfg for
// name (ignoring repository-fragment scoping entirely) and returns the
// highest-versioned one satisfying constraint, if any.
func (c *Collector) queryAvailableBroad(ctx context.Context, cfg linkcfg.ID, name pkgver.Name, constraint pkgver.Constraint, hasConstraint bool) (*catalog.Available, bool, error) {
	var c2 *pkgver.Constraint
	if hasConstraint {
		c2 = &constraint
	}
	candidates, err := c.Store.QueryAvailable(ctx, cfg, name, c2)
	if err != nil {
		return nil, false, err
	}
	var best *catalog.Available
	for _, a := range candidates {
		if best == nil || best.Version.Less(a.Version) {
			best = a
		}
	}
	return best, best != nil, nil
}

func (c *Collector) dependentFragments(ctx context.Context, entry *buildpkg.Entry) ([]store.RepositoryFragment, error) {
	if entry.Fragment == "" {
		return nil, nil
	}
	frag, err := c.Store.LoadRepositoryFragment(ctx, entry.Fragment)
	if err != nil {
		return nil, err
	}
	return []store.RepositoryFragment{frag}, nil
}

// resolveTargetConfig resolves a dependency's target configuration: a
// user-pinned configuration wins outright; otherwise a build-time
// dependency that doesn't already live in a host configuration is routed to
// one of D's explicit host links, creating a private one if none exists.
func (c *Collector) resolveTargetConfig(ctx context.Context, dependentCfg linkcfg.ID, spec catalog.DependencySpec, buildtime bool) (linkcfg.ID, error) {
	if id, ok, err := c.Prereq.FindPrereqDatabase(ctx, dependentCfg, spec.Name, buildtime); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}

	cfg, ok := c.Graph.Get(dependentCfg)
	if !ok {
		return "", fmt.Errorf("collect: unknown configuration %s", dependentCfg)
	}
	if !buildtime || cfg.Kind == linkcfg.Host {
		return dependentCfg, nil
	}

	parent := dependentCfg
	if cfg.Private {
		parent = cfg.Parent
	}
	links := c.Graph.ExplicitLinksOfType(parent, linkcfg.Host)
	switch len(links) {
	case 0:
		relPath := string(spec.Name) + "-host"
		id, err := c.PrivCfg.AddPrivateConfig(ctx, parent, relPath, linkcfg.Host)
		if err != nil {
			return "", errors.Wrapf(err, "collect: creating private host configuration under %s for %s", parent, spec.Name)
		}
		if _, known := c.Graph.Get(id); !known {
			if err := c.Graph.AddPrivate(parent, id, linkcfg.Host, relPath); err != nil {
				return "", err
			}
		}
		return id, nil
	case 1:
		return links[0], nil
	default:
		return "", fmt.Errorf("collect: %s: multiple host configurations linked to %s; pass an explicit --config-host", spec.Name, parent)
	}
}

func (c *Collector) dependencyIsOwnExistingDependent(dependencyKey, dependentKey buildpkg.Key) bool {
	cl, ok := c.State.Clusters.Get(dependencyKey)
	if !ok {
		return false
	}
	for _, d := range cl.Dependents {
		if d.Key == dependentKey && d.Existing {
			return true
		}
	}
	return false
}
