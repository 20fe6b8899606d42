package collect

import (
	"context"
	"fmt"

	goerrors "errors"

	"github.com/pkg/errors"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/postpone"
)

// collectorSnapshot is a point-in-time copy of everything a drain pass over
// one postponed-configuration cluster might need to roll back: the
// build-package map and the full postponement-registry bundle.
type collectorSnapshot struct {
	m *buildpkg.Map
	s *postpone.State
}

func (c *Collector) snapshot() collectorSnapshot {
	return collectorSnapshot{m: c.Map.Clone(), s: c.State.Clone()}
}

// restore replaces the collector's map and state in place with a prior
// snapshot, preserving the pointer identity callers already hold.
func (c *Collector) restore(snap collectorSnapshot) {
	*c.Map = *snap.m
	*c.State = *snap.s
}

// CollectBuildPostponed drains every postponed-repo, postponed-alt,
// postponed-configuration, and bogus postponed-deps entry until none
// remain, or until nothing more can be done, in which case it reports
// whichever kind of unresolved postponement blocked progress.
//
// pcfg, if non-nil, is the cluster this call is responsible for
// negotiating and resolving before joining the general drain; it is nil
// for the outermost call the refinement driver makes.
func (c *Collector) CollectBuildPostponed(ctx context.Context, pcfg *postpone.Cluster) error {
	cc, cancel := c.withCaller(ctx)
	defer cancel()

	if pcfg != nil && !pcfg.Sealed() {
		if err := c.negotiateCluster(cc, pcfg); err != nil {
			return err
		}
	}

	// failedClusters tracks clusters this call has already tried and seen
	// throw back a postpone_dependency naming one of their own
	// dependencies -- restoring the snapshot undoes everything that
	// attempt did, so without this a cluster that deterministically
	// re-throws on its own state would be re-selected forever. Recorded
	// by ClusterID, which restore never invalidates.
	failedClusters := map[postpone.ClusterID]bool{}

drain:
	for c.State.ProgressPending() {
		if !c.State.Repo.Empty() {
			before := len(c.State.Repo.Keys())
			if err := c.drainRepo(cc); err != nil {
				return err
			}
			if len(c.State.Repo.Keys()) < before {
				continue drain
			}
		}

		if notSealed := c.State.Clusters.AllNotSealed(); len(notSealed) > 0 {
			next := firstUntriedCluster(notSealed, failedClusters)
			if next != nil {
				snap := c.snapshot()
				err := c.CollectBuildPostponed(cc, next)
				if err == nil {
					continue drain
				}
				var pdSig *PostponeDependencySignal
				if goerrors.As(err, &pdSig) && next.HasDependency(pdSig.Key) {
					c.restore(snap)
					failedClusters[next.ID] = true
					continue drain
				}
				return err
			}
		}

		if !c.State.Alt.Empty() {
			progressed, err := c.drainAlts(cc)
			if err != nil {
				return err
			}
			if progressed {
				continue drain
			}
			break drain
		}

		if bogus := c.State.Deps.Bogus(true); len(bogus) > 0 {
			for _, k := range bogus {
				c.State.Deps.Delete(k)
			}
			return &CancelPostponementSignal{Canceled: bogus}
		}
		if bogus := c.State.Deps.Bogus(false); len(bogus) > 0 {
			for _, k := range bogus {
				c.State.Deps.Delete(k)
			}
			return &CancelPostponementSignal{Canceled: bogus}
		}

		break drain
	}

	if !c.State.Repo.Empty() || !c.State.Alt.Empty() || !c.State.Clusters.AllSealed() {
		return fmt.Errorf("collect: postponed work could not be resolved (postponed-repo has %d entr(y/ies), postponed-alt non-empty: %v, all clusters sealed: %v)", len(c.State.Repo.Keys()), !c.State.Alt.Empty(), c.State.Clusters.AllSealed())
	}
	return nil
}

// firstUntriedCluster returns the first of notSealed not yet recorded in
// failed, or nil if every not-yet-sealed cluster has already been tried
// and failed this drain pass.
func firstUntriedCluster(notSealed []*postpone.Cluster, failed map[postpone.ClusterID]bool) *postpone.Cluster {
	for _, cl := range notSealed {
		if !failed[cl.ID] {
			return cl
		}
	}
	return nil
}

// drainRepo retries every postponed-repo entry's prerequisite collection
// with max_alt_index=0, removing each one first so a successful retry's own
// precollectAlternative re-adds it only if it still fails -- the idempotent
// re-entry postpone.Repo.Add documents.
func (c *Collector) drainRepo(ctx context.Context) error {
	for _, key := range c.State.Repo.Keys() {
		entry := c.Map.EnteredBuild(key)
		if entry == nil {
			c.State.Repo.Remove(key)
			continue
		}
		c.State.Repo.Remove(key)
		if err := c.collectBuildPrerequisites(ctx, entry, 0, nil); err != nil {
			return err
		}
	}
	return nil
}

// drainAlts runs the alternative-postponement heuristic: increasing
// max_alt_index from 1 up to the widest postponed choice, retrying every
// postponed-alt entry (in the heuristic's tiebreak order) at each bound
// until one pass makes progress.
func (c *Collector) drainAlts(ctx context.Context) (bool, error) {
	maxEnabled := 0
	for _, e := range c.State.Alt.Ordered() {
		if n := len(e.EnabledSnapshot); n > maxEnabled {
			maxEnabled = n
		}
	}

	for i := 1; i <= maxEnabled; i++ {
		progressed := false
		for _, e := range c.State.Alt.Ordered() {
			entry := c.Map.EnteredBuild(e.Key)
			if entry == nil {
				c.State.Alt.Remove(e.Key)
				progressed = true
				continue
			}

			beforeLen := len(entry.Dependencies)
			beforeRepo := len(c.State.Repo.Keys())
			if err := c.collectBuildPrerequisites(ctx, entry, i, nil); err != nil {
				return false, err
			}
			if _, stillPostponed := c.State.Alt.Get(e.Key); !stillPostponed || len(entry.Dependencies) > beforeLen || len(c.State.Repo.Keys()) != beforeRepo {
				progressed = true
			}
		}
		if progressed {
			return true, nil
		}
	}
	return false, nil
}

// negotiateCluster runs the one-time setup for a postponed-configuration
// cluster before it joins the drain: it pulls in already-configured
// dependents that place a configuration clause on the cluster's
// dependencies, negotiates the shared configuration, and then collects
// prerequisites for the dependencies (bounded) and the dependents
// (unbounded) before sealing.
func (c *Collector) negotiateCluster(ctx context.Context, pcfg *postpone.Cluster) error {
	for key := range pcfg.Dependencies {
		dependents, err := c.Store.QueryDependents(ctx, key.Config, key.Name, key.Config)
		if err != nil {
			return errors.Wrapf(err, "collect: querying existing dependents of %s for cluster negotiation", key)
		}
		for _, dep := range dependents {
			depKey := buildpkg.Key{Config: dep.Config, Name: dep.Name}
			if e := c.Map.EnteredBuild(depKey); e != nil && (e.Action == buildpkg.Build || e.Action == buildpkg.Drop) {
				continue
			}

			sel, err := c.Store.FindSelected(ctx, dep.Config, dep.Name)
			if err != nil {
				return errors.Wrapf(err, "collect: resolving selected record for dependent %s", depKey)
			}
			if sel == nil {
				continue
			}

			if _, err := c.CollectBuild(ctx, depKey, BuildCandidate{
				Available: &catalog.Available{Name: sel.Name, Version: sel.Version},
				System:    sel.SubState == catalog.SubStateSystem,
			}, BuildOptions{}); err != nil {
				return err
			}
			if err := c.State.Clusters.AddDependent(pcfg.ID, postpone.Dependent{Key: depKey, Existing: true}); err != nil {
				return err
			}
		}
	}

	pcfg.Begin()

	cfgVars, err := c.negotiateConfiguration(pcfg)
	if err != nil {
		return err
	}
	for _, d := range pcfg.Dependents {
		entry := c.Map.EnteredBuild(d.Key)
		if entry == nil || entry.Skeleton == nil {
			continue
		}
		for k, v := range cfgVars {
			entry.Skeleton.Vars[k] = v
		}
	}

	for key := range pcfg.Dependencies {
		entry := c.Map.EnteredBuild(key)
		if entry == nil {
			continue
		}
		if err := c.collectBuildPrerequisites(ctx, entry, 0, nil); err != nil {
			return err
		}
	}
	for _, d := range pcfg.Dependents {
		entry := c.Map.EnteredBuild(d.Key)
		if entry == nil {
			continue
		}
		if err := c.collectBuildPrerequisites(ctx, entry, MaxAltIndexUnbounded, nil); err != nil {
			return err
		}
	}

	pcfg.Seal()
	return nil
}

// negotiateConfiguration gathers the clause each dependent contributed when
// it committed to this cluster (its most recently appended Dependency) and
// asks the Evaluator to settle on shared configuration variables.
func (c *Collector) negotiateConfiguration(pcfg *postpone.Cluster) (catalog.ConfigVars, error) {
	var clauses []catalog.Clause
	for _, d := range pcfg.Dependents {
		entry := c.Map.EnteredBuild(d.Key)
		if entry == nil || len(entry.Dependencies) == 0 {
			continue
		}
		clauses = append(clauses, entry.Dependencies[len(entry.Dependencies)-1].Clause)
	}
	return c.Eval.NegotiateConfiguration(clauses)
}
