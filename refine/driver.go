package refine

import (
	"context"
	goerrors "errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/collect"
	"github.com/dstask/bpm/order"
	"github.com/dstask/bpm/store"
)

// maxOuterIterations and maxCollectionRetries bound the two nested loops
// against a runaway oscillation between stale recommendations and
// restart signals; either being hit is reported as a driver error rather
// than looping forever.
const (
	maxOuterIterations   = 64
	maxCollectionRetries = 64
)

// Driver runs the refinement outer loop against a collector and orderer
// sharing the same build-package map and postponement state. Executor is
// kept separate from the collector's own collaborators since the plan
// executor only ever sees the finished, ordered plan -- never the
// in-progress collection.
type Driver struct {
	Collector *collect.Collector
	Orderer   *order.Orderer
	Executor  store.PlanExecutor
	Log       *logrus.Entry
}

// NewDriver returns a Driver bound to c, o, and exec. log may be nil, in
// which case a disconnected entry is used so callers never have to
// nil-check Log.
func NewDriver(c *collect.Collector, o *order.Orderer, exec store.PlanExecutor, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{Collector: c, Orderer: o, Executor: exec, Log: log}
}

// Result is what a converged refinement pass produced.
type Result struct {
	Plan       store.Plan
	Iterations int
}

// Refine runs the refinement driver's outer iteration to convergence: collect,
// order, simulate, evaluate, and repeat while evaluation keeps producing
// either staleness or fresh recommendations. It mirrors the solver's own
// "for { next := ...; if !has { break } }" shape -- here the loop variable is
// "did evaluation change anything" rather than "is there an unselected
// package left".
func (d *Driver) Refine(ctx context.Context, req Request) (*Result, error) {
	var carried []recommendation

	for iteration := 1; ; iteration++ {
		if iteration > maxOuterIterations {
			return nil, fmt.Errorf("refine: did not converge after %d outer iterations", maxOuterIterations)
		}
		d.Log.WithField("iteration", iteration).Debug("refine: starting outer iteration")

		snap, err := d.applyRepointedPrerequisites(ctx)
		if err != nil {
			return nil, err
		}

		if err := d.collectOnce(ctx, req, carried); err != nil {
			return nil, err
		}

		if err := d.orderAll(ctx, req, carried); err != nil {
			return nil, err
		}

		if err := d.restoreRepointedPrerequisites(ctx, snap); err != nil {
			return nil, err
		}

		plan := buildPlan(d.Collector.Map)
		if err := d.simulateExecution(ctx, plan); err != nil {
			return nil, err
		}

		stale, fresh, err := d.evaluateStaleness(ctx, req)
		if err != nil {
			return nil, err
		}

		if stale {
			d.Log.WithField("iteration", iteration).Debug("refine: plan went stale during evaluation, rebuilding")
			carried = fresh
			continue
		}
		if len(fresh) == 0 {
			if err := d.verifyNoCrossConfigurationDuplication(); err != nil {
				return nil, err
			}
			return &Result{Plan: buildPlan(d.Collector.Map), Iterations: iteration}, nil
		}
		carried = append(carried, fresh...)
	}
}

// collectOnce runs steps 2-6 of one outer iteration, retrying from scratch
// whenever the collector throws one of its typed restart signals. Since the
// signal interface's scratchKind is unexported, retries dispatch on the
// concrete signal types directly rather than asking a signal what reset it
// wants.
func (d *Driver) collectOnce(ctx context.Context, req Request, carried []recommendation) error {
	c := d.Collector

	for attempt := 1; ; attempt++ {
		if attempt > maxCollectionRetries {
			return fmt.Errorf("refine: collection did not converge after %d restarts", maxCollectionRetries)
		}

		err := d.collectPass(ctx, req, carried)
		if err == nil {
			return nil
		}

		var replaceVersion *collect.ReplaceVersionSignal
		var postponeDependent *collect.PostponeDependentSignal
		var postponeDependency *collect.PostponeDependencySignal
		var cancelPostponement *collect.CancelPostponementSignal
		var generic *collect.ScratchCollectionSignal

		switch {
		case goerrors.As(err, &replaceVersion):
			d.Log.Debugf("refine: restarting collection after replacing %s's version", replaceVersion.Key)
		case goerrors.As(err, &postponeDependent):
			d.Log.Debugf("refine: restarting collection after postponing dependent %s", postponeDependent.Key)
		case goerrors.As(err, &postponeDependency):
			c.State.ScratchCol()
			d.Log.Debugf("refine: restarting collection after postponing dependency %s", postponeDependency.Key)
		case goerrors.As(err, &cancelPostponement):
			d.Log.Debugf("refine: restarting collection after canceling %d bogus postponement(s)", len(cancelPostponement.Canceled))
		case goerrors.As(err, &generic):
			c.State.ScratchExe()
			d.Log.Debugf("refine: restarting collection: %s", generic.Reason)
		default:
			return err
		}
	}
}

// collectPass is steps 2 through 6 of the outer iteration: pre-enter pins,
// collect selections, unhold previously-held pins, collect repointed
// dependents, apply carried-forward recommendations, and drain whatever
// those left postponed.
func (d *Driver) collectPass(ctx context.Context, req Request, carried []recommendation) error {
	c := d.Collector

	for _, p := range req.Pins {
		opts := collect.BuildOptions{
			RequiredBy:    catalog.UserSelectionKey(p.Key.Config),
			UserSelection: true,
			HoldVersion:   p.HoldVersion,
			Constraint:    p.Constraint,
		}
		if _, err := c.CollectBuild(ctx, p.Key, p.Candidate, opts); err != nil {
			return err
		}
	}

	for _, s := range req.Selections {
		opts := collect.BuildOptions{
			RequiredBy:    catalog.UserSelectionKey(s.Key.Config),
			UserSelection: true,
		}
		if cl, ok := c.State.Clusters.Get(s.Key); ok && cl.HasDependency(s.Key) {
			c.State.Deps.MarkWoutConfig(s.Key, true)
			if _, err := c.CollectBuild(ctx, s.Key, s.Candidate, opts); err != nil {
				return err
			}
			continue
		}
		opts.Recursive = true
		if _, err := c.CollectBuild(ctx, s.Key, s.Candidate, opts); err != nil {
			return err
		}
	}

	for _, p := range req.Pins {
		sel, err := c.Store.FindSelected(ctx, p.Key.Config, p.Key.Name)
		if err != nil {
			return err
		}
		if sel != nil && (sel.HoldPackage || sel.HoldVersion) {
			if _, err := c.CollectUnhold(ctx, p.Key); err != nil {
				return err
			}
		}
	}

	if err := c.CollectRepointedDependents(ctx); err != nil {
		return err
	}

	for _, k := range req.Drops {
		if _, err := c.CollectDrop(ctx, k); err != nil {
			return err
		}
	}
	for _, k := range req.Unholds {
		if _, err := c.CollectUnhold(ctx, k); err != nil {
			return err
		}
	}

	for _, rec := range carried {
		if rec.Drop {
			if _, err := c.CollectDrop(ctx, rec.Key); err != nil {
				return err
			}
			continue
		}
		if _, err := c.CollectBuild(ctx, rec.Key, rec.Candidate, collect.BuildOptions{Recursive: true}); err != nil {
			return err
		}
	}

	return c.CollectBuildPostponed(ctx, nil)
}

// orderAll is step 7: order deps first, then hold-pkgs, then repointed
// dependents, then collect_order_dependents, then unhold -- followed by the
// ordering-invariant check.
func (d *Driver) orderAll(ctx context.Context, req Request, carried []recommendation) error {
	c := d.Collector
	o := d.Orderer

	place := func(k buildpkg.Key) error {
		if c.Map.EnteredBuild(k) == nil {
			return nil
		}
		return o.Order(k, nil, false)
	}

	for _, rec := range carried {
		if rec.Drop {
			continue
		}
		if err := place(rec.Key); err != nil {
			return err
		}
	}
	for _, s := range req.Selections {
		if err := place(s.Key); err != nil {
			return err
		}
	}
	for _, p := range req.Pins {
		if err := place(p.Key); err != nil {
			return err
		}
	}
	for _, dependent := range sortedKeys(c.State.Repointed.Dependents()) {
		if err := place(dependent); err != nil {
			return err
		}
	}

	var changed []buildpkg.Key
	for key, e := range c.Map.All() {
		if e.Action == buildpkg.Build || (e.Action == buildpkg.Adjust && e.Flags.Has(buildpkg.AdjustReconfigure)) {
			changed = append(changed, key)
		}
	}
	if err := c.CollectOrderDependents(ctx, sortedKeys(changed)); err != nil {
		return err
	}

	for _, k := range req.Unholds {
		if err := place(k); err != nil {
			return err
		}
	}

	return d.verifyOrderingInvariant()
}

func sortedKeys(keys []buildpkg.Key) []buildpkg.Key {
	out := append([]buildpkg.Key(nil), keys...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
