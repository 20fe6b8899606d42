package collect

import (
	"context"
	"fmt"
	"math"

	"github.com/sdboyer/constext"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/postpone"
	"github.com/dstask/bpm/store"
)

// MaxAltIndexUnbounded permits selecting any true alternative during
// alternative selection -- the default outside the postponed-alt draining
// loop, which instead passes successively larger bounds (see selectAlternative
// and drainAlts).
const MaxAltIndexUnbounded = math.MaxInt

// Collector is the recursive walk that turns a requested build candidate,
// plus whatever is already selected and postponed, into build-package map
// entries. One Collector owns one run: its Map and State are mutated in
// place as collection proceeds, and its external collaborators are supplied
// once at construction rather than threaded through every call.
type Collector struct {
	Map   *buildpkg.Map
	State *postpone.State
	Graph *linkcfg.Graph

	Store   store.PackageStore
	Repo    store.RepositoryQuery
	SysVer  store.SystemVersionAuthority
	Prereq  store.PrereqDatabaseResolver
	PrivCfg store.PrivateConfigCreator
	Eval    catalog.Evaluator

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCollector returns a Collector bound to the given map/state/graph and
// collaborators. ctx is the run-scoped context combined (via constext) with
// whatever context each method call is given, so a caller-side cancellation
// and a collector-wide one both abort in-flight store calls.
func NewCollector(
	ctx context.Context,
	m *buildpkg.Map,
	st *postpone.State,
	graph *linkcfg.Graph,
	ps store.PackageStore,
	rq store.RepositoryQuery,
	sv store.SystemVersionAuthority,
	pr store.PrereqDatabaseResolver,
	pc store.PrivateConfigCreator,
	ev catalog.Evaluator,
) *Collector {
	cctx, cancel := context.WithCancel(ctx)
	return &Collector{
		Map: m, State: st, Graph: graph,
		Store: ps, Repo: rq, SysVer: sv, Prereq: pr, PrivCfg: pc, Eval: ev,
		ctx: cctx, cancel: cancel,
	}
}

// Close cancels the collector's run-scoped context.
func (c *Collector) Close() { c.cancel() }

func (c *Collector) withCaller(ctx context.Context) (context.Context, context.CancelFunc) {
	return constext.Cons(c.ctx, ctx)
}

// BuildCandidate is the (available package, fragment, system-ness) triple a
// caller proposes for a key; it stands in for the transient "p" record
// collect_build works with before an Entry exists.
type BuildCandidate struct {
	Available *catalog.Available
	Fragment  catalog.FragmentHandle
	System    bool
}

// BuildOptions carries collect_build's optional merge contributions and
// recursion control.
type BuildOptions struct {
	RequiredBy           buildpkg.Key
	RequiredByDependents bool
	UserSelection        bool
	HoldPackage          bool
	HoldVersion          bool
	Constraint           *buildpkg.Constraint

	// Verify, if set, is run against the merged entry before it is stored;
	// returning an error aborts the whole CollectBuild call.
	Verify func(*buildpkg.Entry) error

	Recursive   bool
	MaxAltIndex int
}

// CollectBuild applies the version-replacement, dependent-postponement, and
// merge/replacement policy for a single key, then optionally recurses into
// its prerequisites.
func (c *Collector) CollectBuild(ctx context.Context, key buildpkg.Key, cand BuildCandidate, opts BuildOptions) (*buildpkg.Entry, error) {
	cc, cancel := c.withCaller(ctx)
	defer cancel()

	if rv, ok := c.State.Replaced.Get(key); ok && !rv.Replaced {
		cand = BuildCandidate{Available: rv.Desired, Fragment: rv.Fragment, System: rv.System}
		c.State.Replaced.MarkApplied(key)
	}

	if cl, ok := c.State.Clusters.Get(key); ok && cl.Sealed() && clusterHasDependent(cl, key) {
		c.State.Dependents.Add(key)
		return nil, &PostponeDependentSignal{Key: key}
	}

	existing := c.Map.EnteredBuild(key)
	entry, err := c.mergeBuild(key, cand, existing, opts)
	if err != nil {
		return nil, err
	}

	if opts.Verify != nil {
		if err := opts.Verify(entry); err != nil {
			return nil, err
		}
	}

	if err := c.Map.Put(entry); err != nil {
		return nil, err
	}

	if opts.Recursive {
		maxAlt := opts.MaxAltIndex
		if maxAlt == 0 {
			maxAlt = MaxAltIndexUnbounded
		}
		if err := c.collectBuildPrerequisites(cc, entry, maxAlt, nil); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

func (c *Collector) mergeBuild(key buildpkg.Key, cand BuildCandidate, existing *buildpkg.Entry, opts BuildOptions) (*buildpkg.Entry, error) {
	if existing == nil {
		e := buildpkg.NewPreEntered(key)
		e.Action = buildpkg.Build
		applyCandidate(e, cand)
		applyOptions(e, opts)
		return e, nil
	}

	if existing.Action == buildpkg.Drop {
		return existing, nil
	}

	if existing.Action != buildpkg.Build {
		existing.Action = buildpkg.Build
		applyCandidate(existing, cand)
		applyOptions(existing, opts)
		return existing, nil
	}

	keepIsExisting, err := c.resolveBuildConflict(existing, cand, opts)
	if err != nil {
		return nil, err
	}

	applyOptions(existing, opts)

	if keepIsExisting {
		return existing, nil
	}

	if existing.Available.Version.Equal(cand.Available.Version) {
		applyCandidate(existing, cand)
		return existing, nil
	}

	_, inCluster := c.State.Clusters.Get(key)
	canReplaceInPlace := !hasNonToolchainDependencies(cand.Available) && existing.Dependencies == nil && !inCluster
	if canReplaceInPlace {
		applyCandidate(existing, cand)
		return existing, nil
	}

	c.State.Replaced.Set(key, cand.Available, cand.Fragment, cand.System)
	return nil, &ReplaceVersionSignal{Key: key}
}

// candidateInfo is the preference-tuple view of either an existing entry or
// an incoming candidate, used only by resolveBuildConflict.
type candidateInfo struct {
	Available     *catalog.Available
	System        bool
	UserSelection bool
	Constraints   []buildpkg.Constraint
}

// resolveBuildConflict decides which of an existing build entry and an
// incoming candidate wins a build-vs-build conflict, per the
// (user_selection desc, system asc, available_version desc) preference
// tuple, falling back to constraint satisfaction when the tuple doesn't
// settle a version difference.
func (c *Collector) resolveBuildConflict(existing *buildpkg.Entry, cand BuildCandidate, opts BuildOptions) (keepIsExisting bool, err error) {
	var newConstraints []buildpkg.Constraint
	if opts.Constraint != nil {
		newConstraints = []buildpkg.Constraint{*opts.Constraint}
	}
	a := candidateInfo{existing.Available, existing.System, hasUserSelection(existing), existing.Constraints}
	b := candidateInfo{cand.Available, cand.System, opts.UserSelection, newConstraints}

	keepIsExisting = preferA(a, b)

	if a.Available.Version.Equal(b.Available.Version) {
		return keepIsExisting, nil
	}

	keep, other := b, a
	if keepIsExisting {
		keep, other = a, b
	}

	if buildpkg.SatisfiesAllConstraints(keep.Available.Version, other.Constraints) {
		return keepIsExisting, nil
	}
	if buildpkg.SatisfiesAllConstraints(other.Available.Version, keep.Constraints) {
		return !keepIsExisting, nil
	}

	return keepIsExisting, fmt.Errorf(
		"collect: %s: conflicting version requirements (%s vs %s) between dependents",
		existing.Key, keep.Available.Version, other.Available.Version,
	)
}

func preferA(a, b candidateInfo) bool {
	if a.UserSelection != b.UserSelection {
		return a.UserSelection
	}
	if a.System != b.System {
		return !a.System
	}
	if cmp := a.Available.Version.Compare(b.Available.Version); cmp != 0 {
		return cmp > 0
	}
	return true
}

func hasUserSelection(e *buildpkg.Entry) bool {
	_, ok := e.RequiredBy[catalog.UserSelectionKey(e.Key.Config)]
	return ok
}

func hasNonToolchainDependencies(a *catalog.Available) bool {
	for _, g := range a.Dependencies {
		if !g.IsToolchain() {
			return true
		}
	}
	return false
}

func applyCandidate(e *buildpkg.Entry, cand BuildCandidate) {
	e.Available = cand.Available
	e.Fragment = cand.Fragment
	e.System = cand.System
}

func applyOptions(e *buildpkg.Entry, opts BuildOptions) {
	if opts.RequiredBy.Config != "" {
		e.AddRequiredBy(opts.RequiredBy, opts.RequiredByDependents)
	}
	if opts.UserSelection {
		e.AddRequiredBy(catalog.UserSelectionKey(e.Key.Config), true)
	}
	e.StrengthenHold(opts.HoldPackage, opts.HoldVersion)
	if opts.Constraint != nil {
		e.AddConstraint(*opts.Constraint)
	}
}

func clusterHasDependent(cl *postpone.Cluster, key buildpkg.Key) bool {
	for _, d := range cl.Dependents {
		if d.Key == key {
			return true
		}
	}
	return false
}

func describeConstraints(cs []buildpkg.Constraint) string {
	if len(cs) == 0 {
		return "no recorded constraint"
	}
	return fmt.Sprintf("%d recorded constraint(s)", len(cs))
}

func describeRequiredBy(e *buildpkg.Entry) string {
	return fmt.Sprintf("%d dependent(s)", len(e.RequiredBy))
}
