package catalog

// ConfigVars is the set of configuration variables carried by a Skeleton,
// keyed by variable name. Values are kept as opaque strings; interpreting
// them is the Evaluator's job.
type ConfigVars map[string]string

// Clone returns a shallow copy (values are immutable strings).
func (v ConfigVars) Clone() ConfigVars {
	if v == nil {
		return nil
	}
	cp := make(ConfigVars, len(v))
	for k, val := range v {
		cp[k] = val
	}
	return cp
}

// Skeleton is the evaluation context for a build-package entry's
// enable/reflect/prefer/accept/require clauses. A build-package entry's
// Dependencies slice and Skeleton are either both present or both absent;
// buildpkg.Entry enforces that pairing.
type Skeleton struct {
	Vars ConfigVars

	// Position is one past the last dependency group whose chosen
	// alternative was committed against this skeleton. It is not the
	// resume marker: the collector resumes a partially-processed entry
	// from len(Dependencies).
	Position int
}

// NewSkeleton constructs a Skeleton with the given initial configuration
// variables. The configuration/available/src/out context a full skeleton
// needs is threaded through by the collector, which is why only config
// vars live here.
func NewSkeleton(vars ConfigVars) *Skeleton {
	return &Skeleton{Vars: vars.Clone()}
}

// Clone returns a deep copy for snapshot/restore.
func (s *Skeleton) Clone() *Skeleton {
	if s == nil {
		return nil
	}
	return &Skeleton{Vars: s.Vars.Clone(), Position: s.Position}
}

// Evaluator is the abstract skeleton-evaluation capability:
// two read entry points for enable/reflect expressions, a buildfile-clause
// detector, and the two negotiation hooks a postponed-configuration cluster
// uses once it has a full dependent set.
//
// Concrete implementations are an external collaborator; the reference
// fakes live in package store so that tests can exercise the collector
// without a real buildfile parser.
type Evaluator interface {
	// EvaluateEnable evaluates expr against sk at the given dependency
	// group position, returning whether the alternative is enabled.
	EvaluateEnable(sk *Skeleton, position int, expr string) (bool, error)

	// EvaluateReflect runs expr's side effect (typically recording a
	// chosen dependency's attributes back into sk's variables) at the
	// given position.
	EvaluateReflect(sk *Skeleton, position int, expr string) error

	// HasBuildfileClause reports whether any of deps carries a clause that
	// depends on the dependent's own buildfile content, used by the
	// already-configured early-exit check before re-collecting an entry.
	HasBuildfileClause(deps []DependencyGroup) bool

	// NegotiateConfiguration runs the shared-configuration negotiation for
	// a postponed-configurations cluster: given
	// the accumulated prefer/accept/require clauses from every dependent
	// in the cluster, it returns the agreed configuration variables to
	// apply to the cluster's dependencies. The result must be
	// deterministic given the same clause set.
	NegotiateConfiguration(clauses []Clause) (ConfigVars, error)
}
