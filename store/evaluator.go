package store

import (
	"fmt"
	"strings"

	"github.com/dstask/bpm/catalog"
)

// SimpleEvaluator is a reference catalog.Evaluator for tests: enable/reflect
// expressions are tiny sentinel strings rather than a real buildfile
// expression language, and configuration negotiation just folds every
// non-empty "accept" clause's literal variable assignment together, the
// last one per variable winning. Real buildfile
// expression evaluation is an external collaborator, a "skeleton evaluator"
// out of this module's scope; this fake exists only so collect/order/refine
// can be exercised without one.
type SimpleEvaluator struct {
	// BuildfileClauseNames marks dependency groups whose alternatives
	// should report HasBuildfileClause true, by the depended-on name.
	BuildfileClauseNames map[string]bool
}

// NewSimpleEvaluator returns an evaluator with no buildfile-content
// dependent clauses recorded.
func NewSimpleEvaluator() *SimpleEvaluator {
	return &SimpleEvaluator{BuildfileClauseNames: make(map[string]bool)}
}

// EvaluateEnable treats "false" as disabling and everything else
// (including the empty string) as enabling.
func (e *SimpleEvaluator) EvaluateEnable(_ *catalog.Skeleton, _ int, expr string) (bool, error) {
	return expr != "false", nil
}

// EvaluateReflect records "name=value" into sk.Vars; any other form is a
// no-op.
func (e *SimpleEvaluator) EvaluateReflect(sk *catalog.Skeleton, _ int, expr string) error {
	name, value, ok := strings.Cut(expr, "=")
	if !ok {
		return nil
	}
	if sk.Vars == nil {
		sk.Vars = make(catalog.ConfigVars)
	}
	sk.Vars[name] = value
	return nil
}

// HasBuildfileClause reports true if any alternative in deps depends on a
// name recorded in BuildfileClauseNames.
func (e *SimpleEvaluator) HasBuildfileClause(deps []catalog.DependencyGroup) bool {
	for _, g := range deps {
		for _, alt := range g.Alternatives {
			for _, spec := range alt.Deps {
				if e.BuildfileClauseNames[string(spec.Name)] {
					return true
				}
			}
		}
	}
	return false
}

// NegotiateConfiguration folds every clause's "accept" expression, read as
// "name=value", into the result, last write wins -- deterministic given the
// same input slice, as the real evaluator must be.
func (e *SimpleEvaluator) NegotiateConfiguration(clauses []catalog.Clause) (catalog.ConfigVars, error) {
	out := make(catalog.ConfigVars)
	for _, c := range clauses {
		if !c.HasPreferAccept || c.Accept == "" {
			continue
		}
		name, value, ok := strings.Cut(c.Accept, "=")
		if !ok {
			return nil, fmt.Errorf("store: SimpleEvaluator: malformed accept clause %q", c.Accept)
		}
		out[name] = value
	}
	return out, nil
}
