// Package refine drives the outer refinement loop: it repeatedly collects a
// requested set of selections/pins/drops/unholds against a build-package
// map, orders the result, simulates executing it against the store, and asks
// whether the simulated outcome still agrees with what a fresh evaluation of
// every configured package would recommend. It converges once a pass
// produces no new recommendations, mirroring the way the bimodal SAT solver
// this module is grounded on repeats its own select/backtrack loop until
// nextUnselected reports nothing left to do.
package refine

import (
	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/collect"
)

// Pin is a user-pinned dependency from the command line: a key the user
// named explicitly, with an optional explicit version/system candidate and
// hold semantics.
type Pin struct {
	Key         buildpkg.Key
	Candidate   collect.BuildCandidate
	HoldVersion bool
	Constraint  *buildpkg.Constraint
}

// Selection is one of the user's requested builds: the root set collection
// starts from.
type Selection struct {
	Key       buildpkg.Key
	Candidate collect.BuildCandidate
	// Recursive marks this selection as a recursive scope: evaluate_recursive
	// is run for it in addition to evaluate_dependency during staleness
	// checking (step 10).
	Recursive bool
}

// Request is the refinement driver's input: what the user asked to build,
// pin, drop, and unhold.
type Request struct {
	Selections []Selection
	Pins       []Pin
	Drops      []buildpkg.Key
	Unholds    []buildpkg.Key
}

// recommendation is one carried-forward deps-list entry: a drop or
// up/down-grade evaluate_dependency / evaluate_recursive produced, to be
// applied at the top of the next iteration's collection pass.
type recommendation struct {
	Key       buildpkg.Key
	Drop      bool
	Candidate collect.BuildCandidate
}
