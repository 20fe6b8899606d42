// Package collect implements the collector: the recursive walk that turns a
// user selection plus the existing selected-package set into a build-package
// map of build/drop/adjust entries, postponing what it cannot decide on the
// first pass and draining those postponements once enough of the map exists
// to resolve them.
package collect

import (
	"errors"
	"fmt"

	"github.com/dstask/bpm/buildpkg"
)

// signal is the common interface every restart/postponement condition
// implements, mirroring the traceError/typed-error pattern the solver uses
// for its own control-flow-as-error signals: each one carries enough context
// to explain itself, and carries a method identifying which reset the
// collector/refiner should apply before retrying.
type signal interface {
	error
	scratchKind() ScratchKind
}

// ScratchKind identifies which reset a signal demands of the caller.
type ScratchKind int

const (
	// ScratchNone is not a valid return from scratchKind; it exists only as
	// the zero value.
	ScratchNone ScratchKind = iota
	ScratchReplaceVersion
	ScratchPostponeDependent
	ScratchPostponeDependency
	ScratchCancelPostponement
	ScratchGeneric
)

func (k ScratchKind) String() string {
	switch k {
	case ScratchReplaceVersion:
		return "replace_version"
	case ScratchPostponeDependent:
		return "postpone_dependent"
	case ScratchPostponeDependency:
		return "postpone_dependency"
	case ScratchCancelPostponement:
		return "cancel_postponement"
	case ScratchGeneric:
		return "scratch_collection"
	default:
		return "none"
	}
}

// ReplaceVersionSignal is thrown when an in-place version replacement isn't
// possible (the new version has non-toolchain dependencies, or the old entry
// already went through configuration negotiation); the caller must restart
// collection from scratch, keeping the deps list and replaced-versions
// registry intact.
type ReplaceVersionSignal struct {
	Key buildpkg.Key
}

func (s *ReplaceVersionSignal) Error() string {
	return fmt.Sprintf("collect: %s needs a version replacement; restart collection", s.Key)
}
func (s *ReplaceVersionSignal) scratchKind() ScratchKind { return ScratchReplaceVersion }

// PostponeDependentSignal is thrown when a key names an existing dependent
// already sealed into a postponed-configuration cluster that is now being
// rebuilt; the caller restarts collection from scratch, recording the
// dependent in the postponed-dependents registry first.
type PostponeDependentSignal struct {
	Key buildpkg.Key
}

func (s *PostponeDependentSignal) Error() string {
	return fmt.Sprintf("collect: %s is a sealed dependent now being rebuilt; restart collection", s.Key)
}
func (s *PostponeDependentSignal) scratchKind() ScratchKind { return ScratchPostponeDependent }

// PostponeDependencySignal is thrown when a dependency's own
// prerequisite collection has already started elsewhere and no cycle can be
// proven across sealed clusters; the caller restarts collection from
// scratch, dropping any deps postponed in this pass.
type PostponeDependencySignal struct {
	Key buildpkg.Key
}

func (s *PostponeDependencySignal) Error() string {
	return fmt.Sprintf("collect: %s's prerequisite collection is already in progress elsewhere; restart collection", s.Key)
}
func (s *PostponeDependencySignal) scratchKind() ScratchKind { return ScratchPostponeDependency }

// CancelPostponementSignal is thrown after canceling one or more bogus
// postponed-deps entries (seen without a configuration clause but never
// with one) during a cluster-drain pass; the caller restarts collection
// from scratch.
type CancelPostponementSignal struct {
	Canceled []buildpkg.Key
}

func (s *CancelPostponementSignal) Error() string {
	return fmt.Sprintf("collect: canceling %d bogus postponed-dependency entries; restart collection", len(s.Canceled))
}
func (s *CancelPostponementSignal) scratchKind() ScratchKind { return ScratchCancelPostponement }

// ScratchCollectionSignal is the generic base signal: a restart whose
// purpose is carried entirely in Reason, used by callers that don't need
// one of the four more specific signals above.
type ScratchCollectionSignal struct {
	Reason string
}

func (s *ScratchCollectionSignal) Error() string {
	return fmt.Sprintf("collect: restarting collection: %s", s.Reason)
}
func (s *ScratchCollectionSignal) scratchKind() ScratchKind { return ScratchGeneric }

// AsSignal reports whether err is (or wraps) one of this package's
// restart/postponement signals.
func AsSignal(err error) (signal, bool) {
	var s signal
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// configurationCycleError reports that honoring a postpone_dependency throw
// would require a cycle across already-sealed postponed-configuration
// clusters -- the one failure in the postponement machinery that is not
// recoverable by restarting collection.
type configurationCycleError struct {
	dependent, dependency buildpkg.Key
	through               buildpkg.Key
}

func (e *configurationCycleError) Error() string {
	return fmt.Sprintf(
		"collect: %s depending on %s would create a configuration cycle through %s; reorder the dependents' depends clauses",
		e.dependent, e.dependency, e.through,
	)
}
