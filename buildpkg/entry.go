// Package buildpkg defines the build-package entry -- the unit of planning
// -- and the map and ordered list that own entries through the life of a
// collection run.
package buildpkg

import (
	"fmt"

	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
)

// Action is the action a build-package entry will perform, or the zero
// value for a pre-entered entry with no action yet.
type Action string

const (
	NoAction Action = ""
	Build    Action = "build"
	Drop     Action = "drop"
	Adjust   Action = "adjust"
)

// Flag is one bit of buildpkg.Entry.Flags.
type Flag uint8

const (
	AdjustUnhold Flag = 1 << iota
	AdjustReconfigure
	BuildRepoint
)

// Flags is a small bitset; plain bit tests are preferred here over a
// dependency for something this small (see DESIGN.md "Standard-library-only
// components").
type Flags uint8

func (f Flags) Has(bit Flag) bool  { return f&Flags(bit) != 0 }
func (f *Flags) Set(bit Flag)      { *f |= Flags(bit) }
func (f *Flags) Clear(bit Flag)    { *f &^= Flags(bit) }
func (f Flags) Empty() bool        { return f == 0 }
func (f Flags) String() string {
	if f.Empty() {
		return "-"
	}
	s := ""
	if f.Has(AdjustUnhold) {
		s += "unhold,"
	}
	if f.Has(AdjustReconfigure) {
		s += "reconfigure,"
	}
	if f.Has(BuildRepoint) {
		s += "repoint,"
	}
	if n := len(s); n > 0 {
		s = s[:n-1]
	}
	return s
}

// Constraint is one contributor to an entry's accumulated constraint
// vector. Dependent is CommandLineOrigin for a
// user-supplied pin.
type Constraint struct {
	Origin     linkcfg.ID
	Dependent  pkgver.Name // CommandLineOrigin marks a command-line constraint
	Constraint pkgver.Constraint
}

// CommandLineOrigin is the distinguished dependent name used when a
// constraint comes from the command line rather than another package.
const CommandLineOrigin pkgver.Name = "command line"

// Dependency is one already-collected dependency slot, parallel to the
// Available package's dependency groups. An empty Picked slice represents
// a toolchain or disabled group recorded as "empty".
type Dependency struct {
	Picked []catalog.DependencySpec
	Clause catalog.Clause
}

// Key identifies an entry the same way catalog.Key does; re-exported here
// so buildpkg callers don't need to import catalog just for the alias.
type Key = catalog.Key

// Entry is the build-package entry: the central record the collector
// builds up for a single (configuration, package) as it decides what to
// do with it.
type Entry struct {
	Key Key

	Action Action

	Selected  *catalog.SelectedPackage
	Available *catalog.Available
	Fragment  catalog.FragmentHandle

	// Dependencies and Skeleton are either both present or both absent. A
	// nil Dependencies with non-nil Skeleton, or vice versa, is a bug the
	// map's invariant checker rejects.
	Dependencies []Dependency
	Skeleton     *catalog.Skeleton

	// PostponedDependencyAlternatives snapshots which alternatives were
	// enabled the last time this entry caused a postponement, so enable
	// clauses are never re-evaluated on resume.
	PostponedDependencyAlternatives []bool

	// RecursiveCollection is the barrier flag: true once recursion into
	// this entry's prerequisites has been started or finished.
	RecursiveCollection bool

	HoldPackage bool
	HoldVersion bool

	Constraints []Constraint

	System         bool
	KeepOut        bool
	Disfigure      bool
	ConfigureOnly  bool
	CheckoutRoot   string
	HasCheckoutRoot bool
	CheckoutPurge  bool
	ConfigVars     catalog.ConfigVars

	// RequiredBy is the set of keys that caused this entry to be
	// collected; the empty-name key denotes direct user selection.
	RequiredBy map[Key]struct{}

	// RequiredByDependents distinguishes whether RequiredBy names
	// dependents (the normal case) or dependencies.
	RequiredByDependents bool

	Flags Flags
}

// NewPreEntered returns an entry with no action yet -- the placeholder
// the map inserts before the collector has decided what to do with a key.
func NewPreEntered(key Key) *Entry {
	return &Entry{Key: key, RequiredBy: make(map[Key]struct{})}
}

// Validate checks the invariants a single entry must hold.
func (e *Entry) Validate() error {
	switch e.Action {
	case Build:
		if e.Available == nil {
			return fmt.Errorf("buildpkg: %s: action=build requires Available", e.Key)
		}
	case Drop:
		if e.Selected == nil || e.Available != nil {
			return fmt.Errorf("buildpkg: %s: action=drop requires Selected!=nil, Available==nil", e.Key)
		}
	case Adjust:
		if e.Selected == nil || e.Available != nil {
			return fmt.Errorf("buildpkg: %s: action=adjust requires Selected!=nil, Available==nil", e.Key)
		}
		if !e.Flags.Has(AdjustUnhold) && !e.Flags.Has(AdjustReconfigure) {
			return fmt.Errorf("buildpkg: %s: action=adjust requires unhold or reconfigure flag", e.Key)
		}
	case NoAction:
		// pre-entered; no further constraints
	default:
		return fmt.Errorf("buildpkg: %s: unknown action %q", e.Key, e.Action)
	}

	if (e.Dependencies != nil) != (e.Skeleton != nil) {
		return fmt.Errorf("buildpkg: %s: Dependencies.has_value() must equal Skeleton.has_value()", e.Key)
	}

	if len(e.RequiredBy) > 0 {
		hasDependent, hasDependency := false, false
		for k := range e.RequiredBy {
			if k.IsUserSelection() {
				continue
			}
			if e.RequiredByDependents {
				hasDependent = true
			} else {
				hasDependency = true
			}
		}
		_ = hasDependent
		_ = hasDependency
	}

	return nil
}

// AddRequiredBy records a new contributor to RequiredBy, enforcing that the
// set never mixes dependents and dependencies: the caller
// states which kind this contributor is via dependents, and the call is
// rejected (returns false) if it disagrees with the entry's existing
// RequiredByDependents when the set is already non-empty.
func (e *Entry) AddRequiredBy(k Key, dependents bool) bool {
	if len(e.RequiredBy) == 0 {
		e.RequiredByDependents = dependents
	} else if e.RequiredByDependents != dependents && !k.IsUserSelection() {
		return false
	}
	if e.RequiredBy == nil {
		e.RequiredBy = make(map[Key]struct{})
	}
	e.RequiredBy[k] = struct{}{}
	return true
}

// StrengthenHold applies the monotone-max merge policy for hold flags:
// once set, a hold flag is never cleared by a later merge, only
// reinforced.
func (e *Entry) StrengthenHold(pkg, ver bool) {
	e.HoldPackage = e.HoldPackage || pkg
	e.HoldVersion = e.HoldVersion || ver
}

// AddConstraint appends a new contributor to the constraint vector.
// Duplicates are allowed and harmless.
func (e *Entry) AddConstraint(c Constraint) {
	e.Constraints = append(e.Constraints, c)
}

// SatisfiesAllConstraints reports whether v would satisfy every contributor
// in Constraints -- the check the merge policy performs before
// swapping which version is kept.
func SatisfiesAllConstraints(v pkgver.Version, cs []Constraint) bool {
	for _, c := range cs {
		if !pkgver.Satisfies(v, c.Constraint) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the entry, used by the package map's
// snapshot/restore.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Selected = e.Selected.Clone()
	cp.Available = e.Available.Clone()
	cp.Skeleton = e.Skeleton.Clone()
	cp.Dependencies = append([]Dependency(nil), e.Dependencies...)
	for i, d := range cp.Dependencies {
		d.Picked = append([]catalog.DependencySpec(nil), d.Picked...)
		cp.Dependencies[i] = d
	}
	cp.PostponedDependencyAlternatives = append([]bool(nil), e.PostponedDependencyAlternatives...)
	cp.Constraints = append([]Constraint(nil), e.Constraints...)
	cp.ConfigVars = e.ConfigVars.Clone()
	cp.RequiredBy = make(map[Key]struct{}, len(e.RequiredBy))
	for k := range e.RequiredBy {
		cp.RequiredBy[k] = struct{}{}
	}
	return &cp
}
