package pkgver

import (
	"encoding/json"
	"fmt"
)

// Constraint restricts which Versions are admissible for a dependency. It is
// either absent (no restriction at all -- see Any), or a closed/half-open
// interval with optional min and max bounds.
//
// Following gps's Constraint interface, the exported surface is small and
// deliberately opaque: callers construct one via the functions below and
// otherwise treat it as a value to pass to Satisfies/Subsumes.
type Constraint struct {
	min, max         Version
	hasMin, hasMax   bool
	minIncl, maxIncl bool
}

// Any returns the unconstrained interval: it matches every version,
// including the wildcard.
func Any() Constraint { return Constraint{} }

// Exactly returns a constraint matching a single version.
func Exactly(v Version) Constraint {
	return Constraint{min: v, max: v, hasMin: true, hasMax: true, minIncl: true, maxIncl: true}
}

// Range returns a constraint over [min, max] or a half-open variant,
// according to minIncl/maxIncl. Pass hasMin=false to leave the lower bound
// open-ended, and likewise for hasMax/max.
func Range(min Version, hasMin, minIncl bool, max Version, hasMax, maxIncl bool) Constraint {
	return Constraint{min: min, max: max, hasMin: hasMin, hasMax: hasMax, minIncl: minIncl, maxIncl: maxIncl}
}

// AtLeast returns a constraint matching any version >= v.
func AtLeast(v Version) Constraint { return Constraint{min: v, hasMin: true, minIncl: true} }

// IsAny reports whether c places no restriction on the version.
func (c Constraint) IsAny() bool { return !c.hasMin && !c.hasMax }

func (c Constraint) String() string {
	if c.IsAny() {
		return "*"
	}
	if c.hasMin && c.hasMax && c.minIncl && c.maxIncl && c.min.Equal(c.max) {
		return "== " + c.min.String()
	}
	lb, rb := "(", ")"
	if c.minIncl {
		lb = "["
	}
	if c.maxIncl {
		rb = "]"
	}
	minS, maxS := "", ""
	if c.hasMin {
		minS = c.min.String()
	}
	if c.hasMax {
		maxS = c.max.String()
	}
	return fmt.Sprintf("%s%s, %s%s", lb, minS, maxS, rb)
}

// constraintWire is Constraint's on-the-wire shape, since every field of
// Constraint itself is unexported and would otherwise encode as "{}".
type constraintWire struct {
	Min     Version `json:"min,omitempty"`
	Max     Version `json:"max,omitempty"`
	HasMin  bool    `json:"hasMin,omitempty"`
	HasMax  bool    `json:"hasMax,omitempty"`
	MinIncl bool    `json:"minIncl,omitempty"`
	MaxIncl bool    `json:"maxIncl,omitempty"`
}

func (c Constraint) MarshalJSON() ([]byte, error) {
	return json.Marshal(constraintWire{
		Min: c.min, Max: c.max,
		HasMin: c.hasMin, HasMax: c.hasMax,
		MinIncl: c.minIncl, MaxIncl: c.maxIncl,
	})
}

func (c *Constraint) UnmarshalJSON(b []byte) error {
	var w constraintWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*c = Constraint{min: w.Min, max: w.Max, hasMin: w.HasMin, hasMax: w.HasMax, minIncl: w.MinIncl, maxIncl: w.MaxIncl}
	return nil
}

// Satisfies reports whether v falls within c. The wildcard version always
// satisfies every constraint.
func Satisfies(v Version, c Constraint) bool {
	if v.IsWildcard() {
		return true
	}
	if c.hasMin {
		cmp := v.Compare(c.min)
		if cmp < 0 || (cmp == 0 && !c.minIncl) {
			return false
		}
	}
	if c.hasMax {
		cmp := v.Compare(c.max)
		if cmp > 0 || (cmp == 0 && !c.maxIncl) {
			return false
		}
	}
	return true
}

// Subsumes reports whether every version satisfying inner also satisfies
// outer -- i.e. outer is at least as permissive as inner.
func Subsumes(outer, inner Constraint) bool {
	if outer.IsAny() {
		return true
	}
	if inner.IsAny() {
		return outer.IsAny()
	}
	if outer.hasMin {
		if !inner.hasMin {
			return false
		}
		cmp := inner.min.Compare(outer.min)
		if cmp < 0 {
			return false
		}
		if cmp == 0 && outer.minIncl && !inner.minIncl {
			return false
		}
	}
	if outer.hasMax {
		if !inner.hasMax {
			return false
		}
		cmp := inner.max.Compare(outer.max)
		if cmp > 0 {
			return false
		}
		if cmp == 0 && outer.maxIncl && !inner.maxIncl {
			return false
		}
	}
	return true
}

// Intersect computes the intersection of two constraints. The boolean
// result is false if the intersection is empty (the constraints are
// disjoint), mirroring gps's semverConstraint.Intersect returning the
// "none" sentinel.
func Intersect(a, b Constraint) (Constraint, bool) {
	out := Constraint{}

	out.hasMin, out.min, out.minIncl = tighterMin(a, b)
	out.hasMax, out.max, out.maxIncl = tighterMax(a, b)

	if out.hasMin && out.hasMax {
		cmp := out.min.Compare(out.max)
		if cmp > 0 || (cmp == 0 && !(out.minIncl && out.maxIncl)) {
			return Constraint{}, false
		}
	}
	return out, true
}

func tighterMin(a, b Constraint) (bool, Version, bool) {
	switch {
	case !a.hasMin && !b.hasMin:
		return false, Version{}, false
	case !a.hasMin:
		return true, b.min, b.minIncl
	case !b.hasMin:
		return true, a.min, a.minIncl
	default:
		cmp := a.min.Compare(b.min)
		switch {
		case cmp > 0:
			return true, a.min, a.minIncl
		case cmp < 0:
			return true, b.min, b.minIncl
		default:
			return true, a.min, a.minIncl && b.minIncl
		}
	}
}

func tighterMax(a, b Constraint) (bool, Version, bool) {
	switch {
	case !a.hasMax && !b.hasMax:
		return false, Version{}, false
	case !a.hasMax:
		return true, b.max, b.maxIncl
	case !b.hasMax:
		return true, a.max, a.maxIncl
	default:
		cmp := a.max.Compare(b.max)
		switch {
		case cmp < 0:
			return true, a.max, a.maxIncl
		case cmp > 0:
			return true, b.max, b.maxIncl
		default:
			return true, a.max, a.maxIncl && b.maxIncl
		}
	}
}
