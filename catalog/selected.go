package catalog

import (
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
)

// State is the lifecycle state of a SelectedPackage.
type State string

const (
	Broken     State = "broken"
	Fetched    State = "fetched"
	Unpacked   State = "unpacked"
	Configured State = "configured"
	Transient  State = "transient"
)

// SubState distinguishes a package satisfied by the system from a normally
// built one.
type SubState string

const (
	SubStateNormal SubState = ""
	SubStateSystem SubState = "system"
)

// Prerequisite is one edge in a SelectedPackage's persisted prerequisite
// set: the dependency key plus the version constraint that was in force
// when it was selected.
type Prerequisite struct {
	Key        Key
	Constraint pkgver.Constraint
}

// SelectedPackage is the persisted record for a configured (or
// partially-configured) package.
type SelectedPackage struct {
	Name     pkgver.Name
	Version  pkgver.Version
	State    State
	SubState SubState

	HoldPackage bool
	HoldVersion bool

	Prerequisites []Prerequisite

	SrcRoot string
	OutRoot string
	HasSrc  bool
	HasOut  bool

	System bool
}

// IsBroken reports whether the selected package is in the broken state,
// relevant to the "missing package / broken repository" error taxonomy.
func (s *SelectedPackage) IsBroken() bool { return s.State == Broken }

// SatisfiesConstraint reports whether this selected package's version
// satisfies c; the wildcard-stub rule is handled by
// pkgver.Satisfies itself.
func (s *SelectedPackage) SatisfiesConstraint(c pkgver.Constraint) bool {
	return pkgver.Satisfies(s.Version, c)
}

// PrerequisiteKeys returns just the keys of the persisted prerequisite set,
// in persisted order -- used by the orderer when recursing into an
// already-configured, non-system, non-upgraded entry.
func (s *SelectedPackage) PrerequisiteKeys() []Key {
	out := make([]Key, len(s.Prerequisites))
	for i, p := range s.Prerequisites {
		out[i] = p.Key
	}
	return out
}

// ReplacePrerequisite swaps a prerequisite's key, used by the repoint flow
// when temporarily redirecting a dependent's prerequisite set
// during simulation.
func (s *SelectedPackage) ReplacePrerequisite(old, replacement Key, c pkgver.Constraint) {
	for i := range s.Prerequisites {
		if s.Prerequisites[i].Key == old {
			s.Prerequisites[i] = Prerequisite{Key: replacement, Constraint: c}
			return
		}
	}
	s.Prerequisites = append(s.Prerequisites, Prerequisite{Key: replacement, Constraint: c})
}

// Clone returns a deep copy, used by the negotiator's snapshot/restore.
func (s *SelectedPackage) Clone() *SelectedPackage {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Prerequisites = append([]Prerequisite(nil), s.Prerequisites...)
	return &cp
}

// ConfigurationOf is a convenience for building a Key from a configuration
// handle and this package's name.
func ConfigurationOf(cfg linkcfg.ID, name pkgver.Name) Key { return Key{Config: cfg, Name: name} }
