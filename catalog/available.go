package catalog

import "github.com/dstask/bpm/pkgver"

// PackageType distinguishes the kind of artifact an Available package
// produces.
type PackageType string

const (
	Lib PackageType = "lib"
	Exe PackageType = "exe"
)

// FragmentHandle identifies a repository fragment an Available package was
// found in. Repository fetch/storage itself is an external collaborator;
// this module only needs a comparable handle to carry around and to
// load via the store when needed.
type FragmentHandle string

// Imaginary is the distinguished fragment handle for the imaginary
// repository of user-supplied system stubs.
const Imaginary FragmentHandle = "<imaginary>"

// SystemVersionKnowledge captures the three-way distinction a system
// package's version may carry: entirely unknown, known but not
// authoritative (e.g. guessed from a package-manager query), or known and
// authoritative.
type SystemVersionKnowledge struct {
	Known         bool
	Version       pkgver.Version
	Authoritative bool
}

// Clause is a tagged-variant representation of the optional clauses an
// Alternative may carry. Exactly one of the Has* fields may be set for
// Prefer/Accept (they travel together) and Require; Enable and Reflect are
// independent of those and of each other.
type Clause struct {
	HasEnable bool
	Enable    string // expression text, evaluated by an Evaluator

	HasReflect bool
	Reflect    string

	HasPreferAccept bool
	Prefer          string
	Accept          string

	HasRequire bool
	Require    string
}

// IsConfigurationClause reports whether this clause set makes the
// alternative a "configuration clause" alternative: Prefer/Accept or
// Require, which trigger postponed-configuration cluster negotiation.
func (c Clause) IsConfigurationClause() bool { return c.HasPreferAccept || c.HasRequire }

// DependencySpec is one (name, optional constraint) pair inside an
// Alternative.
type DependencySpec struct {
	Name       pkgver.Name
	Constraint pkgver.Constraint
	HasConstraint bool
}

// Alternative is one choice within a DependencyGroup.
type Alternative struct {
	Deps   []DependencySpec
	Clause Clause
}

// DependencyGroup is an ordered list of Alternatives sharing a build-time
// flag and comment.
type DependencyGroup struct {
	Alternatives []Alternative
	BuildTime    bool
	Comment      string
}

// IsToolchain reports whether this group represents a build-time toolchain
// dependency with no real alternatives to choose among: such groups are
// skipped entirely rather than entered as a build-package prerequisite.
func (g DependencyGroup) IsToolchain() bool {
	return g.BuildTime && len(g.Alternatives) == 0
}

// Available is a package made available by some repository fragment,
// carrying dependency metadata.
type Available struct {
	Name    pkgver.Name
	Version pkgver.Version

	Dependencies []DependencyGroup

	Fragment FragmentHandle
	Project  pkgver.Name
	Type     PackageType

	SystemVersion SystemVersionKnowledge

	// UpstreamVersion is the version as the upstream project names it,
	// which may differ from Version after epoch/revision normalization.
	UpstreamVersion pkgver.Version
	HasUpstream     bool
}

// IsStub reports whether this Available record is a version-less marker
// that satisfies any constraint.
func (a *Available) IsStub() bool { return a.Version.IsWildcard() }

// IsImaginary reports whether this Available package lives only in the
// imaginary system-stub repository.
func (a *Available) IsImaginary() bool { return a.Fragment == Imaginary }

// SatisfiesConstraint mirrors SelectedPackage.SatisfiesConstraint for
// Available records, honoring the stub wildcard rule.
func (a *Available) SatisfiesConstraint(c pkgver.Constraint) bool {
	return pkgver.Satisfies(a.Version, c)
}

// Clone returns a deep copy for use in snapshot/restore.
func (a *Available) Clone() *Available {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Dependencies = append([]DependencyGroup(nil), a.Dependencies...)
	for i, g := range cp.Dependencies {
		g.Alternatives = append([]Alternative(nil), g.Alternatives...)
		for j, alt := range g.Alternatives {
			alt.Deps = append([]DependencySpec(nil), alt.Deps...)
			g.Alternatives[j] = alt
		}
		cp.Dependencies[i] = g
	}
	return &cp
}
