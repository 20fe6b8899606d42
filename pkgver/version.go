package pkgver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
)

// Version is the ordered (epoch, upstream, pre-release, revision, iteration)
// tuple this package compares and orders. Its upstream component is
// compared through Masterminds/semver when the component parses as one
// (the common major.minor.patch case), and falls back to a dotted
// numeric-or-lexical comparison for the wider, non-semver-shaped upstream
// strings bpkg allows, plus the extra epoch/revision/iteration fields
// bare semver does not carry.
//
// The zero Version is not meaningful on its own; use Wildcard() or Parse()
// to obtain one.
type Version struct {
	// wildcard marks the distinguished version that satisfies any
	// constraint. It is
	// used for stub/system packages whose real version is unknown.
	wildcard bool

	Epoch    uint64
	Upstream string

	// HasPreRelease and PreRelease hold the optional pre-release component.
	// earliestPreRelease marks the distinguished "earliest pre-release"
	// value, which sorts before every other pre-release of the
	// same upstream version.
	HasPreRelease      bool
	PreRelease         string
	earliestPreRelease bool

	HasRevision bool
	Revision    uint64

	HasIteration bool
	Iteration    uint64
}

// Wildcard returns the distinguished version that satisfies any constraint.
func Wildcard() Version { return Version{wildcard: true} }

// IsWildcard reports whether v is the wildcard version.
func (v Version) IsWildcard() bool { return v.wildcard }

// EarliestPreRelease returns the distinguished marker that sorts before any
// other pre-release carrying the same upstream/epoch/revision.
func EarliestPreRelease(epoch uint64, upstream string) Version {
	return Version{Epoch: epoch, Upstream: upstream, HasPreRelease: true, earliestPreRelease: true}
}

// Parse parses a version string of the form:
//
//	[epoch~]upstream[-prerelease][+revision[.iteration]]
//
// This is a deliberately small grammar relative to full bpkg version
// syntax; it covers every case the collector needs to order and compare.
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("pkgver: empty version string")
	}

	var v Version
	rest := s

	if i := strings.IndexByte(rest, '~'); i >= 0 {
		e, err := strconv.ParseUint(rest[:i], 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("pkgver: invalid epoch in %q: %w", s, err)
		}
		v.Epoch = e
		rest = rest[i+1:]
	}

	if i := strings.IndexByte(rest, '+'); i >= 0 {
		revPart := rest[i+1:]
		if j := strings.IndexByte(revPart, '.'); j >= 0 {
			iter, err := strconv.ParseUint(revPart[j+1:], 10, 64)
			if err != nil {
				return Version{}, fmt.Errorf("pkgver: invalid iteration in %q: %w", s, err)
			}
			v.HasIteration = true
			v.Iteration = iter
			revPart = revPart[:j]
		}
		rev, err := strconv.ParseUint(revPart, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("pkgver: invalid revision in %q: %w", s, err)
		}
		v.HasRevision = true
		v.Revision = rev
		rest = rest[:i]
	}

	if i := strings.IndexByte(rest, '-'); i >= 0 {
		v.HasPreRelease = true
		v.PreRelease = rest[i+1:]
		rest = rest[:i]
	}

	if rest == "" {
		return Version{}, fmt.Errorf("pkgver: missing upstream component in %q", s)
	}
	v.Upstream = rest

	return v, nil
}

func (v Version) String() string {
	if v.wildcard {
		return "*"
	}
	var b strings.Builder
	if v.Epoch != 0 {
		fmt.Fprintf(&b, "%d~", v.Epoch)
	}
	b.WriteString(v.Upstream)
	if v.HasPreRelease {
		if v.earliestPreRelease {
			b.WriteString("-")
		} else {
			b.WriteString("-" + v.PreRelease)
		}
	}
	if v.HasRevision {
		fmt.Fprintf(&b, "+%d", v.Revision)
	}
	if v.HasIteration {
		fmt.Fprintf(&b, ".%d", v.Iteration)
	}
	return b.String()
}

// Compare implements the total order over Version. It returns <0, 0, >0 as
// v is less than, equal to, or greater than o.
//
// The wildcard version compares equal only to itself and greater than
// every concrete version, so Compare stays a total order and Versions can
// live in sorted slices uniformly.
func (v Version) Compare(o Version) int {
	if v.wildcard || o.wildcard {
		if v.wildcard && o.wildcard {
			return 0
		}
		if v.wildcard {
			return 1
		}
		return -1
	}

	if v.Epoch != o.Epoch {
		return cmpUint64(v.Epoch, o.Epoch)
	}
	if c := compareUpstream(v.Upstream, o.Upstream); c != 0 {
		return c
	}
	if c := comparePreRelease(v, o); c != 0 {
		return c
	}
	if v.HasRevision != o.HasRevision {
		if !v.HasRevision {
			return -1
		}
		return 1
	}
	if v.Revision != o.Revision {
		return cmpUint64(v.Revision, o.Revision)
	}
	if v.HasIteration != o.HasIteration {
		if !v.HasIteration {
			return -1
		}
		return 1
	}
	return cmpUint64(v.Iteration, o.Iteration)
}

func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }
func (v Version) Less(o Version) bool  { return v.Compare(o) < 0 }

// MarshalJSON encodes a Version through its canonical String form, since
// wildcard and earliestPreRelease are unexported and would otherwise be
// silently dropped by a field-by-field encoding.
func (v Version) MarshalJSON() ([]byte, error) {
	if v.wildcard {
		return []byte(`"*"`), nil
	}
	return []byte(strconv.Quote(v.String())), nil
}

// UnmarshalJSON decodes a Version previously encoded by MarshalJSON.
func (v *Version) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("pkgver: decoding version: %w", err)
	}
	if s == "*" {
		*v = Wildcard()
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// comparePreRelease orders the pre-release component: no pre-release sorts
// after any pre-release (1.0.0 > 1.0.0-rc1), the earliest-pre-release
// marker sorts before every other pre-release of the same upstream, and
// otherwise pre-release strings are compared component-wise the way semver
// does.
func comparePreRelease(v, o Version) int {
	if v.HasPreRelease != o.HasPreRelease {
		if v.HasPreRelease {
			return -1
		}
		return 1
	}
	if !v.HasPreRelease {
		return 0
	}
	if v.earliestPreRelease != o.earliestPreRelease {
		if v.earliestPreRelease {
			return -1
		}
		return 1
	}
	if v.earliestPreRelease {
		return 0
	}
	return compareDotted(v.PreRelease, o.PreRelease)
}

// compareUpstream orders two upstream components. When both parse as a
// Masterminds/semver version (the common major[.minor[.patch]] case) their
// ordering is delegated to semver.Version.Compare directly. Otherwise the
// upstream strings fall outside what semver accepts -- more than three
// dotted components, or a non-numeric component -- and compareDotted's
// wider, arbitrary-width rule takes over.
func compareUpstream(a, b string) int {
	av, aerr := semver.NewVersion(a)
	bv, berr := semver.NewVersion(b)
	if aerr == nil && berr == nil {
		return av.Compare(bv)
	}
	return compareDotted(a, b)
}

func compareDotted(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var ac, bc string
		if i < len(as) {
			ac = as[i]
		}
		if i < len(bs) {
			bc = bs[i]
		}
		if ac == bc {
			continue
		}
		an, aerr := strconv.ParseUint(ac, 10, 64)
		bn, berr := strconv.ParseUint(bc, 10, 64)
		if aerr == nil && berr == nil {
			if c := cmpUint64(an, bn); c != 0 {
				return c
			}
			continue
		}
		if ac < bc {
			return -1
		}
		return 1
	}
	return 0
}
