// Package postpone holds the postponement registries the collector uses
// to defer work it cannot finish on first pass: postponed-repo,
// postponed-alt, postponed-deps, postponed-configurations (clusters),
// replaced-versions, and postponed-dependents.
//
// Every registry here stores Keys, never Entry pointers, so that the
// collector's scratch/restart control flow can snapshot and
// restore these structures independently of the buildpkg.Map they
// describe.
package postpone

import "github.com/dstask/bpm/catalog"

// Key is re-exported for callers that don't otherwise need catalog.
type Key = catalog.Key

// ReplacedVersion is a pending version replacement: for a (configuration,
// name), the desired Available package to switch to, which
// fragment it comes from, whether it's a system package, and whether it
// has been applied yet.
type ReplacedVersion struct {
	Desired  *catalog.Available
	Fragment catalog.FragmentHandle
	System   bool
	Replaced bool
}

// ReplacedVersions tracks pending version replacements by key.
type ReplacedVersions struct {
	m map[Key]*ReplacedVersion
}

// NewReplacedVersions returns an empty registry.
func NewReplacedVersions() *ReplacedVersions {
	return &ReplacedVersions{m: make(map[Key]*ReplacedVersion)}
}

// Set records that key should be replaced with the given available
// package. Re-setting a key resets its Replaced bit, since a new desired
// version supersedes any prior (possibly already-applied) one.
func (r *ReplacedVersions) Set(key Key, desired *catalog.Available, fragment catalog.FragmentHandle, system bool) {
	r.m[key] = &ReplacedVersion{Desired: desired, Fragment: fragment, System: system}
}

// Get returns the pending replacement for key, if any.
func (r *ReplacedVersions) Get(key Key) (*ReplacedVersion, bool) {
	v, ok := r.m[key]
	return v, ok
}

// MarkApplied sets the Replaced bit once collect_build has overwritten the
// entry's Available/Fragment/System fields, which is how
// a "bogus" stale entry (recorded but never applied, then superseded) is
// later detected.
func (r *ReplacedVersions) MarkApplied(key Key) {
	if v, ok := r.m[key]; ok {
		v.Replaced = true
	}
}

// IsBogus reports whether the entry at key was recorded but never applied:
// the Replaced bit exists to detect exactly this case, an entry nobody
// ever asked collect_build to apply before the next scratch.
func (r *ReplacedVersion) IsBogus() bool { return r != nil && !r.Replaced }

// Clear removes every entry, used by the refinement driver's scratch_exe
// reset.
func (r *ReplacedVersions) Clear() { r.m = make(map[Key]*ReplacedVersion) }

// Delete removes a single key, e.g. once a replacement has been fully
// consumed.
func (r *ReplacedVersions) Delete(key Key) { delete(r.m, key) }

// Clone deep-copies the registry for snapshot/restore.
func (r *ReplacedVersions) Clone() *ReplacedVersions {
	cp := NewReplacedVersions()
	for k, v := range r.m {
		vv := *v
		vv.Desired = v.Desired.Clone()
		cp.m[k] = &vv
	}
	return cp
}

// Len reports how many pending replacements are tracked.
func (r *ReplacedVersions) Len() int { return len(r.m) }
