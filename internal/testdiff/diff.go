// Package testdiff is the shared comparison helper this module's
// table-driven tests call to report a mismatch: a human-readable
// line-level diff for strings, a structural diff for everything else.
package testdiff

import (
	"github.com/google/go-cmp/cmp"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff compares a and b and returns a printable diff plus whether they are
// equal. Two strings are compared with diffmatchpatch for a readable
// line-level diff; anything else falls back to a structural diff via
// go-cmp.
func Diff(a, b interface{}) (diff string, equal bool) {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		dmp := diffmatchpatch.New()
		d := dmp.DiffMain(as, bs, false)
		return dmp.DiffPrettyText(d), as == bs
	}
	return cmp.Diff(a, b), cmp.Equal(a, b)
}
