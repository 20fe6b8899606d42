package pkgver

import "testing"

func mustParse(t *testing.T, s string) Version {
	t.Helper()
	v, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return v
}

func TestVersionOrdering(t *testing.T) {
	cases := []struct {
		lo, hi string
	}{
		{"1.0.0", "1.0.1"},
		{"1.0.0", "2.0.0"},
		{"1.0.0-rc1", "1.0.0"},
		{"1.0.0+1", "1.0.0+2"},
		{"1~1.0.0", "2~0.0.1"},
		{"1.0.0.1", "1.0.0.2"},
	}
	for _, c := range cases {
		lo, hi := mustParse(t, c.lo), mustParse(t, c.hi)
		if !lo.Less(hi) {
			t.Errorf("expected %s < %s", lo, hi)
		}
		if hi.Less(lo) {
			t.Errorf("expected %s !< %s", hi, lo)
		}
	}
}

func TestWildcardCompares(t *testing.T) {
	w := Wildcard()
	v := mustParse(t, "1.0.0")
	if !w.Equal(Wildcard()) {
		t.Errorf("wildcard should equal itself")
	}
	if w.Compare(v) == 0 {
		t.Errorf("wildcard should not compare equal to a concrete version")
	}
}

func TestEarliestPreRelease(t *testing.T) {
	e := EarliestPreRelease(0, "1.0.0")
	rc1 := mustParse(t, "1.0.0-rc1")
	full := mustParse(t, "1.0.0")
	if !e.Less(rc1) {
		t.Errorf("earliest pre-release must sort before a concrete pre-release")
	}
	if !rc1.Less(full) {
		t.Errorf("pre-release must sort before the release version")
	}
}

func TestSatisfiesWildcard(t *testing.T) {
	c := Exactly(mustParse(t, "1.0.0"))
	if !Satisfies(Wildcard(), c) {
		t.Errorf("wildcard version must satisfy any constraint")
	}
}

func TestConstraintIntersectDisjoint(t *testing.T) {
	a := Range(mustParse(t, "1.0.0"), true, true, mustParse(t, "2.0.0"), true, false)
	b := Range(mustParse(t, "2.0.0"), true, true, mustParse(t, "3.0.0"), true, true)
	if _, ok := Intersect(a, b); ok {
		t.Errorf("half-open ranges sharing only the excluded boundary must not intersect")
	}
}

func TestConstraintSubsumes(t *testing.T) {
	wide := Range(mustParse(t, "1.0.0"), true, true, mustParse(t, "3.0.0"), true, true)
	narrow := Range(mustParse(t, "1.5.0"), true, true, mustParse(t, "2.0.0"), true, true)
	if !Subsumes(wide, narrow) {
		t.Errorf("wide range should subsume narrow range")
	}
	if Subsumes(narrow, wide) {
		t.Errorf("narrow range should not subsume wide range")
	}
}
