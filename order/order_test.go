package order

import (
	"strings"
	"testing"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/store"
)

func putBuild(t *testing.T, m *buildpkg.Map, key buildpkg.Key, deps []buildpkg.Dependency) *buildpkg.Entry {
	t.Helper()
	e := buildpkg.NewPreEntered(key)
	e.Action = buildpkg.Build
	e.Available = &catalog.Available{Name: key.Name}
	if deps != nil {
		e.Dependencies = deps
		e.Skeleton = catalog.NewSkeleton(nil)
	}
	if err := m.Put(e); err != nil {
		t.Fatalf("Put(%s): %v", key, err)
	}
	return e
}

func TestOrderPlacesDependentBeforeDependency(t *testing.T) {
	m := buildpkg.NewMap()
	a := buildpkg.Key{Config: "cfg", Name: "a"}
	b := buildpkg.Key{Config: "cfg", Name: "b"}

	putBuild(t, m, b, nil)
	putBuild(t, m, a, []buildpkg.Dependency{{Picked: []catalog.DependencySpec{{Name: "b"}}}})

	bEntry := m.EnteredBuild(b)
	bEntry.AddRequiredBy(a, true)

	o := New(m, store.NewSimpleEvaluator())
	if err := o.Order(a, nil, false); err != nil {
		t.Fatalf("Order: %v", err)
	}

	got := m.Ordered()
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("got order %v, want [a b]", got)
	}
}

func TestOrderDetectsCycle(t *testing.T) {
	m := buildpkg.NewMap()
	a := buildpkg.Key{Config: "cfg", Name: "a"}
	putBuild(t, m, a, nil)

	o := New(m, store.NewSimpleEvaluator())
	err := o.Order(a, []buildpkg.Key{a}, false)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestOrderUsesPersistedPrerequisitesForUnchangedConfiguredEntry(t *testing.T) {
	m := buildpkg.NewMap()
	a := buildpkg.Key{Config: "cfg", Name: "a"}
	b := buildpkg.Key{Config: "cfg", Name: "b"}

	putBuild(t, m, b, nil)

	aEntry := buildpkg.NewPreEntered(a)
	aEntry.Action = buildpkg.Adjust
	aEntry.Flags.Set(buildpkg.AdjustUnhold)
	aEntry.Selected = &catalog.SelectedPackage{
		Name:          a.Name,
		State:         catalog.Configured,
		Prerequisites: []catalog.Prerequisite{{Key: b}},
	}
	if err := m.Put(aEntry); err != nil {
		t.Fatalf("Put(a): %v", err)
	}

	o := New(m, store.NewSimpleEvaluator())
	if err := o.Order(a, nil, false); err != nil {
		t.Fatalf("Order: %v", err)
	}

	got := m.Ordered()
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("got order %v, want [a b]", got)
	}
}

func TestOrderReorderMovesExistingPosition(t *testing.T) {
	m := buildpkg.NewMap()
	a := buildpkg.Key{Config: "cfg", Name: "a"}
	b := buildpkg.Key{Config: "cfg", Name: "b"}
	c := buildpkg.Key{Config: "cfg", Name: "c"}

	putBuild(t, m, a, nil)
	putBuild(t, m, b, nil)
	putBuild(t, m, c, nil)
	m.AppendOrdered(a)
	m.AppendOrdered(b)
	m.AppendOrdered(c)

	o := New(m, store.NewSimpleEvaluator())
	if err := o.Order(a, nil, false); err != nil {
		t.Fatalf("Order without reorder should be a no-op: %v", err)
	}
	if got := m.Ordered(); got[0] != a {
		t.Fatalf("no-op reorder should not move a: %v", got)
	}

	if err := o.Order(a, nil, true); err != nil {
		t.Fatalf("Order with reorder: %v", err)
	}
	got := m.Ordered()
	if got[len(got)-1] != a {
		t.Fatalf("reordered a (no prerequisites) should land at tail, got %v", got)
	}
}
