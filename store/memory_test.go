package store

import (
	"context"
	"testing"

	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
)

func mustParse(t *testing.T, s string) pkgver.Version {
	t.Helper()
	v, err := pkgver.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestMemoryFindSelectedAndTransactionRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	m.PutSelected("target", &catalog.SelectedPackage{Name: "libfoo", Version: mustParse(t, "1.0.0")})

	got, err := m.FindSelected(ctx, "target", "libfoo")
	if err != nil || got == nil {
		t.Fatalf("FindSelected: %v, %v", got, err)
	}

	txn, err := m.BeginTransaction(ctx, "target")
	if err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	m.PutSelected("target", &catalog.SelectedPackage{Name: "libfoo", Version: mustParse(t, "2.0.0")})

	if err := txn.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, _ = m.FindSelected(ctx, "target", "libfoo")
	if got.Version.Compare(mustParse(t, "1.0.0")) != 0 {
		t.Fatalf("rollback did not restore snapshot, got version %s", got.Version)
	}
}

func TestMemoryQueryDependents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	c := pkgver.AtLeast(mustParse(t, "1.0.0"))
	m.PutSelected("target", &catalog.SelectedPackage{
		Name:    "libbar",
		Version: mustParse(t, "1.0.0"),
		Prerequisites: []catalog.Prerequisite{
			{Key: catalog.Key{Config: "target", Name: "libfoo"}, Constraint: c},
		},
	})

	deps, err := m.QueryDependents(ctx, "target", "libfoo", "target")
	if err != nil {
		t.Fatalf("QueryDependents: %v", err)
	}
	if len(deps) != 1 || deps[0].Name != "libbar" {
		t.Fatalf("unexpected dependents: %+v", deps)
	}
}

func TestMemoryFilterFollowsComplementsAndPrerequisites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	complementAvail := &catalog.Available{Name: "libbaz", Version: mustParse(t, "1.0.0"), Fragment: "complement"}
	prereqAvail := &catalog.Available{Name: "libbaz", Version: mustParse(t, "2.0.0"), Fragment: "prereq-repo"}
	m.PutAvailable("complement", complementAvail)
	m.PutAvailable("prereq-repo", prereqAvail)
	m.PutAvailable("main", &catalog.Available{Name: "libqux", Version: mustParse(t, "1.0.0"), Fragment: "main"})

	complement, err := m.LoadRepositoryFragment(ctx, "complement")
	if err != nil {
		t.Fatalf("load complement: %v", err)
	}
	prereq, err := m.LoadRepositoryFragment(ctx, "prereq-repo")
	if err != nil {
		t.Fatalf("load prereq: %v", err)
	}
	mainFrag, err := m.LoadRepositoryFragment(ctx, "main")
	if err != nil {
		t.Fatalf("load main: %v", err)
	}
	mf := mainFrag.(*memoryFragment)
	mf.complements = []RepositoryFragment{complement}
	mf.prerequisites = []RepositoryFragment{prereq}

	results, err := m.Filter(ctx, []RepositoryFragment{mainFrag}, Query{Name: "libbaz"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results across complement+prerequisite, got %d", len(results))
	}
}

func TestMemoryFilterOneOrdersByVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	m.PutAvailable("main",
		&catalog.Available{Name: "libfoo", Version: mustParse(t, "1.0.0"), Fragment: "main"},
		&catalog.Available{Name: "libfoo", Version: mustParse(t, "2.0.0"), Fragment: "main"},
	)
	frag, err := m.LoadRepositoryFragment(ctx, "main")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	best, ok, err := m.FilterOne(ctx, []RepositoryFragment{frag}, Query{Name: "libfoo"}, OrderHighestVersionFirst, 0)
	if err != nil || !ok {
		t.Fatalf("FilterOne: %v, %v", ok, err)
	}
	if best.Version.Compare(mustParse(t, "2.0.0")) != 0 {
		t.Fatalf("expected 2.0.0, got %s", best.Version)
	}

	lowest, ok, err := m.FilterOne(ctx, []RepositoryFragment{frag}, Query{Name: "libfoo"}, OrderLowestVersionFirst, 0)
	if err != nil || !ok {
		t.Fatalf("FilterOne lowest: %v, %v", ok, err)
	}
	if lowest.Version.Compare(mustParse(t, "1.0.0")) != 0 {
		t.Fatalf("expected 1.0.0, got %s", lowest.Version)
	}
}

func TestMemoryAddPrivateConfigExtendsGraph(t *testing.T) {
	ctx := context.Background()
	g := linkcfg.NewGraph()
	if err := g.Add(linkcfg.Configuration{ID: "target", Kind: linkcfg.Target}); err != nil {
		t.Fatalf("seed graph: %v", err)
	}
	m := NewMemory(g)

	id, err := m.AddPrivateConfig(ctx, "target", "bpm-build2", linkcfg.Build2)
	if err != nil {
		t.Fatalf("AddPrivateConfig: %v", err)
	}
	cfg, ok := g.Get(id)
	if !ok || !cfg.Private || cfg.Parent != "target" {
		t.Fatalf("private config not linked correctly: %+v, %v", cfg, ok)
	}
}

func TestMemoryExecutePlanAppliesDropsWhenNotSimulating(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	m.PutSelected("target", &catalog.SelectedPackage{Name: "libfoo", Version: mustParse(t, "1.0.0")})

	plan := Plan{Actions: []PlanAction{{Key: catalog.Key{Config: "target", Name: "libfoo"}, Action: "drop"}}}
	if err := m.ExecutePlan(ctx, plan, false); err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if got, _ := m.FindSelected(ctx, "target", "libfoo"); got != nil {
		t.Fatalf("expected libfoo to be dropped, still found: %+v", got)
	}
	if len(m.ExecutedPlans()) != 1 {
		t.Fatalf("expected 1 recorded plan")
	}
}

func TestMemoryExecutePlanSimulateDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	m.PutSelected("target", &catalog.SelectedPackage{Name: "libfoo", Version: mustParse(t, "1.0.0")})

	plan := Plan{Actions: []PlanAction{{Key: catalog.Key{Config: "target", Name: "libfoo"}, Action: "drop"}}}
	if err := m.ExecutePlan(ctx, plan, true); err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if got, _ := m.FindSelected(ctx, "target", "libfoo"); got == nil {
		t.Fatalf("simulate=true must not mutate selected state")
	}
}
