package collect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
	"github.com/dstask/bpm/postpone"
	"github.com/dstask/bpm/store"
)

const testCfg linkcfg.ID = "cfg"

func newTestCollector(t *testing.T) (*Collector, *store.Memory) {
	t.Helper()
	graph := linkcfg.NewGraph()
	if err := graph.Add(linkcfg.Configuration{ID: testCfg, Kind: linkcfg.Target, Current: true}); err != nil {
		t.Fatalf("graph.Add: %v", err)
	}
	mem := store.NewMemory(graph)
	m := buildpkg.NewMap()
	st := postpone.NewState()
	c := NewCollector(context.Background(), m, st, graph, mem, mem, mem, mem, mem, store.NewSimpleEvaluator())
	t.Cleanup(c.Close)
	return c, mem
}

func v(t *testing.T, s string) pkgver.Version {
	t.Helper()
	ver, err := pkgver.Parse(s)
	if err != nil {
		t.Fatalf("pkgver.Parse(%q): %v", s, err)
	}
	return ver
}

func avail(name pkgver.Name, ver pkgver.Version, deps ...catalog.DependencyGroup) *catalog.Available {
	return &catalog.Available{Name: name, Version: ver, Dependencies: deps}
}

func TestCollectBuildFreshEntry(t *testing.T) {
	c, _ := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "foo"}

	entry, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", v(t, "1"))}, BuildOptions{UserSelection: true})
	if err != nil {
		t.Fatalf("CollectBuild: %v", err)
	}
	if entry.Action != buildpkg.Build {
		t.Fatalf("got action %q, want build", entry.Action)
	}
	if entry.Available.Version.Compare(v(t, "1")) != 0 {
		t.Fatalf("got version %s, want 1", entry.Available.Version)
	}
}

func TestCollectBuildNeverOverwritesDrop(t *testing.T) {
	c, _ := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "foo"}

	dropped := buildpkg.NewPreEntered(key)
	dropped.Action = buildpkg.Drop
	dropped.Selected = &catalog.SelectedPackage{Name: "foo", Version: v(t, "1"), State: catalog.Configured}
	if err := c.Map.Put(dropped); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", v(t, "2"))}, BuildOptions{})
	if err != nil {
		t.Fatalf("CollectBuild: %v", err)
	}
	if entry.Action != buildpkg.Drop {
		t.Fatalf("got action %q, want drop (must not be overwritten)", entry.Action)
	}
}

func TestCollectBuildUserSelectionWinsOverPlainDependency(t *testing.T) {
	c, _ := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "foo"}

	if _, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", v(t, "1"))}, BuildOptions{}); err != nil {
		t.Fatalf("first CollectBuild: %v", err)
	}

	entry, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", v(t, "1"))}, BuildOptions{UserSelection: true})
	if err != nil {
		t.Fatalf("second CollectBuild: %v", err)
	}
	if !hasUserSelection(entry) {
		t.Fatalf("expected entry to carry the user-selection marker after a user-selected merge")
	}
}

func TestCollectBuildConflictingVersionsWithoutSatisfyingConstraintErrors(t *testing.T) {
	c, _ := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "foo"}

	one := v(t, "1")

	if _, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", one, catalog.DependencyGroup{
		Alternatives: []catalog.Alternative{{Deps: []catalog.DependencySpec{{Name: "bar"}}}},
	})}, BuildOptions{
		RequiredBy: buildpkg.Key{Config: testCfg, Name: "a"}, RequiredByDependents: true,
		Constraint: &buildpkg.Constraint{Dependent: "a", Constraint: pkgver.Exactly(one)},
	}); err != nil {
		t.Fatalf("first CollectBuild: %v", err)
	}

	two := v(t, "2")

	_, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", two)}, BuildOptions{
		RequiredBy: buildpkg.Key{Config: testCfg, Name: "b"}, RequiredByDependents: true,
		Constraint: &buildpkg.Constraint{Dependent: "b", Constraint: pkgver.Exactly(two)},
	})
	if err == nil {
		t.Fatalf("expected a conflicting-version error")
	}
	if !strings.Contains(err.Error(), "conflicting version requirements") {
		t.Fatalf("got error %v, want a conflicting-version-requirements error", err)
	}
}

func TestCollectBuildInPlaceReplacementForToolchainOnlyDependencies(t *testing.T) {
	c, _ := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "foo"}

	if _, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", v(t, "1"))}, BuildOptions{}); err != nil {
		t.Fatalf("first CollectBuild: %v", err)
	}

	entry, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", v(t, "2"), catalog.DependencyGroup{BuildTime: true})}, BuildOptions{})
	if err != nil {
		t.Fatalf("second CollectBuild: %v", err)
	}
	if entry.Available.Version.Compare(v(t, "2")) != 0 {
		t.Fatalf("expected in-place replacement to version 2, got %s", entry.Available.Version)
	}
}

func TestCollectBuildNonToolchainVersionBumpPostponesAsReplaceVersion(t *testing.T) {
	c, _ := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "foo"}

	if _, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", v(t, "1"))}, BuildOptions{}); err != nil {
		t.Fatalf("first CollectBuild: %v", err)
	}
	entry := c.Map.EnteredBuild(key)
	entry.Dependencies = []buildpkg.Dependency{{}}

	_, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: avail("foo", v(t, "2"), catalog.DependencyGroup{
		Alternatives: []catalog.Alternative{{Deps: []catalog.DependencySpec{{Name: "bar"}}}},
	})}, BuildOptions{})
	if err == nil {
		t.Fatalf("expected a ReplaceVersionSignal")
	}
	var sig *ReplaceVersionSignal
	if !errors.As(err, &sig) {
		t.Fatalf("got error %v, want *ReplaceVersionSignal", err)
	}
	if sig.Key != key {
		t.Fatalf("got signal key %s, want %s", sig.Key, key)
	}
}

func TestCollectBuildPrerequisitesSingleSatisfactoryAlternative(t *testing.T) {
	c, mem := newTestCollector(t)
	dependentKey := buildpkg.Key{Config: testCfg, Name: "a"}

	mem.PutAvailable("repo", avail("b", v(t, "1")))

	entry, err := c.CollectBuild(context.Background(), dependentKey, BuildCandidate{
		Available: avail("a", v(t, "1"), catalog.DependencyGroup{
			Alternatives: []catalog.Alternative{{Deps: []catalog.DependencySpec{{Name: "b"}}}},
		}),
		Fragment: "repo",
	}, BuildOptions{UserSelection: true, Recursive: true})
	if err != nil {
		t.Fatalf("CollectBuild: %v", err)
	}
	if len(entry.Dependencies) != 1 || len(entry.Dependencies[0].Picked) != 1 {
		t.Fatalf("expected one picked dependency, got %+v", entry.Dependencies)
	}

	bKey := buildpkg.Key{Config: testCfg, Name: "b"}
	bEntry := c.Map.EnteredBuild(bKey)
	if bEntry == nil || bEntry.Action != buildpkg.Build {
		t.Fatalf("expected b to be collected as a build entry, got %+v", bEntry)
	}
	if _, ok := bEntry.RequiredBy[dependentKey]; !ok {
		t.Fatalf("expected b.RequiredBy to record %s", dependentKey)
	}
}

func TestCollectBuildPrerequisitesSkipsToolchainGroup(t *testing.T) {
	c, _ := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "a"}

	entry, err := c.CollectBuild(context.Background(), key, BuildCandidate{
		Available: avail("a", v(t, "1"), catalog.DependencyGroup{BuildTime: true}),
	}, BuildOptions{UserSelection: true, Recursive: true})
	if err != nil {
		t.Fatalf("CollectBuild: %v", err)
	}
	if len(entry.Dependencies) != 1 || entry.Dependencies[0].Picked != nil {
		t.Fatalf("expected one empty dependency slot for the toolchain group, got %+v", entry.Dependencies)
	}
	if !entry.RecursiveCollection {
		t.Fatalf("expected RecursiveCollection to be set once all groups are processed")
	}
}

func TestCollectBuildPrerequisitesConfigurationClauseCreatesUnsealedCluster(t *testing.T) {
	c, mem := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "a"}

	mem.PutAvailable("repo", avail("b", v(t, "1")))

	_, err := c.CollectBuild(context.Background(), key, BuildCandidate{
		Available: avail("a", v(t, "1"), catalog.DependencyGroup{
			Alternatives: []catalog.Alternative{{
				Deps:   []catalog.DependencySpec{{Name: "b"}},
				Clause: catalog.Clause{HasPreferAccept: true, Accept: "x=1"},
			}},
		}),
		Fragment: "repo",
	}, BuildOptions{UserSelection: true, Recursive: true})
	if err != nil {
		t.Fatalf("CollectBuild: %v", err)
	}

	bKey := buildpkg.Key{Config: testCfg, Name: "b"}
	cl, ok := c.State.Clusters.Get(bKey)
	if !ok {
		t.Fatalf("expected b to be registered in a postponed-configuration cluster")
	}
	if cl.Sealed() {
		t.Fatalf("expected the new cluster to start unsealed")
	}
}

func TestCollectDropUnknownKeyWithNoSelectedRecordErrors(t *testing.T) {
	c, _ := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "missing"}

	_, err := c.CollectDrop(context.Background(), key)
	if err == nil || !strings.Contains(err.Error(), "no selected record") {
		t.Fatalf("got error %v, want a no-selected-record error", err)
	}
}

func TestCollectDropFromPersistedSelectedRecord(t *testing.T) {
	c, mem := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "foo"}
	mem.PutSelected(testCfg, &catalog.SelectedPackage{Name: "foo", Version: v(t, "1"), State: catalog.Configured})

	entry, err := c.CollectDrop(context.Background(), key)
	if err != nil {
		t.Fatalf("CollectDrop: %v", err)
	}
	if entry.Action != buildpkg.Drop {
		t.Fatalf("got action %q, want drop", entry.Action)
	}
	if err := entry.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestCollectUnholdSetsFlagOnFreshAdjustEntry(t *testing.T) {
	c, mem := newTestCollector(t)
	key := buildpkg.Key{Config: testCfg, Name: "foo"}
	mem.PutSelected(testCfg, &catalog.SelectedPackage{Name: "foo", Version: v(t, "1"), State: catalog.Configured, HoldPackage: true})

	entry, err := c.CollectUnhold(context.Background(), key)
	if err != nil {
		t.Fatalf("CollectUnhold: %v", err)
	}
	if entry.Action != buildpkg.Adjust || !entry.Flags.Has(buildpkg.AdjustUnhold) {
		t.Fatalf("got action=%q flags=%s, want adjust with unhold set", entry.Action, entry.Flags)
	}
	if stored := c.Map.EnteredBuild(key); stored == nil || !stored.Flags.Has(buildpkg.AdjustUnhold) {
		t.Fatalf("expected the adjust entry to be persisted into the map")
	}
}

func TestCollectBuildPostponedDrainsEmptyState(t *testing.T) {
	c, _ := newTestCollector(t)
	if err := c.CollectBuildPostponed(context.Background(), nil); err != nil {
		t.Fatalf("CollectBuildPostponed on an empty state should be a no-op: %v", err)
	}
}
