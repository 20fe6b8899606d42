package refine

import (
	"context"
	"testing"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/collect"
	"github.com/dstask/bpm/internal/testdiff"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/order"
	"github.com/dstask/bpm/pkgver"
	"github.com/dstask/bpm/postpone"
	"github.com/dstask/bpm/store"
)

const testCfg linkcfg.ID = "cfg"

func newTestDriver(t *testing.T) (*Driver, *collect.Collector, *store.Memory) {
	t.Helper()
	graph := linkcfg.NewGraph()
	if err := graph.Add(linkcfg.Configuration{ID: testCfg, Kind: linkcfg.Target, Current: true}); err != nil {
		t.Fatalf("graph.Add: %v", err)
	}
	mem := store.NewMemory(graph)
	m := buildpkg.NewMap()
	st := postpone.NewState()
	c := collect.NewCollector(context.Background(), m, st, graph, mem, mem, mem, mem, mem, store.NewSimpleEvaluator())
	t.Cleanup(c.Close)
	o := order.New(m, store.NewSimpleEvaluator())
	return NewDriver(c, o, mem, nil), c, mem
}

func mustVersion(t *testing.T, s string) pkgver.Version {
	t.Helper()
	v, err := pkgver.Parse(s)
	if err != nil {
		t.Fatalf("pkgver.Parse(%q): %v", s, err)
	}
	return v
}

func TestRefineConvergesOnSimpleSelectionWithNoPrerequisites(t *testing.T) {
	d, _, _ := newTestDriver(t)

	key := buildpkg.Key{Config: testCfg, Name: "foo"}
	req := Request{
		Selections: []Selection{
			{Key: key, Candidate: collect.BuildCandidate{Available: &catalog.Available{Name: "foo", Version: mustVersion(t, "1")}}},
		},
	}

	res, err := d.Refine(context.Background(), req)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Iterations != 1 {
		t.Fatalf("expected convergence in 1 iteration, got %d", res.Iterations)
	}

	want := []store.PlanAction{
		{Key: key, Action: "build", Version: mustVersion(t, "1"), HasVersion: true, Flags: "-"},
	}
	if diff, equal := testdiff.Diff(want, res.Plan.Actions); !equal {
		t.Fatalf("unexpected plan (-want +got):\n%s", diff)
	}
}

func TestRefineDetectsNewerAvailableVersionAndConverges(t *testing.T) {
	d, _, mem := newTestDriver(t)

	mem.PutAvailable("repo", &catalog.Available{Name: "foo", Version: mustVersion(t, "2")})
	mem.PutSelected(testCfg, &catalog.SelectedPackage{Name: "foo", Version: mustVersion(t, "1"), State: catalog.Configured})

	key := buildpkg.Key{Config: testCfg, Name: "foo"}
	req := Request{
		Selections: []Selection{
			{Key: key, Candidate: collect.BuildCandidate{Available: &catalog.Available{Name: "foo", Version: mustVersion(t, "2")}}},
		},
	}

	res, err := d.Refine(context.Background(), req)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if len(res.Plan.Actions) != 1 {
		t.Fatalf("unexpected plan: %+v", res.Plan.Actions)
	}
	if !res.Plan.Actions[0].Version.Equal(mustVersion(t, "2")) {
		t.Fatalf("expected plan to build version 2, got %s", res.Plan.Actions[0].Version)
	}
}

func TestRefineRejectsDuplicateRuntimeDependencyAcrossSameTypeConfigurations(t *testing.T) {
	d, c, _ := newTestDriver(t)
	const otherCfg linkcfg.ID = "other"
	if err := c.Graph.Add(linkcfg.Configuration{ID: otherCfg, Kind: linkcfg.Target}); err != nil {
		t.Fatalf("graph.Add: %v", err)
	}

	keyA := buildpkg.Key{Config: testCfg, Name: "foo"}
	keyB := buildpkg.Key{Config: otherCfg, Name: "foo"}
	req := Request{
		Selections: []Selection{
			{Key: keyA, Candidate: collect.BuildCandidate{Available: &catalog.Available{Name: "foo", Version: mustVersion(t, "1")}}},
			{Key: keyB, Candidate: collect.BuildCandidate{Available: &catalog.Available{Name: "foo", Version: mustVersion(t, "1")}}},
		},
	}

	_, err := d.Refine(context.Background(), req)
	if err == nil {
		t.Fatalf("expected cross-configuration duplication error, got nil")
	}
}

func TestRefineSkipsStalenessEvaluationForHeldVersion(t *testing.T) {
	d, _, mem := newTestDriver(t)

	mem.PutAvailable("repo", &catalog.Available{Name: "foo", Version: mustVersion(t, "2")})
	mem.PutSelected(testCfg, &catalog.SelectedPackage{Name: "foo", Version: mustVersion(t, "1"), State: catalog.Configured})

	key := buildpkg.Key{Config: testCfg, Name: "foo"}
	req := Request{
		Pins: []Pin{
			{
				Key:         key,
				Candidate:   collect.BuildCandidate{Available: &catalog.Available{Name: "foo", Version: mustVersion(t, "1")}},
				HoldVersion: true,
			},
		},
	}

	res, err := d.Refine(context.Background(), req)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if len(res.Plan.Actions) != 1 || !res.Plan.Actions[0].Version.Equal(mustVersion(t, "1")) {
		t.Fatalf("held version should not be upgraded, got %+v", res.Plan.Actions)
	}
}
