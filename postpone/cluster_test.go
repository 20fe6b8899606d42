package postpone

import "testing"

func TestClusterKeyExclusivity(t *testing.T) {
	c := NewClusters()
	dep := Key{Config: "cfg", Name: "libc"}
	if _, err := c.New([]Key{dep}, nil); err != nil {
		t.Fatalf("first cluster: %v", err)
	}
	if _, err := c.New([]Key{dep}, nil); err == nil {
		t.Fatalf("expected error: key already owned by another cluster")
	}
}

func TestClusterMergeOnSharedDependency(t *testing.T) {
	c := NewClusters()
	shared := Key{Config: "cfg", Name: "libshared"}
	d1 := Key{Config: "cfg", Name: "d1"}
	d2 := Key{Config: "cfg", Name: "d2"}

	c1, err := c.New([]Key{shared}, []Dependent{{Key: d1}})
	if err != nil {
		t.Fatalf("c1: %v", err)
	}

	// Can't create a second cluster owning the same dependency directly;
	// the negotiator must merge instead. Simulate that by creating a
	// cluster over a disjoint dependency, then merging.
	other := Key{Config: "cfg", Name: "libother"}
	c2, err := c.New([]Key{other}, []Dependent{{Key: d2}})
	if err != nil {
		t.Fatalf("c2: %v", err)
	}

	merged, err := c.Merge(c1.ID, c2.ID)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !merged.HasDependency(shared) || !merged.HasDependency(other) {
		t.Fatalf("merged cluster must contain both dependency sets")
	}
	if len(merged.Dependents) != 2 {
		t.Fatalf("merged cluster must contain both dependents, got %d", len(merged.Dependents))
	}

	if _, ok := c.Get(d2); !ok {
		t.Fatalf("d2 must still resolve to a cluster after merge")
	}
}

func TestDepsBogusDetection(t *testing.T) {
	d := NewDeps()
	k := Key{Config: "cfg", Name: "foo"}
	d.MarkWoutConfig(k, true)
	if !d.HasBogus() {
		t.Fatalf("wout_config-only entry should be bogus")
	}
	d.MarkWithConfig(k, true)
	if d.HasBogus() {
		t.Fatalf("entry seen with a configuration clause should no longer be bogus")
	}
}

func TestAltOrdering(t *testing.T) {
	a := NewAlt()
	a.Add(AltEntry{Key: Key{Config: "cfg", Name: "b"}, UnprocessedTail: 1, Name: "b"})
	a.Add(AltEntry{Key: Key{Config: "cfg", Name: "a"}, UnprocessedTail: 2, Name: "a"})
	a.Add(AltEntry{Key: Key{Config: "cfg", Name: "c"}, UnprocessedTail: 2, Name: "c"})

	ordered := a.Ordered()
	if len(ordered) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(ordered))
	}
	if ordered[0].Name != "a" || ordered[1].Name != "c" || ordered[2].Name != "b" {
		t.Fatalf("unexpected order: %v, %v, %v", ordered[0].Name, ordered[1].Name, ordered[2].Name)
	}
}
