package planio

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/pkgver"
	"github.com/dstask/bpm/store"
)

func mustVersion(t *testing.T, s string) pkgver.Version {
	t.Helper()
	v, err := pkgver.Parse(s)
	if err != nil {
		t.Fatalf("pkgver.Parse(%q): %v", s, err)
	}
	return v
}

func TestChecksumMatchesHandWrittenDigest(t *testing.T) {
	plan := store.Plan{Actions: []store.PlanAction{
		{Key: catalog.Key{Config: "cfg", Name: "foo"}, Action: "build", Version: mustVersion(t, "2"), HasVersion: true, Flags: "-"},
		{Key: catalog.Key{Config: "cfg", Name: "bar"}, Action: "adjust", Flags: "reconfigure"},
	}}

	// sortedActions orders by Key.String(), so bar (sorts before foo) is
	// hashed first regardless of the plan's own build order.
	h := sha256.New()
	h.Write([]byte("bar@cfg"))
	h.Write([]byte{0})
	h.Write([]byte("adjust"))
	h.Write([]byte{0})
	h.Write([]byte{0})
	h.Write([]byte("reconfigure"))
	h.Write([]byte{0})
	h.Write([]byte("foo@cfg"))
	h.Write([]byte{0})
	h.Write([]byte("build"))
	h.Write([]byte{0})
	h.Write([]byte("2"))
	h.Write([]byte{0})
	h.Write([]byte("-"))
	h.Write([]byte{0})
	want := h.Sum(nil)

	got := Checksum(plan)
	if !bytes.Equal(got[:], want) {
		t.Fatalf("Checksum mismatch:\ngot:  %x\nwant: %x", got, want)
	}
}

func TestChecksumIsOrderIndependent(t *testing.T) {
	a := store.PlanAction{Key: catalog.Key{Config: "cfg", Name: "foo"}, Action: "build", Version: mustVersion(t, "1"), HasVersion: true}
	b := store.PlanAction{Key: catalog.Key{Config: "cfg", Name: "bar"}, Action: "build", Version: mustVersion(t, "1"), HasVersion: true}

	p1 := store.Plan{Actions: []store.PlanAction{a, b}}
	p2 := store.Plan{Actions: []store.PlanAction{b, a}}

	if Checksum(p1) != Checksum(p2) {
		t.Fatalf("checksum depends on action order, want order-independent")
	}
}

func TestChecksumDiffersWhenVersionChanges(t *testing.T) {
	p1 := store.Plan{Actions: []store.PlanAction{
		{Key: catalog.Key{Config: "cfg", Name: "foo"}, Action: "build", Version: mustVersion(t, "1"), HasVersion: true},
	}}
	p2 := store.Plan{Actions: []store.PlanAction{
		{Key: catalog.Key{Config: "cfg", Name: "foo"}, Action: "build", Version: mustVersion(t, "2"), HasVersion: true},
	}}

	if Checksum(p1) == Checksum(p2) {
		t.Fatalf("expected differing checksums for differing plan versions")
	}
}

func TestMatchesRoundTripsThroughMarshal(t *testing.T) {
	plan := store.Plan{Actions: []store.PlanAction{
		{Key: catalog.Key{Config: "cfg", Name: "foo"}, Action: "build", Version: mustVersion(t, "1"), HasVersion: true},
	}}

	data, err := Marshal(plan)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	sum, err := UnmarshalChecksum(data)
	if err != nil {
		t.Fatalf("UnmarshalChecksum: %v", err)
	}
	if !Matches(plan, sum) {
		t.Fatalf("expected Matches to confirm the round-tripped checksum")
	}

	plan.Actions[0].Version = mustVersion(t, "2")
	if Matches(plan, sum) {
		t.Fatalf("expected Matches to reject a plan that changed after the receipt was written")
	}
}
