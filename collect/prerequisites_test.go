package collect

import (
	"context"
	"testing"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/catalog"
)

// TestCollectBuildPrerequisitesBroadensSearchWhenOwnFragmentHasNoCandidate
// exercises the make-dependency-decisions retry: "bar" is only published
// under a fragment unrelated to the dependent's own, so the first
// (fragment-scoped) pass finds nothing, and only the broadened
// Store.QueryAvailable retry picks it up.
func TestCollectBuildPrerequisitesBroadensSearchWhenOwnFragmentHasNoCandidate(t *testing.T) {
	c, mem := newTestCollector(t)

	mem.PutAvailable("elsewhere", avail("bar", v(t, "3")))

	key := buildpkg.Key{Config: testCfg, Name: "foo"}
	fooAvail := avail("foo", v(t, "1"), catalog.DependencyGroup{
		Alternatives: []catalog.Alternative{
			{Deps: []catalog.DependencySpec{{Name: "bar"}}},
		},
	})
	fooAvail.Fragment = "foo-own-fragment"
	mem.PutAvailable("foo-own-fragment", fooAvail)

	entry, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: fooAvail, Fragment: fooAvail.Fragment}, BuildOptions{UserSelection: true})
	if err != nil {
		t.Fatalf("CollectBuild: %v", err)
	}

	if err := c.collectBuildPrerequisites(context.Background(), entry, 0, nil); err != nil {
		t.Fatalf("collectBuildPrerequisites: %v", err)
	}

	barKey := buildpkg.Key{Config: testCfg, Name: "bar"}
	barEntry := c.Map.EnteredBuild(barKey)
	if barEntry == nil {
		t.Fatalf("expected bar to be collected via the broadened retry")
	}
	if barEntry.Available.Version.Compare(v(t, "3")) != 0 {
		t.Fatalf("got bar version %s, want 3", barEntry.Available.Version)
	}
}

// TestCollectBuildPrerequisitesFailsWhenBroadenedSearchAlsoFindsNothing
// confirms the retry doesn't paper over a genuinely absent dependency: with
// no published "bar" anywhere, both passes come up empty and the entry
// fails outright.
func TestCollectBuildPrerequisitesFailsWhenBroadenedSearchAlsoFindsNothing(t *testing.T) {
	c, mem := newTestCollector(t)

	key := buildpkg.Key{Config: testCfg, Name: "foo"}
	fooAvail := avail("foo", v(t, "1"), catalog.DependencyGroup{
		Alternatives: []catalog.Alternative{
			{Deps: []catalog.DependencySpec{{Name: "bar"}}},
		},
	})
	fooAvail.Fragment = "foo-own-fragment"
	mem.PutAvailable("foo-own-fragment", fooAvail)

	entry, err := c.CollectBuild(context.Background(), key, BuildCandidate{Available: fooAvail, Fragment: fooAvail.Fragment}, BuildOptions{UserSelection: true})
	if err != nil {
		t.Fatalf("CollectBuild: %v", err)
	}

	if err := c.collectBuildPrerequisites(context.Background(), entry, 0, nil); err == nil {
		t.Fatalf("expected an error once even the broadened search finds no candidate")
	}
}
