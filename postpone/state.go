package postpone

// State bundles every postponement registry the collector threads through
// a run: postponed-repo, postponed-alt, postponed-deps,
// postponed-configurations, replaced-versions, postponed-dependents, and
// the repointed-dependents side table.
//
// Bundling them lets the cluster-draining loop snapshot/restore them as one
// unit alongside the build-package map and ordered list.
type State struct {
	Repo       *Repo
	Alt        *Alt
	Deps       *Deps
	Clusters   *Clusters
	Replaced   *ReplacedVersions
	Dependents *Dependents
	Repointed  *Repointed
}

// NewState returns an empty bundle.
func NewState() *State {
	return &State{
		Repo:       NewRepo(),
		Alt:        NewAlt(),
		Deps:       NewDeps(),
		Clusters:   NewClusters(),
		Replaced:   NewReplacedVersions(),
		Dependents: NewDependents(),
		Repointed:  NewRepointed(),
	}
}

// Clone deep-copies every registry in the bundle.
func (s *State) Clone() *State {
	return &State{
		Repo:       s.Repo.Clone(),
		Alt:        s.Alt.Clone(),
		Deps:       s.Deps.Clone(),
		Clusters:   s.Clusters.Clone(),
		Replaced:   s.Replaced.Clone(),
		Dependents: s.Dependents.Clone(),
		Repointed:  s.Repointed.Clone(),
	}
}

// ScratchExe clears replaced-versions and postponed-dependents entirely,
// the heavier reset the refinement driver applies between negotiation
// attempts. The deps list the refinement driver carries forward is
// untouched here -- that's the caller's responsibility, since it lives
// outside postpone.State.
func (s *State) ScratchExe() {
	s.Replaced.Clear()
	s.Dependents.Clear()
}

// ScratchCol is the lighter reset applied within a single negotiation
// attempt: drops every postponed-deps entry (so their "seen" bits start
// over), leaving replaced-versions alone.
func (s *State) ScratchCol() {
	s.Deps.ResetSeenBits()
}

// ProgressPending reports whether the draining loop's outer condition
// still holds: any of postponed_repo non-empty, postponed_alts non-empty,
// some cluster not negotiated, or postponed_deps has bogus entries.
func (s *State) ProgressPending() bool {
	if !s.Repo.Empty() {
		return true
	}
	if !s.Alt.Empty() {
		return true
	}
	if len(s.Clusters.AllNotSealed()) > 0 {
		return true
	}
	if s.Deps.HasBogus() {
		return true
	}
	return false
}

// Drained reports the post-condition collect_build_postponed must leave
// the registries in once it returns normally: postponed_repo and
// postponed_alts empty, every cluster negotiated=true, and no
// postponed_deps entry bogus.
func (s *State) Drained() bool {
	return s.Repo.Empty() && s.Alt.Empty() && s.Clusters.AllSealed() && !s.Deps.HasBogus()
}
