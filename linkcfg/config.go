// Package linkcfg models a build configuration: an isolated installation
// root with its own type, path, link graph to other configurations, and a
// system-repository cache.
//
// This package intentionally carries no behavior beyond graph bookkeeping;
// the persisted selected-package set and the real on-disk database are
// external collaborators, modeled by the store package.
package linkcfg

import "fmt"

// Type distinguishes the role a Configuration plays. Build-time
// dependencies may need to land in a different Type than their dependent.
type Type string

const (
	Target  Type = "target"
	Host    Type = "host"
	Build2  Type = "build2"
	Unknown Type = ""
)

// ID identifies a Configuration uniquely within a run. Configurations are
// referenced by ID everywhere else in this module rather than by pointer,
// so that the build-package map and postponement registries can be
// snapshotted and restored by value.
type ID string

// Configuration is an opaque handle: a type tag, canonical path, and link
// graph. The link graph fields distinguish four
// relations:
//
//   - Dependents: configurations that depend on this one
//   - Dependencies: configurations this one depends on
//   - ExplicitLinks: configurations linked in explicitly (--config-*, or
//     persisted from a previous build), searched by Type during dependency
//     target-configuration resolution
//   - Cluster: configurations considered part of the same "link cluster"
//     for the purposes of the build-system-module duplication check
//
type Configuration struct {
	ID   ID
	Path string
	Kind Type

	// Private indicates this Configuration was created by the collector
	// itself to host a build-time dependency; its Parent is
	// set in that case.
	Private bool
	Parent  ID

	Dependents    []ID
	Dependencies  []ID
	ExplicitLinks []ID
	Cluster       []ID

	// Current marks a configuration as one of the "current" configurations
	// designated by the caller; collection starts from
	// these.
	Current bool
}

func (c Configuration) String() string {
	if c.Path == "" {
		return string(c.ID)
	}
	return fmt.Sprintf("%s (%s)", c.Path, c.Kind)
}

// Graph is the set of linked configurations reachable from the "current"
// set, keyed by ID. It is passed explicitly into the
// collector/orderer/refiner constructors rather than looked up from a
// global, so tests can run several independent graphs side by side.
type Graph struct {
	byID map[ID]*Configuration
	// order preserves insertion order for deterministic iteration.
	order []ID
}

// NewGraph returns an empty configuration graph.
func NewGraph() *Graph {
	return &Graph{byID: make(map[ID]*Configuration)}
}

// Add registers cfg in the graph. It fails if the ID is already present.
func (g *Graph) Add(cfg Configuration) error {
	if _, ok := g.byID[cfg.ID]; ok {
		return fmt.Errorf("linkcfg: configuration %q already registered", cfg.ID)
	}
	cp := cfg
	g.byID[cfg.ID] = &cp
	g.order = append(g.order, cfg.ID)
	return nil
}

// Get looks up a configuration by ID.
func (g *Graph) Get(id ID) (*Configuration, bool) {
	c, ok := g.byID[id]
	return c, ok
}

// MustGet looks up a configuration, panicking if absent; used only where
// the caller has already established the ID came from this same Graph.
func (g *Graph) MustGet(id ID) *Configuration {
	c, ok := g.byID[id]
	if !ok {
		panic(fmt.Sprintf("linkcfg: unknown configuration %q", id))
	}
	return c
}

// Current returns the IDs designated as "current", in
// insertion order.
func (g *Graph) Current() []ID {
	var out []ID
	for _, id := range g.order {
		if g.byID[id].Current {
			out = append(out, id)
		}
	}
	return out
}

// Link records that from depends on on, and on is depended-on-by from.
func (g *Graph) Link(from, on ID) {
	f, ok := g.byID[from]
	if !ok {
		return
	}
	t, ok := g.byID[on]
	if !ok {
		return
	}
	if !containsID(f.Dependencies, on) {
		f.Dependencies = append(f.Dependencies, on)
	}
	if !containsID(t.Dependents, from) {
		t.Dependents = append(t.Dependents, from)
	}
}

// ExplicitLinksOfType returns the IDs among cfg's explicit links whose Kind
// matches want, used by the dependency target-configuration resolution
// to search "D's immediate explicit links for a configuration
// of the required type".
func (g *Graph) ExplicitLinksOfType(cfg ID, want Type) []ID {
	c, ok := g.byID[cfg]
	if !ok {
		return nil
	}
	var out []ID
	for _, id := range c.ExplicitLinks {
		if other, ok := g.byID[id]; ok && other.Kind == want {
			out = append(out, id)
		}
	}
	return out
}

// SameCluster reports whether a and b belong to the same link cluster, used
// by the final build-system-module duplication check.
func (g *Graph) SameCluster(a, b ID) bool {
	if a == b {
		return true
	}
	ca, ok := g.byID[a]
	if !ok {
		return false
	}
	return containsID(ca.Cluster, b)
}

func containsID(s []ID, id ID) bool {
	for _, x := range s {
		if x == id {
			return true
		}
	}
	return false
}

// AddPrivate creates and links a new private configuration of kind under
// parent. The caller-supplied callback (store.PrivateConfigCreator) is
// expected to wrap this, since the real on-disk creation is an external
// collaborator; this method only updates the in-memory Graph bookkeeping.
func (g *Graph) AddPrivate(parent ID, id ID, kind Type, relPath string) error {
	p, ok := g.byID[parent]
	if !ok {
		return fmt.Errorf("linkcfg: unknown parent configuration %q", parent)
	}
	if err := g.Add(Configuration{ID: id, Kind: kind, Path: relPath, Private: true, Parent: parent}); err != nil {
		return err
	}
	p.ExplicitLinks = append(p.ExplicitLinks, id)
	g.Link(parent, id)
	return nil
}
