package postpone

import "fmt"

// ClusterID identifies a postponed-configuration cluster for the lifetime
// of a collection run. IDs are never reused after a cluster is removed,
// matching the "a key may belong to at most one cluster at any time"
// invariant: once freed, an ID's slot simply stays empty
// rather than being recycled into a new, unrelated cluster.
type ClusterID uint64

// Dependent is one member of a cluster's dependent set: whether it already existed
// (configured) before this negotiation started, its depends-clause
// position, and which dependency keys
// it contributed to the cluster.
type Dependent struct {
	Key       Key
	Existing  bool
	Depends   int
	Contributed []Key
}

// Cluster is a postponed-configuration cluster: a set of dependents and
// the union of dependencies they share, with a tri-state Negotiated flag.
//
// Negotiated has three states:
//
//	nil    -- not started
//	false  -- in progress; may still be up-negotiated (merged)
//	true   -- sealed; may only be discarded by rollback
type Cluster struct {
	ID           ClusterID
	Dependents   []Dependent
	Dependencies map[Key]struct{}
	Negotiated   *bool
}

func newBool(b bool) *bool { return &b }

// NotStarted reports whether negotiation for this cluster has not yet
// begun.
func (c *Cluster) NotStarted() bool { return c.Negotiated == nil }

// InProgress reports whether negotiation has started but not sealed.
func (c *Cluster) InProgress() bool { return c.Negotiated != nil && !*c.Negotiated }

// Sealed reports whether negotiation is complete.
func (c *Cluster) Sealed() bool { return c.Negotiated != nil && *c.Negotiated }

// Begin transitions the cluster into "in progress".
func (c *Cluster) Begin() { c.Negotiated = newBool(false) }

// Seal transitions the cluster into "sealed".
func (c *Cluster) Seal() { c.Negotiated = newBool(true) }

// HasDependency reports whether key is one of this cluster's dependencies.
func (c *Cluster) HasDependency(key Key) bool {
	_, ok := c.Dependencies[key]
	return ok
}

// DependentKeys returns just the keys of this cluster's dependents.
func (c *Cluster) DependentKeys() []Key {
	out := make([]Key, len(c.Dependents))
	for i, d := range c.Dependents {
		out[i] = d.Key
	}
	return out
}

// Clone deep-copies a cluster.
func (c *Cluster) Clone() *Cluster {
	cp := &Cluster{ID: c.ID, Dependencies: make(map[Key]struct{}, len(c.Dependencies))}
	for k := range c.Dependencies {
		cp.Dependencies[k] = struct{}{}
	}
	cp.Dependents = make([]Dependent, len(c.Dependents))
	for i, d := range c.Dependents {
		dd := d
		dd.Contributed = append([]Key(nil), d.Contributed...)
		cp.Dependents[i] = dd
	}
	if c.Negotiated != nil {
		cp.Negotiated = newBool(*c.Negotiated)
	}
	return cp
}

// Clusters is the postponed-configurations registry, enforcing
// that a key belongs to at most one cluster at a time.
type Clusters struct {
	nextID   ClusterID
	byID     map[ClusterID]*Cluster
	keyIndex map[Key]ClusterID // dependency or dependent key -> owning cluster
}

func NewClusters() *Clusters {
	return &Clusters{byID: make(map[ClusterID]*Cluster), keyIndex: make(map[Key]ClusterID)}
}

// New creates a cluster for the given dependencies and optional dependents.
// It fails if any key is already owned by another cluster.
func (c *Clusters) New(dependencies []Key, dependents []Dependent) (*Cluster, error) {
	for _, k := range dependencies {
		if id, ok := c.keyIndex[k]; ok {
			return nil, fmt.Errorf("postpone: key %s already owned by cluster %d", k, id)
		}
	}
	for _, d := range dependents {
		if id, ok := c.keyIndex[d.Key]; ok {
			return nil, fmt.Errorf("postpone: dependent %s already owned by cluster %d", d.Key, id)
		}
	}

	c.nextID++
	cl := &Cluster{ID: c.nextID, Dependencies: make(map[Key]struct{}, len(dependencies))}
	for _, k := range dependencies {
		cl.Dependencies[k] = struct{}{}
		c.keyIndex[k] = cl.ID
	}
	cl.Dependents = append(cl.Dependents, dependents...)
	for _, d := range dependents {
		c.keyIndex[d.Key] = cl.ID
	}
	c.byID[cl.ID] = cl
	return cl, nil
}

// Get returns the cluster owning key, if any.
func (c *Clusters) Get(key Key) (*Cluster, bool) {
	id, ok := c.keyIndex[key]
	if !ok {
		return nil, false
	}
	return c.byID[id], true
}

// ByID returns the cluster for the given ID.
func (c *Clusters) ByID(id ClusterID) (*Cluster, bool) {
	cl, ok := c.byID[id]
	return cl, ok
}

// AddDependent adds a new dependent to an existing cluster and indexes its
// key. Used by up-negotiation and by the existing-dependent scan that
// drains postponed clusters.
func (c *Clusters) AddDependent(id ClusterID, d Dependent) error {
	cl, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("postpone: unknown cluster %d", id)
	}
	if owner, ok := c.keyIndex[d.Key]; ok && owner != id {
		return fmt.Errorf("postpone: dependent %s already owned by cluster %d", d.Key, owner)
	}
	cl.Dependents = append(cl.Dependents, d)
	c.keyIndex[d.Key] = id
	return nil
}

// AddDependency adds a new dependency key to an existing cluster.
func (c *Clusters) AddDependency(id ClusterID, key Key) error {
	cl, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("postpone: unknown cluster %d", id)
	}
	if owner, ok := c.keyIndex[key]; ok && owner != id {
		return fmt.Errorf("postpone: dependency %s already owned by cluster %d", key, owner)
	}
	cl.Dependencies[key] = struct{}{}
	c.keyIndex[key] = id
	return nil
}

// Merge combines two clusters that share a dependency into one. The
// surviving cluster keeps the lower ID; the other is removed. Whether to
// combine two already-Sealed clusters with different outcomes is left to
// the negotiator, which calls Merge only before either side is sealed, or
// per the up-negotiation decision recorded in DESIGN.md.
func (c *Clusters) Merge(a, b ClusterID) (*Cluster, error) {
	if a == b {
		return c.byID[a], nil
	}
	ca, ok := c.byID[a]
	if !ok {
		return nil, fmt.Errorf("postpone: unknown cluster %d", a)
	}
	cb, ok := c.byID[b]
	if !ok {
		return nil, fmt.Errorf("postpone: unknown cluster %d", b)
	}

	keep, drop := ca, cb
	if drop.ID < keep.ID {
		keep, drop = drop, keep
	}

	for k := range drop.Dependencies {
		keep.Dependencies[k] = struct{}{}
		c.keyIndex[k] = keep.ID
	}
	keep.Dependents = append(keep.Dependents, drop.Dependents...)
	for _, d := range drop.Dependents {
		c.keyIndex[d.Key] = keep.ID
	}
	if keep.Negotiated == nil {
		keep.Negotiated = drop.Negotiated
	}

	delete(c.byID, drop.ID)
	return keep, nil
}

// Remove deletes a cluster and frees its keys.
func (c *Clusters) Remove(id ClusterID) {
	cl, ok := c.byID[id]
	if !ok {
		return
	}
	for k := range cl.Dependencies {
		delete(c.keyIndex, k)
	}
	for _, d := range cl.Dependents {
		delete(c.keyIndex, d.Key)
	}
	delete(c.byID, id)
}

// AllNotSealed returns the clusters that are not yet sealed, used by the
// draining loop to pick the next non-negotiated cluster. Order is by
// ascending ClusterID for determinism.
func (c *Clusters) AllNotSealed() []*Cluster {
	var out []*Cluster
	for _, cl := range c.byID {
		if !cl.Sealed() {
			out = append(out, cl)
		}
	}
	sortClustersByID(out)
	return out
}

func sortClustersByID(cs []*Cluster) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j-1].ID > cs[j].ID; j-- {
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
}

// AllSealedClusters returns the sealed clusters, ascending by ClusterID, used
// by the configuration-cycle check to walk only clusters whose dependent set
// is final.
func (c *Clusters) AllSealedClusters() []*Cluster {
	var out []*Cluster
	for _, cl := range c.byID {
		if cl.Sealed() {
			out = append(out, cl)
		}
	}
	sortClustersByID(out)
	return out
}

// AllSealed reports whether every cluster is sealed, the post-condition a
// completed drain pass must leave the registry in.
func (c *Clusters) AllSealed() bool {
	for _, cl := range c.byID {
		if !cl.Sealed() {
			return false
		}
	}
	return true
}

// Clone deep-copies the registry.
func (c *Clusters) Clone() *Clusters {
	cp := NewClusters()
	cp.nextID = c.nextID
	for id, cl := range c.byID {
		cp.byID[id] = cl.Clone()
	}
	for k, id := range c.keyIndex {
		cp.keyIndex[k] = id
	}
	return cp
}
