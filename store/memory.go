package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
)

// Memory is an in-memory implementation of every store collaborator
// interface: PackageStore, RepositoryQuery, SystemVersionAuthority,
// PrereqDatabaseResolver, PrivateConfigCreator, and PlanExecutor. It lets
// the collector/orderer/refiner be exercised against deterministic
// fixtures, mirroring the way a single local map stood in for a real
// repository fetcher in the SourceManager fakes this module is grounded
// on.
//
// Every exported method that reads or writes Memory's own maps takes mu;
// Filter and FilterOne take no lock and read only the fragments passed to
// them.
type Memory struct {
	mu sync.RWMutex

	selected  map[linkcfg.ID]map[pkgver.Name]*catalog.SelectedPackage
	available map[catalog.FragmentHandle][]*catalog.Available

	systemVersions     map[pkgver.Name]catalog.SystemVersionKnowledge
	prereqDatabases    map[prereqKey]linkcfg.ID
	executedPlans      []Plan
	nextPrivateID      int
	privateConfigGraph *linkcfg.Graph
}

type prereqKey struct {
	db        linkcfg.ID
	name      pkgver.Name
	buildtime bool
}

// NewMemory returns an empty in-memory store, linking private-configuration
// creation against graph (so PrivateConfigCreator.AddPrivateConfig can
// actually extend it).
func NewMemory(graph *linkcfg.Graph) *Memory {
	return &Memory{
		selected:           make(map[linkcfg.ID]map[pkgver.Name]*catalog.SelectedPackage),
		available:          make(map[catalog.FragmentHandle][]*catalog.Available),
		systemVersions:     make(map[pkgver.Name]catalog.SystemVersionKnowledge),
		prereqDatabases:    make(map[prereqKey]linkcfg.ID),
		privateConfigGraph: graph,
	}
}

// PutSelected seeds db's selected-package set with pkg, keyed by its name.
func (m *Memory) PutSelected(db linkcfg.ID, pkg *catalog.SelectedPackage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.selected[db]
	if !ok {
		byName = make(map[pkgver.Name]*catalog.SelectedPackage)
		m.selected[db] = byName
	}
	byName[pkg.Name] = pkg
}

// PutAvailable seeds a repository fragment's available-package list.
func (m *Memory) PutAvailable(handle catalog.FragmentHandle, pkgs ...*catalog.Available) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available[handle] = append(m.available[handle], pkgs...)
}

// PutSystemVersion seeds the knowledge SystemVersionAuthority reports for
// name.
func (m *Memory) PutSystemVersion(name pkgver.Name, k catalog.SystemVersionKnowledge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemVersions[name] = k
}

// PutPrereqDatabase seeds the command-line-pinned configuration
// PrereqDatabaseResolver reports for (db, name, buildtime).
func (m *Memory) PutPrereqDatabase(db linkcfg.ID, name pkgver.Name, buildtime bool, target linkcfg.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prereqDatabases[prereqKey{db, name, buildtime}] = target
}

// --- PackageStore -------------------------------------------------------

func (m *Memory) FindSelected(_ context.Context, db linkcfg.ID, name pkgver.Name) (*catalog.SelectedPackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName, ok := m.selected[db]
	if !ok {
		return nil, nil
	}
	return byName[name], nil
}

func (m *Memory) QueryDependents(_ context.Context, db linkcfg.ID, name pkgver.Name, ofDB linkcfg.ID) ([]Dependent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName, ok := m.selected[db]
	if !ok {
		return nil, nil
	}
	var out []Dependent
	for _, pkg := range byName {
		for _, p := range pkg.Prerequisites {
			if p.Key.Config == ofDB && p.Key.Name == name {
				out = append(out, Dependent{Name: pkg.Name, Config: db, HasConstraint: true, Constraint: p.Constraint})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) QueryAvailable(_ context.Context, _ linkcfg.ID, name pkgver.Name, c *pkgver.Constraint) ([]*catalog.Available, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*catalog.Available
	for _, pkgs := range m.available {
		for _, a := range pkgs {
			if a.Name != name {
				continue
			}
			if c != nil && !a.SatisfiesConstraint(*c) {
				continue
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) LoadRepositoryFragment(_ context.Context, handle catalog.FragmentHandle) (RepositoryFragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkgs, ok := m.available[handle]
	if !ok {
		return nil, fmt.Errorf("store: unknown fragment %q", handle)
	}
	return &memoryFragment{handle: handle, pkgs: pkgs}, nil
}

func (m *Memory) BeginTransaction(_ context.Context, db linkcfg.ID) (Transaction, error) {
	m.mu.Lock()
	snapshot := make(map[pkgver.Name]*catalog.SelectedPackage, len(m.selected[db]))
	for k, v := range m.selected[db] {
		snapshot[k] = v.Clone()
	}
	m.mu.Unlock()
	return &memoryTxn{store: m, db: db, snapshot: snapshot}, nil
}

func (m *Memory) SessionObjects(_ context.Context, db linkcfg.ID) (map[pkgver.Name]*catalog.SelectedPackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[pkgver.Name]*catalog.SelectedPackage, len(m.selected[db]))
	for k, v := range m.selected[db] {
		out[k] = v.Clone()
	}
	return out, nil
}

type memoryTxn struct {
	store    *Memory
	db       linkcfg.ID
	snapshot map[pkgver.Name]*catalog.SelectedPackage
}

func (t *memoryTxn) Commit(context.Context) error { return nil }

// Rollback restores db's selected set to the snapshot taken at
// BeginTransaction, the in-memory equivalent of undoing a simulated plan.
func (t *memoryTxn) Rollback(context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.selected[t.db] = t.snapshot
	return nil
}

type memoryFragment struct {
	handle catalog.FragmentHandle
	pkgs   []*catalog.Available
	// complements and prerequisites are wired by the caller after
	// construction via fixtures; Memory itself has no notion of complement
	// chains since its fragments are flat.
	complements   []RepositoryFragment
	prerequisites []RepositoryFragment
}

func (f *memoryFragment) Handle() catalog.FragmentHandle         { return f.handle }
func (f *memoryFragment) Complements() []RepositoryFragment      { return f.complements }
func (f *memoryFragment) Prerequisites() []RepositoryFragment    { return f.prerequisites }

// --- RepositoryQuery ------------------------------------------------------

func (m *Memory) Filter(_ context.Context, frags []RepositoryFragment, q Query) ([]*catalog.Available, error) {
	seen := make(map[catalog.FragmentHandle]bool)
	var out []*catalog.Available
	var walk func(f RepositoryFragment)
	walk = func(f RepositoryFragment) {
		if f == nil || seen[f.Handle()] {
			return
		}
		seen[f.Handle()] = true
		mf, ok := f.(*memoryFragment)
		if ok {
			for _, a := range mf.pkgs {
				if a.Name != q.Name {
					continue
				}
				if q.HasConstraint && !a.SatisfiesConstraint(q.Constraint) {
					continue
				}
				if a.SystemVersion.Known && !q.SystemOK {
					continue
				}
				out = append(out, a)
			}
		}
		for _, c := range f.Complements() {
			walk(c)
		}
		for _, p := range f.Prerequisites() {
			walk(p)
		}
	}
	for _, f := range frags {
		walk(f)
	}
	return out, nil
}

func (m *Memory) FilterOne(ctx context.Context, frags []RepositoryFragment, q Query, order Order, revision uint64) (*catalog.Available, bool, error) {
	all, err := m.Filter(ctx, frags, q)
	if err != nil || len(all) == 0 {
		return nil, false, err
	}
	sort.Slice(all, func(i, j int) bool {
		cmp := all[i].Version.Compare(all[j].Version)
		if order == OrderLowestVersionFirst {
			return cmp < 0
		}
		return cmp > 0
	})
	return all[0], true, nil
}

// --- SystemVersionAuthority ----------------------------------------------

func (m *Memory) SystemVersion(_ context.Context, _ linkcfg.ID, a *catalog.Available) (catalog.SystemVersionKnowledge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.systemVersions[a.Name], nil
}

func (m *Memory) SystemVersionAuthoritative(_ context.Context, _ linkcfg.ID, name pkgver.Name) (pkgver.Version, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.systemVersions[name]
	if !ok || !k.Known || !k.Authoritative {
		return pkgver.Version{}, false, nil
	}
	return k.Version, true, nil
}

// --- PrereqDatabaseResolver ------------------------------------------------

func (m *Memory) FindPrereqDatabase(_ context.Context, db linkcfg.ID, name pkgver.Name, buildtime bool) (linkcfg.ID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.prereqDatabases[prereqKey{db, name, buildtime}]
	return id, ok, nil
}

// --- PrivateConfigCreator --------------------------------------------------

func (m *Memory) AddPrivateConfig(_ context.Context, parent linkcfg.ID, relativeConfigDir string, kind linkcfg.Type) (linkcfg.ID, error) {
	if m.privateConfigGraph == nil {
		return "", fmt.Errorf("store: memory store has no backing configuration graph")
	}
	m.mu.Lock()
	m.nextPrivateID++
	id := linkcfg.ID(fmt.Sprintf("%s/%s#%d", parent, relativeConfigDir, m.nextPrivateID))
	m.mu.Unlock()

	if err := m.privateConfigGraph.AddPrivate(parent, id, kind, relativeConfigDir); err != nil {
		return "", err
	}
	return id, nil
}

// --- PlanExecutor -----------------------------------------------------------

// ExecutePlan records plan for inspection by tests. When simulate is false
// it also materializes PlanAction entries of kind "drop" by removing the
// selected record; "build"/"adjust" are left to a higher-level test fixture
// to apply, since Memory has no notion of the fields an Available-turned-
// Selected package would need beyond what PlanAction carries.
func (m *Memory) ExecutePlan(_ context.Context, plan Plan, simulate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executedPlans = append(m.executedPlans, plan)
	if simulate {
		return nil
	}
	for _, a := range plan.Actions {
		if a.Action != "drop" {
			continue
		}
		if byName, ok := m.selected[a.Key.Config]; ok {
			delete(byName, a.Key.Name)
		}
	}
	return nil
}

// ExecutedPlans returns every plan ExecutePlan has recorded, for test
// assertions.
func (m *Memory) ExecutedPlans() []Plan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Plan(nil), m.executedPlans...)
}
