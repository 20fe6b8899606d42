package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/karrick/godirwalk"
	flock "github.com/theckman/go-flock"

	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
)

// FS is a filesystem-backed PackageStore: each configuration's selected
// packages live as one JSON file per package under <root>/<config>/, and a
// transaction is an advisory file lock around the whole configuration
// directory. Repository/available-package data is left to Memory's
// RepositoryQuery (real fetch/parse is out of scope); FS only owns the
// persisted selected-package side.
type FS struct {
	root string

	mu    sync.Mutex // serializes Go-level access; flock serializes cross-process access
	locks map[linkcfg.ID]*flock.Flock
}

// NewFS returns a filesystem-backed store rooted at root, which must
// already exist.
func NewFS(root string) *FS {
	return &FS{root: root, locks: make(map[linkcfg.ID]*flock.Flock)}
}

func (f *FS) configDir(db linkcfg.ID) string {
	return filepath.Join(f.root, string(db))
}

func (f *FS) packagePath(db linkcfg.ID, name pkgver.Name) string {
	return filepath.Join(f.configDir(db), string(name)+".json")
}

func (f *FS) lockPath(db linkcfg.ID) string {
	return filepath.Join(f.configDir(db), ".lock")
}

// FindSelected reads a single package record from disk.
func (f *FS) FindSelected(_ context.Context, db linkcfg.ID, name pkgver.Name) (*catalog.SelectedPackage, error) {
	b, err := os.ReadFile(f.packagePath(db, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading %s: %w", name, err)
	}
	var pkg catalog.SelectedPackage
	if err := json.Unmarshal(b, &pkg); err != nil {
		return nil, fmt.Errorf("store: decoding %s: %w", name, err)
	}
	return &pkg, nil
}

// QueryDependents walks every package file in db's directory looking for a
// prerequisite edge pointing at (ofDB, name). godirwalk is used here, as
// it is for reloading the session cache after a rollback, so the traversal
// doesn't allocate a full directory listing up front.
func (f *FS) QueryDependents(ctx context.Context, db linkcfg.ID, name pkgver.Name, ofDB linkcfg.ID) ([]Dependent, error) {
	all, err := f.listSelected(db)
	if err != nil {
		return nil, err
	}
	var out []Dependent
	for _, pkg := range all {
		for _, p := range pkg.Prerequisites {
			if p.Key.Config == ofDB && p.Key.Name == name {
				out = append(out, Dependent{Name: pkg.Name, Config: db, HasConstraint: true, Constraint: p.Constraint})
			}
		}
	}
	return out, nil
}

// listSelected walks db's configuration directory and decodes every
// package file found, the on-disk equivalent of Memory.SessionObjects.
func (f *FS) listSelected(db linkcfg.ID) ([]*catalog.SelectedPackage, error) {
	dir := f.configDir(db)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var out []*catalog.SelectedPackage
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || filepath.Ext(path) != ".json" {
				return nil
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var pkg catalog.SelectedPackage
			if err := json.Unmarshal(b, &pkg); err != nil {
				return fmt.Errorf("store: decoding %s: %w", path, err)
			}
			out = append(out, &pkg)
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: walking %s: %w", dir, err)
	}
	return out, nil
}

// SessionObjects reloads every selected package under db after a
// transaction ends, the filesystem analogue of reconciling an in-memory
// identity map against whatever a rolled-back transaction left on disk.
func (f *FS) SessionObjects(_ context.Context, db linkcfg.ID) (map[pkgver.Name]*catalog.SelectedPackage, error) {
	all, err := f.listSelected(db)
	if err != nil {
		return nil, err
	}
	out := make(map[pkgver.Name]*catalog.SelectedPackage, len(all))
	for _, pkg := range all {
		out[pkg.Name] = pkg
	}
	return out, nil
}

// QueryAvailable and LoadRepositoryFragment are not implemented by FS:
// repository data is repository-fetch territory, out of scope for this
// module, and every caller is expected to pair FS (for selected-package
// persistence) with a RepositoryQuery implementation such as Memory's.
func (f *FS) QueryAvailable(context.Context, linkcfg.ID, pkgver.Name, *pkgver.Constraint) ([]*catalog.Available, error) {
	return nil, fmt.Errorf("store: FS does not implement repository queries; pair it with a RepositoryQuery")
}

func (f *FS) LoadRepositoryFragment(context.Context, catalog.FragmentHandle) (RepositoryFragment, error) {
	return nil, fmt.Errorf("store: FS does not implement repository queries; pair it with a RepositoryQuery")
}

// BeginTransaction takes an advisory file lock on db's configuration
// directory, mirroring go-flock's use for coordinating cross-process
// access to a shared directory.
func (f *FS) BeginTransaction(_ context.Context, db linkcfg.ID) (Transaction, error) {
	dir := f.configDir(db)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating %s: %w", dir, err)
	}

	f.mu.Lock()
	lk, ok := f.locks[db]
	if ok && lk.Locked() {
		f.mu.Unlock()
		return nil, fmt.Errorf("store: configuration %s already has an open transaction", db)
	}
	if !ok {
		lk = flock.NewFlock(f.lockPath(db))
		f.locks[db] = lk
	}
	f.mu.Unlock()

	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("store: locking %s: %w", db, err)
	}
	if !locked {
		return nil, fmt.Errorf("store: configuration %s is locked by another process", db)
	}

	snapshot, err := f.listSelected(db)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	return &fsTxn{fs: f, db: db, lock: lk, snapshot: snapshot}, nil
}

type fsTxn struct {
	fs       *FS
	db       linkcfg.ID
	lock     *flock.Flock
	snapshot []*catalog.SelectedPackage
}

// Commit releases the lock, leaving whatever package files were written
// during the transaction in place.
func (t *fsTxn) Commit(context.Context) error {
	return t.lock.Unlock()
}

// Rollback restores every package file to its pre-transaction content and
// removes any file created during the transaction that wasn't present
// before, then releases the lock.
func (t *fsTxn) Rollback(context.Context) error {
	before := make(map[pkgver.Name]*catalog.SelectedPackage, len(t.snapshot))
	for _, pkg := range t.snapshot {
		before[pkg.Name] = pkg
	}

	after, err := t.fs.listSelected(t.db)
	if err != nil {
		t.lock.Unlock()
		return err
	}
	for _, pkg := range after {
		if _, existed := before[pkg.Name]; !existed {
			if err := os.Remove(t.fs.packagePath(t.db, pkg.Name)); err != nil && !os.IsNotExist(err) {
				t.lock.Unlock()
				return fmt.Errorf("store: removing %s during rollback: %w", pkg.Name, err)
			}
		}
	}
	for _, pkg := range t.snapshot {
		if err := t.fs.writeSelected(t.db, pkg); err != nil {
			t.lock.Unlock()
			return err
		}
	}
	return t.lock.Unlock()
}

// writeSelected overwrites a single package's on-disk record.
func (f *FS) writeSelected(db linkcfg.ID, pkg *catalog.SelectedPackage) error {
	dir := f.configDir(db)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: creating %s: %w", dir, err)
	}
	b, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", pkg.Name, err)
	}
	if err := os.WriteFile(f.packagePath(db, pkg.Name), b, 0o644); err != nil {
		return fmt.Errorf("store: writing %s: %w", pkg.Name, err)
	}
	return nil
}

// WriteSelected persists pkg, used by a PlanExecutor once a build/adjust
// action for pkg has actually run.
func (f *FS) WriteSelected(_ context.Context, db linkcfg.ID, pkg *catalog.SelectedPackage) error {
	return f.writeSelected(db, pkg)
}

// DeleteSelected removes a package's on-disk record, used once a drop
// action has actually run.
func (f *FS) DeleteSelected(_ context.Context, db linkcfg.ID, name pkgver.Name) error {
	err := os.Remove(f.packagePath(db, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: deleting %s: %w", name, err)
	}
	return nil
}
