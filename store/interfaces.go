// Package store defines the external collaborators the core consumes: the
// persistent package store, the repository query surface, the
// system-version authority, the user-resolver callback, the
// private-configuration creator, and the plan executor. These are
// interfaces by design: every one of them is an explicit constructor
// parameter throughout collect/order/refine, never a
// package-level variable.
//
// Concrete production implementations (a real SQL-backed database, a real
// repository fetcher, a real build-system invocation) are out of scope for
// this module. This package also ships an in-memory reference
// implementation so the collector can be exercised in tests without any of
// that real infrastructure.
package store

import (
	"context"

	"github.com/dstask/bpm/catalog"
	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
)

// PackageStore is the persistent selected/available package database. Its
// real schema, queries, and transactions are out of scope; this module
// only needs the query surface below plus a transaction boundary to
// simulate against.
type PackageStore interface {
	// FindSelected returns the selected package record for name in db, if
	// any.
	FindSelected(ctx context.Context, db linkcfg.ID, name pkgver.Name) (*catalog.SelectedPackage, error)

	// QueryDependents returns the (name, optional constraint) pairs of
	// every package in db that depends on name (configured in ofDB).
	QueryDependents(ctx context.Context, db linkcfg.ID, name pkgver.Name, ofDB linkcfg.ID) ([]Dependent, error)

	// QueryAvailable returns every available package matching name and,
	// if provided, satisfying constraint, visible to db.
	QueryAvailable(ctx context.Context, db linkcfg.ID, name pkgver.Name, c *pkgver.Constraint) ([]*catalog.Available, error)

	// LoadRepositoryFragment resolves an opaque fragment handle to its
	// queryable form.
	LoadRepositoryFragment(ctx context.Context, handle catalog.FragmentHandle) (RepositoryFragment, error)

	// BeginTransaction starts a transaction scoped to db; Commit/Rollback
	// are methods on the returned Transaction.
	BeginTransaction(ctx context.Context, db linkcfg.ID) (Transaction, error)

	// SessionObjects enumerates the session-level object cache for db,
	// used after simulation rollback to reconcile the identity map.
	SessionObjects(ctx context.Context, db linkcfg.ID) (map[pkgver.Name]*catalog.SelectedPackage, error)
}

// Dependent is one element of PackageStore.QueryDependents' result: a
// dependent's name and the constraint it places on the queried package, if
// any.
type Dependent struct {
	Name          pkgver.Name
	Config        linkcfg.ID
	HasConstraint bool
	Constraint    pkgver.Constraint
}

// Transaction is the begin/commit/rollback handle query isolation needs.
// Simulation always ends in Rollback; a real commit
// only happens once, outside the core, after the user confirms the plan.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RepositoryFragment is a loaded repository fragment plus its complement
// chain, queryable via RepositoryQuery.
type RepositoryFragment interface {
	Handle() catalog.FragmentHandle
	// Complements returns this fragment's complement fragments, searched
	// recursively by RepositoryQuery.Filter.
	Complements() []RepositoryFragment
	// Prerequisites returns the optional prerequisite repositories to also
	// search.
	Prerequisites() []RepositoryFragment
}

// RepositoryQuery is the repository query surface. It respects
// "dependent's repositories only + complements recursively + optional
// prerequisites" -- the caller is expected to pass exactly the fragment set
// that rule implies; RepositoryQuery does not itself know about a
// dependent's identity.
type RepositoryQuery interface {
	// Filter returns every available package across frags (and their
	// complements) matching q.
	Filter(ctx context.Context, frags []RepositoryFragment, q Query) ([]*catalog.Available, error)

	// FilterOne returns a single best match according to order (e.g.
	// "highest version first") and, if non-zero, a specific revision tie
	// breaker.
	FilterOne(ctx context.Context, frags []RepositoryFragment, q Query, order Order, revision uint64) (*catalog.Available, bool, error)
}

// Query narrows a repository search by name and, optionally, constraint.
type Query struct {
	Name          pkgver.Name
	HasConstraint bool
	Constraint    pkgver.Constraint
	SystemOK      bool
}

// Order controls FilterOne's tie-breaking when more than one candidate
// matches.
type Order int

const (
	OrderHighestVersionFirst Order = iota
	OrderLowestVersionFirst
)

// SystemVersionAuthority is the system-version authority collaborator: it
// knows, for a system package, whether a version is known at all and
// whether that knowledge is authoritative.
type SystemVersionAuthority interface {
	SystemVersion(ctx context.Context, db linkcfg.ID, a *catalog.Available) (catalog.SystemVersionKnowledge, error)
	SystemVersionAuthoritative(ctx context.Context, db linkcfg.ID, name pkgver.Name) (pkgver.Version, bool, error)
}

// PrereqDatabaseResolver is the user-resolver callback: yields
// a command-line-pinned configuration for a dependency, if the user
// specified one with --config-*.
type PrereqDatabaseResolver interface {
	FindPrereqDatabase(ctx context.Context, db linkcfg.ID, name pkgver.Name, buildtime bool) (linkcfg.ID, bool, error)
}

// PrivateConfigCreator is the private-configuration creator collaborator,
// invoked when the collector must create and link a new host/build2
// configuration to satisfy a build-time dependency.
type PrivateConfigCreator interface {
	AddPrivateConfig(ctx context.Context, parent linkcfg.ID, relativeConfigDir string, kind linkcfg.Type) (linkcfg.ID, error)
}

// PlanExecutor is the plan executor collaborator: it consumes
// the ordered list, either simulating (in-memory only) or really executing
// it.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, plan Plan, simulate bool) error
}

// Plan is the minimal view of an ordered action list a PlanExecutor needs;
// package planio builds the richer, user-facing rendering on top of the
// same data.
type Plan struct {
	Actions []PlanAction
}

// PlanAction is one entry of a rendered plan.
type PlanAction struct {
	Key     catalog.Key
	Action  string // "build" | "drop" | "adjust"
	Version pkgver.Version
	HasVersion bool
	Flags   string
}
