package refine

import (
	"context"

	"github.com/dstask/bpm/buildpkg"
	"github.com/dstask/bpm/store"
)

// buildPlan renders the map's ordered list into the minimal plan view
// store.PlanExecutor consumes; package planio builds the richer rendering
// a user confirms on top of the same ordered entries.
func buildPlan(m *buildpkg.Map) store.Plan {
	var actions []store.PlanAction
	for _, key := range m.Ordered() {
		entry := m.EnteredBuild(key)
		if entry == nil {
			continue
		}
		a := store.PlanAction{
			Key:    key,
			Action: string(entry.Action),
			Flags:  entry.Flags.String(),
		}
		if entry.Available != nil {
			a.Version, a.HasVersion = entry.Available.Version, true
		}
		actions = append(actions, a)
	}
	return store.Plan{Actions: actions}
}

// simulateExecution is step 9: begin a transaction per configuration
// touched by the plan, run the executor in simulate mode, and roll every
// transaction back -- the store's own Rollback already restores its
// session-level object cache, the in-memory equivalent of "reload selected
// objects, undo side effects, restore session state".
func (d *Driver) simulateExecution(ctx context.Context, plan store.Plan) error {
	c := d.Collector

	seen := make(map[string]bool)
	var txns []store.Transaction
	for _, a := range plan.Actions {
		id := string(a.Key.Config)
		if seen[id] {
			continue
		}
		seen[id] = true

		txn, err := c.Store.BeginTransaction(ctx, a.Key.Config)
		if err != nil {
			return err
		}
		txns = append(txns, txn)
	}

	execErr := d.Executor.ExecutePlan(ctx, plan, true)

	for _, txn := range txns {
		if err := txn.Rollback(ctx); err != nil && execErr == nil {
			execErr = err
		}
	}

	return execErr
}
