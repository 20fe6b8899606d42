// Package planio renders a finished store.Plan into the user-facing form:
// a structured plan string for confirmation, and a SHA-256 checksum over
// the same actions for idempotence detection.
package planio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dstask/bpm/store"
)

// Rendered is a plan rendered for user confirmation: Text is shown
// verbatim, Checksum is recomputed by Checksum(plan) to detect whether the
// user is confirming the same plan that was computed.
type Rendered struct {
	Text     string
	Checksum [32]byte
}

// Render produces the structured confirmation text for plan, in the order
// the plan's actions already carry -- refine.buildPlan emits the ordered
// list head-to-tail, so dependents come before their dependencies.
func Render(plan store.Plan) Rendered {
	var b strings.Builder
	fmt.Fprintf(&b, "plan: %d action(s)\n", len(plan.Actions))
	for _, a := range plan.Actions {
		fmt.Fprintf(&b, "  %-8s %s", a.Action, a.Key)
		if a.HasVersion {
			fmt.Fprintf(&b, "/%s", a.Version)
		}
		if a.Flags != "" && a.Flags != "-" {
			fmt.Fprintf(&b, " [%s]", a.Flags)
		}
		b.WriteByte('\n')
	}
	return Rendered{Text: b.String(), Checksum: Checksum(plan)}
}

// sortedActions returns a copy of plan.Actions sorted by Key.String()
// ("name@configuration"), the same "sort then hash" shape HashInputs uses for dependency
// lists -- here the actions themselves, rather than constraint lines, are
// the hashed unit, so action order in the plan (which a reconfigure run
// could otherwise re-derive in a different sequence for the same set of
// changes) never perturbs the checksum.
func sortedActions(actions []store.PlanAction) []store.PlanAction {
	out := append([]store.PlanAction(nil), actions...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}
