package planio

import (
	"encoding/hex"
	"fmt"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/dstask/bpm/store"
)

// record is the on-disk form of a confirmed plan: the checksum a later run
// compares against via Matches, plus enough of each action to show the user
// what they previously confirmed without re-running collection.
type record struct {
	Checksum string        `toml:"checksum"`
	Actions  []actionEntry `toml:"action"`
}

type actionEntry struct {
	Config  string `toml:"config"`
	Name    string `toml:"name"`
	Action  string `toml:"action"`
	Version string `toml:"version,omitempty"`
	Flags   string `toml:"flags,omitempty"`
}

// Marshal renders plan's checksum record as TOML, the persisted
// confirmation receipt Confirm (caller-side) writes after the user accepts
// a plan, so a rerun in checksum-only mode can compare against it without
// re-prompting.
func Marshal(plan store.Plan) ([]byte, error) {
	sum := Checksum(plan)
	r := record{Checksum: hex.EncodeToString(sum[:])}
	for _, a := range sortedActions(plan.Actions) {
		e := actionEntry{
			Config: string(a.Key.Config),
			Name:   string(a.Key.Name),
			Action: a.Action,
			Flags:  a.Flags,
		}
		if a.HasVersion {
			e.Version = a.Version.String()
		}
		r.Actions = append(r.Actions, e)
	}
	return toml.Marshal(r)
}

// UnmarshalChecksum reads back the checksum field of a record previously
// written by Marshal, for comparison against a freshly computed Checksum.
func UnmarshalChecksum(data []byte) ([32]byte, error) {
	var r record
	if err := toml.Unmarshal(data, &r); err != nil {
		return [32]byte{}, errors.Wrap(err, "planio: unable to parse plan receipt")
	}
	raw, err := hex.DecodeString(r.Checksum)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("planio: malformed checksum field %q", r.Checksum)
	}
	var sum [32]byte
	copy(sum[:], raw)
	return sum, nil
}
