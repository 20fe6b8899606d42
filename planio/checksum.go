package planio

import (
	"crypto/sha256"

	"github.com/dstask/bpm/store"
)

// Checksum computes a digest of plan's actions: sort the unit being hashed
// into a deterministic order first, then write each field in a fixed
// sequence so two structurally identical plans hash identically regardless
// of the order collection happened to produce them in.
func Checksum(plan store.Plan) [32]byte {
	h := sha256.New()
	for _, a := range sortedActions(plan.Actions) {
		h.Write([]byte(a.Key.String()))
		h.Write([]byte{0})
		h.Write([]byte(a.Action))
		h.Write([]byte{0})
		if a.HasVersion {
			h.Write([]byte(a.Version.String()))
		}
		h.Write([]byte{0})
		h.Write([]byte(a.Flags))
		h.Write([]byte{0})
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Matches reports whether plan still hashes to want, the idempotence check
// a caller runs before executing a plan the user confirmed earlier: if the
// store changed underneath the confirmation (a concurrent run, a repository
// refresh), the checksum no longer matches and the caller must re-confirm.
func Matches(plan store.Plan, want [32]byte) bool {
	return Checksum(plan) == want
}
