package postpone

import "github.com/dstask/bpm/catalog"

// RepoEntry records a dependent postponed because a user-override pin's
// version does not exist in its own repositories.
type RepoEntry struct {
	Key Key
	// Reason is a short human-readable description, surfaced if this
	// entry is still unresolved when collect_build_postponed gives up
	//.
	Reason string
}

// Repo is the postponed-repo registry.
type Repo struct {
	order   []Key
	byKey   map[Key]*RepoEntry
}

func NewRepo() *Repo { return &Repo{byKey: make(map[Key]*RepoEntry)} }

// Add records key as postponed-repo. Re-adding an existing key is a no-op,
// matching the idempotent re-entry the draining loop performs on retry.
func (r *Repo) Add(key Key, reason string) {
	if _, ok := r.byKey[key]; ok {
		return
	}
	r.byKey[key] = &RepoEntry{Key: key, Reason: reason}
	r.order = append(r.order, key)
}

// Remove drops key, used once a drain pass makes progress on it.
func (r *Repo) Remove(key Key) {
	if _, ok := r.byKey[key]; !ok {
		return
	}
	delete(r.byKey, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Keys returns the postponed keys in insertion order.
func (r *Repo) Keys() []Key {
	out := make([]Key, len(r.order))
	copy(out, r.order)
	return out
}

// Empty reports whether no keys are postponed, the first half of the
// draining loop's exit condition.
func (r *Repo) Empty() bool { return len(r.order) == 0 }

// Clone deep-copies the registry.
func (r *Repo) Clone() *Repo {
	cp := NewRepo()
	cp.order = append([]Key(nil), r.order...)
	for k, v := range r.byKey {
		vv := *v
		cp.byKey[k] = &vv
	}
	return cp
}
