package buildpkg

import "fmt"

// position identifies a slot in the ordered list. The zero value, together
// with ok=false from the map, represents "not yet ordered".
type position struct {
	node *node
}

type node struct {
	key        Key
	prev, next *node
}

// Map is the build-package map: keyed by (configuration, name), owning
// every Entry uniquely, with a doubly-linked ordered list of positions
// layered over it.
//
// Map is the sole owner of Entry values. The ordered list, and every
// postponement registry elsewhere in this module, reference entries only
// by Key -- never by pointer -- so that a Map can be deep-copied and the
// other structures can be rebuilt against the copy purely by re-resolving
// keys.
type Map struct {
	entries map[Key]*Entry
	byName  nameTrie

	head, tail *node
	positions  map[Key]*node
}

// NewMap returns an empty build-package map.
func NewMap() *Map {
	return &Map{
		entries:   make(map[Key]*Entry),
		byName:    newNameTrie(),
		positions: make(map[Key]*node),
	}
}

// Enter inserts a pre-entered (action-less) entry for key. It fails if an
// entry already exists for the key.
func (m *Map) Enter(key Key) (*Entry, error) {
	if _, ok := m.entries[key]; ok {
		return nil, fmt.Errorf("buildpkg: %s already entered", key)
	}
	e := NewPreEntered(key)
	m.put(e)
	return e, nil
}

// EnteredBuild looks up an entry by key, returning nil if absent.
func (m *Map) EnteredBuild(key Key) *Entry {
	return m.entries[key]
}

// Put inserts or overwrites the entry at its own key, used by the
// collector's merge/replacement policy once it has decided
// which entry to keep. Besides Enter it is the map's only way to add or
// overwrite an entry, so every such caller goes through the invariants
// Entry.Validate checks.
func (m *Map) Put(e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.put(e)
	return nil
}

func (m *Map) put(e *Entry) {
	if _, had := m.entries[e.Key]; !had {
		keys, ok := m.byName.get(string(e.Key.Name))
		if !ok {
			keys = make(map[Key]struct{})
		}
		keys[e.Key] = struct{}{}
		m.byName.insert(string(e.Key.Name), keys)
	}
	m.entries[e.Key] = e
}

// Delete removes an entry entirely, including its order position if any.
func (m *Map) Delete(key Key) {
	if _, ok := m.entries[key]; !ok {
		return
	}
	m.EraseOrdered(key)
	delete(m.entries, key)
	if keys, ok := m.byName.get(string(key.Name)); ok {
		delete(keys, key)
		if len(keys) == 0 {
			m.byName.delete(string(key.Name))
		}
	}
}

// ByName returns every key currently in the map with the given package
// name, across all configurations.
func (m *Map) ByName(name string) []Key {
	keys, ok := m.byName.get(name)
	if !ok {
		return nil
	}
	out := make([]Key, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}

// All returns every entry currently in the map. Iteration order is
// unspecified; callers that need determinism should consult the ordered
// list instead.
func (m *Map) All() map[Key]*Entry { return m.entries }

// Len reports the number of entries in the map.
func (m *Map) Len() int { return len(m.entries) }

// --- ordered list -----------------------------------------------------

// IsOrdered reports whether key currently has a position in the ordered
// list.
func (m *Map) IsOrdered(key Key) bool {
	_, ok := m.positions[key]
	return ok
}

// InsertOrdered places key immediately before before (or at the tail if
// before is the zero Key / not ordered), maintaining the list's invariant that every
// package only depends on those appearing after it.
func (m *Map) InsertOrdered(key Key, before Key) {
	if m.IsOrdered(key) {
		m.EraseOrdered(key)
	}
	n := &node{key: key}
	m.positions[key] = n

	beforeNode, ok := m.positions[before]
	if !ok {
		// append at tail
		if m.tail == nil {
			m.head, m.tail = n, n
			return
		}
		n.prev = m.tail
		m.tail.next = n
		m.tail = n
		return
	}

	n.next = beforeNode
	n.prev = beforeNode.prev
	if beforeNode.prev != nil {
		beforeNode.prev.next = n
	} else {
		m.head = n
	}
	beforeNode.prev = n
}

// AppendOrdered places key at the tail of the ordered list (built first,
// since it depends on nothing after it), used when no earlier-position
// constraint applies.
func (m *Map) AppendOrdered(key Key) {
	m.InsertOrdered(key, Key{})
}

// EraseOrdered removes key's position, if any.
func (m *Map) EraseOrdered(key Key) {
	n, ok := m.positions[key]
	if !ok {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		m.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		m.tail = n.prev
	}
	delete(m.positions, key)
}

// ClearOrder resets every position, keeping the map intact.
func (m *Map) ClearOrder() {
	m.head, m.tail = nil, nil
	m.positions = make(map[Key]*node)
}

// Clear drops both the map and the ordered list.
func (m *Map) Clear() {
	m.entries = make(map[Key]*Entry)
	m.byName = newNameTrie()
	m.ClearOrder()
}

// Ordered returns the keys head-to-tail, which is reverse build order:
// every package only depends on those appearing after it in the list, so
// dependents sit earlier than their dependencies and a build that never
// builds a package before something it depends on walks the list
// tail-to-head.
func (m *Map) Ordered() []Key {
	var out []Key
	for n := m.head; n != nil; n = n.next {
		out = append(out, n.key)
	}
	return out
}

// PositionIndex returns the 0-based index of key in the ordered list and
// true, or (0, false) if key is not ordered. Used by the orderer to find
// the earliest position among a set of recursed entries.
func (m *Map) PositionIndex(key Key) (int, bool) {
	i := 0
	for n := m.head; n != nil; n = n.next {
		if n.key == key {
			return i, true
		}
		i++
	}
	return 0, false
}

// Clone performs a deep copy of the map and rebuilds the ordered list by
// walking the source list and re-linking positions via map lookup in the
// copy. Used by the negotiator's rollback.
func (m *Map) Clone() *Map {
	cp := NewMap()
	for k, e := range m.entries {
		cp.entries[k] = e.Clone()
		keys, ok := cp.byName.get(string(k.Name))
		if !ok {
			keys = make(map[Key]struct{})
		}
		keys[k] = struct{}{}
		cp.byName.insert(string(k.Name), keys)
	}
	for n := m.head; n != nil; n = n.next {
		cp.AppendOrdered(n.key)
	}
	return cp
}
