package buildpkg

import radix "github.com/armon/go-radix"

// nameTrie is a typed wrapper around a radix tree keyed by package name, a
// thin type-assertion-hiding shim rather than a bespoke tree
// implementation. It backs Map's by-name index, used by the orderer's
// dependency-key lookup and the refinement driver's prerequisite lookup,
// which both need "every entry whose name is X across configurations"
// without scanning the whole map.
type nameTrie struct {
	t *radix.Tree
}

func newNameTrie() nameTrie { return nameTrie{t: radix.New()} }

func (t nameTrie) insert(name string, keys map[Key]struct{}) {
	t.t.Insert(name, keys)
}

func (t nameTrie) get(name string) (map[Key]struct{}, bool) {
	v, ok := t.t.Get(name)
	if !ok {
		return nil, false
	}
	return v.(map[Key]struct{}), true
}

func (t nameTrie) delete(name string) {
	t.t.Delete(name)
}

func (t nameTrie) len() int { return t.t.Len() }
