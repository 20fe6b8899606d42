// Package catalog holds the persisted and repository-sourced package
// records the collector reasons over: selected packages, available
// packages, and the dependency-alternative-group clauses attached to them.
// It is deliberately data-only; the collector (package collect) is what
// walks this data to build a plan.
package catalog

import (
	"fmt"

	"github.com/dstask/bpm/linkcfg"
	"github.com/dstask/bpm/pkgver"
)

// Key is the primary identity used throughout the engine: a configuration
// plus a package name.
type Key struct {
	Config linkcfg.ID
	Name   pkgver.Name
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s", k.Name, k.Config)
}

// UserSelectionKey is the distinguished empty-name key denoting "the user
// asked for this on the command line".
func UserSelectionKey(cfg linkcfg.ID) Key { return Key{Config: cfg, Name: ""} }

// IsUserSelection reports whether k is the distinguished user-selection
// marker.
func (k Key) IsUserSelection() bool { return k.Name == "" }
