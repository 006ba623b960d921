// Package state persists the set of installed addons.
//
// Records are a cache of what reconciliation last observed; the
// install directory on disk is authoritative. The file store writes
// the whole record set atomically (write-to-temp, rename, directory
// sync) so a crash never leaves a truncated state file.
package state

import (
	"sort"
	"time"

	"github.com/hangar-sim/hangar/internal/catalog"
)

// Record describes one installed addon.
type Record struct {
	AddonID          string             `json:"addonId"`
	InstalledChannel catalog.ChannelKey `json:"installedChannel,omitempty"`
	InstalledVersion string             `json:"installedVersion"`
	InstallPath      string             `json:"installPath"`
	InstalledAt      time.Time          `json:"installedAt"`
	// InstalledPaths lists the absolute folder paths this addon
	// occupies under InstallPath, as of the last install or
	// reconciliation.
	InstalledPaths []string `json:"installedPaths"`
}

// Clone returns a deep copy so callers can mutate freely.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.InstalledPaths = append([]string(nil), r.InstalledPaths...)
	return &out
}

// Store is the persisted-state collaborator. Put with a nil record
// deletes the entry.
type Store interface {
	All() (map[string]*Record, error)
	Get(addonID string) (*Record, error)
	Put(addonID string, rec *Record) error
}

// SortedIDs returns record keys in stable order, for deterministic
// iteration and output.
func SortedIDs(records map[string]*Record) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
