// Package reconcile resynchronizes persisted installed-addon records
// with the actual contents of the install directory.
//
// Disk state is authoritative: records are a cache. Reconciliation
// tolerates manual edits to the Community folder, adopting untracked
// addon folders, pruning records with no remaining trace on disk, and
// refreshing the recorded paths and versions of everything else. It
// must not run concurrently with an install or uninstall against the
// same install path; callers hold the install-path lock around it.
package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hangar-sim/hangar/internal/catalog"
	"github.com/hangar-sim/hangar/internal/config"
	"github.com/hangar-sim/hangar/internal/engine"
	"github.com/hangar-sim/hangar/internal/state"
)

// Reconciler rebuilds installed-state truth from the filesystem.
type Reconciler struct {
	installPath string
	store       state.Store
	logger      config.Logger
	now         func() time.Time
}

// NewReconciler creates a reconciler for one install path. The path
// may be empty; reconciliation then degrades to pruning records whose
// recorded folders no longer exist.
func NewReconciler(installPath string, store state.Store, logger config.Logger) *Reconciler {
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Reconciler{
		installPath: installPath,
		store:       store,
		logger:      logger,
		now:         time.Now,
	}
}

// Reconcile cross-references the catalog, the install directory, and
// the persisted records, and writes the corrected records back.
func (r *Reconciler) Reconcile(cat *catalog.Catalog) error {
	records, err := r.store.All()
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	if r.installPath == "" {
		return r.pruneOnly(records)
	}

	folderMap := buildFolderMap(cat, r.logger)

	byAddon, err := r.observeInstallDir(folderMap)
	if err != nil {
		return err
	}

	for _, id := range state.SortedIDs(records) {
		rec := records[id]
		observed := byAddon[id]

		if len(observed) == 0 {
			// Nothing of this addon is mapped on disk. If any of its
			// previously recorded paths still physically exists, keep
			// the record unchanged: a transient read failure must not
			// delete state. Only a complete absence prunes.
			if anyExists(rec.InstalledPaths) {
				continue
			}
			r.logger.Info("pruning record with no trace on disk", "addon", id)
			if err := r.store.Put(id, nil); err != nil {
				return fmt.Errorf("prune record %s: %w", id, err)
			}
			continue
		}

		updated := rec.Clone()
		updated.InstalledPaths = observed
		if updated.InstalledVersion == "" || updated.InstalledVersion == "unknown" {
			if v := manifestVersion(observed[0]); v != "" {
				updated.InstalledVersion = v
			}
		}

		if recordsEqual(rec, updated) {
			continue
		}
		if err := r.store.Put(id, updated); err != nil {
			return fmt.Errorf("update record %s: %w", id, err)
		}
	}

	// Adopt folders present on disk but untracked.
	adoptIDs := make([]string, 0, len(byAddon))
	for id := range byAddon {
		if records[id] == nil {
			adoptIDs = append(adoptIDs, id)
		}
	}
	sort.Strings(adoptIDs)

	for _, id := range adoptIDs {
		observed := byAddon[id]
		version := manifestVersion(observed[0])
		if version == "" {
			version = "unknown"
		}

		rec := &state.Record{
			AddonID:          id,
			InstalledChannel: inferChannel(cat, id, version),
			InstalledVersion: version,
			InstallPath:      r.installPath,
			InstalledAt:      r.now().UTC(),
			InstalledPaths:   observed,
		}
		r.logger.Info("adopting untracked addon", "addon", id, "version", version, "channel", rec.InstalledChannel)
		if err := r.store.Put(id, rec); err != nil {
			return fmt.Errorf("adopt record %s: %w", id, err)
		}
	}

	return nil
}

// pruneOnly handles the unset-install-path degradation: drop records
// whose recorded folders are all gone, touch nothing else.
func (r *Reconciler) pruneOnly(records map[string]*state.Record) error {
	for _, id := range state.SortedIDs(records) {
		if anyExists(records[id].InstalledPaths) {
			continue
		}
		r.logger.Info("pruning record with no surviving paths", "addon", id)
		if err := r.store.Put(id, nil); err != nil {
			return fmt.Errorf("prune record %s: %w", id, err)
		}
	}
	return nil
}

// observeInstallDir scans top-level directories of the install path
// and groups them by owning addon. Hidden entries (leading dot) are
// staging or backup artifacts and are never addon folders.
func (r *Reconciler) observeInstallDir(folderMap map[string]string) (map[string][]string, error) {
	entries, err := os.ReadDir(r.installPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("read install dir: %w", err)
	}

	byAddon := make(map[string][]string)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		addonID, ok := folderMap[strings.ToLower(e.Name())]
		if !ok {
			continue
		}
		byAddon[addonID] = append(byAddon[addonID], filepath.Join(r.installPath, e.Name()))
	}

	for id := range byAddon {
		sort.Strings(byAddon[id])
	}
	return byAddon, nil
}

// buildFolderMap maps folder names (lowercased) to the addon that
// claims them. Explicit expected-folder lists claim first; folders
// claimed by more than one addon are dropped as ambiguous. Addons
// without any explicit names fall back to the convention of a folder
// named after the addon id.
func buildFolderMap(cat *catalog.Catalog, logger config.Logger) map[string]string {
	claims := make(map[string]map[string]bool) // folder → set of addon ids

	claim := func(folder, addonID string) {
		key := strings.ToLower(folder)
		if claims[key] == nil {
			claims[key] = make(map[string]bool)
		}
		claims[key][addonID] = true
	}

	for i := range cat.Addons {
		addon := &cat.Addons[i]
		explicit := false
		for _, ch := range addon.Channels {
			for _, folder := range ch.ExpectedPackageFolders {
				claim(folder, addon.ID)
				explicit = true
			}
		}
		if !explicit {
			claim(addon.ID, addon.ID)
		}
	}

	folderMap := make(map[string]string, len(claims))
	for folder, owners := range claims {
		if len(owners) != 1 {
			logger.Warn("folder claimed by multiple addons, ignoring", "folder", folder)
			continue
		}
		for id := range owners {
			folderMap[folder] = id
		}
	}
	return folderMap
}

// inferChannel matches an on-disk version against the addon's catalog
// channels. No exact match means the channel is unknown.
func inferChannel(cat *catalog.Catalog, addonID, version string) catalog.ChannelKey {
	addon, ok := cat.Addon(addonID)
	if !ok || version == "" || version == "unknown" {
		return catalog.ChannelUnknown
	}
	// Fixed probe order keeps the inference deterministic when two
	// channels carry the same version.
	for _, key := range []catalog.ChannelKey{catalog.ChannelStable, catalog.ChannelBeta, catalog.ChannelDev} {
		if ch, ok := addon.Channel(key); ok && ch.Version == version {
			return key
		}
	}
	return catalog.ChannelUnknown
}

// packageManifest is the subset of the marker file reconciliation
// reads.
type packageManifest struct {
	PackageVersion string `json:"package_version"`
	Version        string `json:"version"`
}

// manifestVersion reads the version out of a package's manifest
// marker file, or "" when absent or unreadable.
func manifestVersion(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, engine.ManifestMarkerName))
	if err != nil {
		return ""
	}
	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	if m.PackageVersion != "" {
		return m.PackageVersion
	}
	return m.Version
}

// anyExists reports whether any of the paths still exists on disk.
func anyExists(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// recordsEqual compares the fields reconciliation may rewrite.
func recordsEqual(a, b *state.Record) bool {
	if a.InstalledVersion != b.InstalledVersion {
		return false
	}
	if len(a.InstalledPaths) != len(b.InstalledPaths) {
		return false
	}
	for i := range a.InstalledPaths {
		if a.InstalledPaths[i] != b.InstalledPaths[i] {
			return false
		}
	}
	return true
}
