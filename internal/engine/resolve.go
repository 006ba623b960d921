package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hangar-sim/hangar/internal/config"
)

const (
	// ManifestMarkerName identifies a valid package root under strict
	// resolution.
	ManifestMarkerName = "manifest.json"
	// ContainerDirName is the conventional directory archives often
	// wrap their packages in, mirroring the install destination.
	ContainerDirName = "Community"

	// markerSearchDepth is how far below a named folder the marker may
	// sit before the folder is rejected.
	markerSearchDepth = 3
	// autoDetectDepth bounds the auto-detect scan.
	autoDetectDepth = 6
	// defaultVisitBudget caps directory visits per scan, so a
	// malicious or enormous archive cannot run the resolver away.
	defaultVisitBudget = 4096
)

// PackageRef is one resolved install unit: the folder name it will
// occupy under the install path, and where its content currently
// lives in the scratch tree.
type PackageRef struct {
	FolderName string
	SourcePath string
}

// ResolveInput describes one resolution request.
type ResolveInput struct {
	AddonID         string
	ExtractDir      string
	ExpectedFolders []string
	// Permissive skips the manifest-marker requirement. Only set when
	// the catalog explicitly allows it.
	Permissive bool
}

// Resolver turns an extracted archive tree into install units.
type Resolver struct {
	logger config.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger config.Logger) *Resolver {
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Resolver{logger: logger}
}

// Resolve maps the extracted tree to install units under the policy
// selected by in.Permissive.
func (r *Resolver) Resolve(in ResolveInput) ([]PackageRef, error) {
	roots, err := candidateRoots(in.ExtractDir)
	if err != nil {
		return nil, err
	}

	if in.Permissive {
		return r.resolvePermissive(in, roots)
	}
	return r.resolveStrict(in, roots)
}

// candidateRoots returns the directories a package may sit under, in
// search order: the extraction root, its sole child directory (a
// wrapper), a Community child of the root, and a Community child of
// the wrapper.
func candidateRoots(extractDir string) ([]string, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return nil, fmt.Errorf("read extraction dir: %w", err)
	}

	roots := []string{extractDir}

	var childDirs []string
	for _, e := range entries {
		if e.IsDir() {
			childDirs = append(childDirs, filepath.Join(extractDir, e.Name()))
		}
	}

	// A sole child directory is a wrapper unless it is itself a
	// package; a package's interior is never scanned.
	var wrapper string
	if len(childDirs) == 1 && !hasMarker(childDirs[0]) {
		wrapper = childDirs[0]
		roots = append(roots, wrapper)
	}

	if container, ok := findChildDir(extractDir, ContainerDirName); ok {
		roots = append(roots, container)
	}
	if wrapper != "" {
		if container, ok := findChildDir(wrapper, ContainerDirName); ok {
			roots = append(roots, container)
		}
	}

	return dedupePaths(roots), nil
}

// resolveStrict requires each unit to carry the manifest marker.
func (r *Resolver) resolveStrict(in ResolveInput, roots []string) ([]PackageRef, error) {
	if len(in.ExpectedFolders) > 0 {
		return r.resolveStrictNamed(in, roots)
	}
	return r.resolveStrictAuto(in, roots)
}

// resolveStrictNamed locates each expected folder among the candidate
// roots. A direct match without the marker is probed up to
// markerSearchDepth levels deeper; the marker directory becomes the
// effective source while the unit keeps its expected name.
func (r *Resolver) resolveStrictNamed(in ResolveInput, roots []string) ([]PackageRef, error) {
	refs := make([]PackageRef, 0, len(in.ExpectedFolders))
	var missing []string

	for _, name := range in.ExpectedFolders {
		source := ""
		for _, root := range roots {
			child, ok := findChildDir(root, name)
			if !ok {
				continue
			}
			if hasMarker(child) {
				source = child
				break
			}
			found, _, err := findMarkerDirs(child, scanBudget{maxDepth: markerSearchDepth, maxVisits: defaultVisitBudget})
			if err != nil {
				return nil, err
			}
			if len(found) > 0 {
				source = found[0]
				r.logger.Debug("marker found below expected folder", "addon", in.AddonID, "folder", name, "source", source)
				break
			}
		}

		if source == "" {
			missing = append(missing, name)
			continue
		}
		refs = append(refs, PackageRef{FolderName: name, SourcePath: source})
	}

	if len(missing) > 0 {
		detected, err := r.detectAll(roots)
		if err != nil {
			return nil, err
		}
		return nil, &PackageNotFoundError{
			AddonID:    in.AddonID,
			Expected:   in.ExpectedFolders,
			Missing:    missing,
			RootsTried: roots,
			Detected:   detected,
		}
	}

	return refs, nil
}

// resolveStrictAuto scans the candidate roots for marker directories.
// Success requires a single unambiguous candidate set: two detected
// packages claiming the same folder name is a failure.
func (r *Resolver) resolveStrictAuto(in ResolveInput, roots []string) ([]PackageRef, error) {
	detected, err := r.detectAll(roots)
	if err != nil {
		return nil, err
	}

	if len(detected) == 0 {
		return nil, &PackageNotFoundError{
			AddonID:    in.AddonID,
			RootsTried: roots,
		}
	}

	byName := make(map[string]string)
	for _, dir := range detected {
		name := filepath.Base(dir)
		if other, dup := byName[name]; dup && other != dir {
			return nil, &PackageNotFoundError{
				AddonID:    in.AddonID,
				RootsTried: roots,
				Detected:   detected,
			}
		}
		byName[name] = dir
	}

	refs := make([]PackageRef, 0, len(byName))
	for _, dir := range detected {
		refs = append(refs, PackageRef{FolderName: filepath.Base(dir), SourcePath: dir})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].FolderName < refs[j].FolderName })
	return refs, nil
}

// detectAll gathers marker directories under every candidate root,
// deduplicated by path (roots nest, so scans overlap).
func (r *Resolver) detectAll(roots []string) ([]string, error) {
	seen := make(map[string]bool)
	var all []string
	for _, root := range roots {
		found, truncated, err := findMarkerDirs(root, scanBudget{maxDepth: autoDetectDepth, maxVisits: defaultVisitBudget})
		if err != nil {
			return nil, err
		}
		if truncated {
			r.logger.Warn("package scan truncated by visit budget", "root", root)
		}
		for _, dir := range found {
			if !seen[dir] {
				seen[dir] = true
				all = append(all, dir)
			}
		}
	}
	sort.Strings(all)
	return all, nil
}

// resolvePermissive locates folders without requiring markers.
func (r *Resolver) resolvePermissive(in ResolveInput, roots []string) ([]PackageRef, error) {
	if len(in.ExpectedFolders) > 0 {
		refs := make([]PackageRef, 0, len(in.ExpectedFolders))
		var missing []string
		for _, name := range in.ExpectedFolders {
			source := ""
			for _, root := range roots {
				if child, ok := findChildDir(root, name); ok {
					source = child
					break
				}
			}
			if source == "" {
				missing = append(missing, name)
				continue
			}
			refs = append(refs, PackageRef{FolderName: name, SourcePath: source})
		}
		if len(missing) > 0 {
			return nil, &PackageNotFoundError{
				AddonID:    in.AddonID,
				Expected:   in.ExpectedFolders,
				Missing:    missing,
				RootsTried: roots,
			}
		}
		return refs, nil
	}

	entries, err := os.ReadDir(in.ExtractDir)
	if err != nil {
		return nil, fmt.Errorf("read extraction dir: %w", err)
	}

	var dirs, files []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}

	// A single top-level directory with no loose files is the unit.
	if len(dirs) == 1 && len(files) == 0 {
		return []PackageRef{{
			FolderName: dirs[0].Name(),
			SourcePath: filepath.Join(in.ExtractDir, dirs[0].Name()),
		}}, nil
	}

	// A digest-verified but empty archive is an error, not a no-op.
	if len(entries) == 0 {
		return nil, &PackageNotFoundError{AddonID: in.AddonID, RootsTried: roots}
	}

	return r.bundleLooseEntries(in, entries)
}

// bundleLooseEntries synthesizes one unit named after the addon,
// containing a sanitized copy of every top-level entry.
func (r *Resolver) bundleLooseEntries(in ResolveInput, entries []os.DirEntry) ([]PackageRef, error) {
	unitDir := filepath.Join(in.ExtractDir+".bundle", in.AddonID)
	if err := os.MkdirAll(unitDir, 0755); err != nil {
		return nil, fmt.Errorf("create bundle dir: %w", err)
	}

	copied := 0
	for _, e := range entries {
		name := e.Name()
		if unsafeEntryName(name) {
			r.logger.Warn("skipping unsafe entry name", "addon", in.AddonID, "entry", name)
			continue
		}
		src := filepath.Join(in.ExtractDir, name)
		dst := filepath.Join(unitDir, name)
		if e.IsDir() {
			if err := copyDir(src, dst, nil); err != nil {
				return nil, fmt.Errorf("bundle %s: %w", name, err)
			}
		} else {
			info, err := e.Info()
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", name, err)
			}
			if err := copyFile(src, dst, info.Mode().Perm(), nil); err != nil {
				return nil, fmt.Errorf("bundle %s: %w", name, err)
			}
		}
		copied++
	}

	if copied == 0 {
		return nil, &PackageNotFoundError{AddonID: in.AddonID}
	}

	return []PackageRef{{FolderName: in.AddonID, SourcePath: unitDir}}, nil
}

// unsafeEntryName rejects names that carry path separators or parent
// references.
func unsafeEntryName(name string) bool {
	return name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) ||
		strings.Contains(name, "..")
}

// findChildDir returns the child directory of parent whose name
// matches case-insensitively, accommodating case-insensitive
// filesystems and sloppy archive authors.
func findChildDir(parent, name string) (string, bool) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() && strings.EqualFold(e.Name(), name) {
			return filepath.Join(parent, e.Name()), true
		}
	}
	return "", false
}

// hasMarker reports whether dir directly contains the manifest marker
// file.
func hasMarker(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestMarkerName))
	return err == nil && info.Mode().IsRegular()
}

// scanBudget bounds a marker scan: depth below the starting root and
// total directories visited. The bound is explicit so termination is
// auditable and testable in isolation.
type scanBudget struct {
	maxDepth  int
	maxVisits int
}

type scanFrame struct {
	path  string
	depth int
}

// findMarkerDirs walks below root (breadth-first, bounded by budget)
// and returns every directory containing the manifest marker. Marker
// directories are not descended into; packages do not nest. Returns
// truncated=true when the visit budget cut the scan short.
func findMarkerDirs(root string, budget scanBudget) (found []string, truncated bool, err error) {
	queue := []scanFrame{{path: root, depth: 0}}
	visits := 0

	for len(queue) > 0 {
		frame := queue[0]
		queue = queue[1:]

		visits++
		if visits > budget.maxVisits {
			return found, true, nil
		}

		entries, err := os.ReadDir(frame.path)
		if err != nil {
			// A vanished or unreadable subdirectory is skipped, not
			// fatal: external interference must not kill resolution.
			continue
		}

		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			child := filepath.Join(frame.path, e.Name())
			if hasMarker(child) {
				found = append(found, child)
				continue
			}
			if frame.depth+1 < budget.maxDepth {
				queue = append(queue, scanFrame{path: child, depth: frame.depth + 1})
			}
		}
	}

	sort.Strings(found)
	return found, false, nil
}

func dedupePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		clean := filepath.Clean(p)
		if !seen[clean] {
			seen[clean] = true
			out = append(out, clean)
		}
	}
	return out
}
