// Package engine implements the addon install pipeline: download with
// progress, digest and signature verification, streaming ZIP
// extraction, package resolution, disk-space preflight, and the
// atomic multi-folder swap into the Community directory.
//
// # Pipeline
//
// An install request flows Fetcher → Verifier → Extractor → Resolver
// → SpaceGuard → Installer, each stage emitting progress events to
// the caller's Sink. Every stage fails fast; only the Installer has
// partially-committed side effects, so it alone compensates (rolls
// back) before propagating. All other stages leave nothing behind but
// disposable scratch state.
//
// # Atomicity
//
// The Installer stages each unit as a hidden sibling of its
// destination, swaps all units in order with per-folder backups, and
// removes the backups only after every swap succeeded. On any failure
// it restores every committed folder from backup, so the destination
// never holds a mix of old and new packages. An install journal
// written before the first mutation makes leftover artifacts from a
// crashed run identifiable and removable.
//
// # Usage
//
//	mgr, err := engine.NewManager(engine.ManagerConfig{
//	    InstallPath: cfg.Paths.Community,
//	    DataDir:     cfg.Paths.Data,
//	    Store:       store,
//	    Sink:        sink,
//	})
//	if err != nil {
//	    return err
//	}
//	rec, err := mgr.Install(ctx, "sample-airport", catalog.ChannelStable, channel)
//
// Operations on different addons may run concurrently, but the
// install-path lock serializes everything that touches one install
// path, including reconciliation.
package engine
