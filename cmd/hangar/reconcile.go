package main

import (
	"context"
	"fmt"

	"github.com/hangar-sim/hangar/internal/reconcile"
	"github.com/hangar-sim/hangar/internal/state"
	"github.com/hangar-sim/hangar/internal/transaction"
)

// runReconcile handles the `hangar reconcile` subcommand.
func runReconcile(args []string) error {
	// Parse flags
	showHelp := false
	verbose := false

	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			showHelp = true
		case "--verbose", "-v":
			verbose = true
		}
	}

	if showHelp {
		printReconcileHelp()
		return nil
	}

	ctx := context.Background()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	cache, err := newCatalogCache(cfg)
	if err != nil {
		return err
	}
	cat, err := cache.Catalog(ctx)
	if err != nil {
		return err
	}

	store, dir, err := openStore(cfg)
	if err != nil {
		return err
	}

	// Reconciliation and installs must not interleave.
	lock, err := transaction.AcquireLock(dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	before, err := store.All()
	if err != nil {
		return err
	}

	r := reconcile.NewReconciler(cfg.Paths.Community, store, &consoleLogger{verbose: verbose})
	if err := r.Reconcile(cat); err != nil {
		return err
	}

	after, err := store.All()
	if err != nil {
		return err
	}
	printReconcileSummary(before, after)
	return nil
}

// printReconcileSummary reports adopted, pruned, and updated records.
func printReconcileSummary(before, after map[string]*state.Record) {
	adopted, pruned, updated := 0, 0, 0

	for id, rec := range after {
		old, ok := before[id]
		switch {
		case !ok:
			adopted++
			fmt.Printf("adopted  %s (%s)\n", id, rec.InstalledVersion)
		case len(old.InstalledPaths) != len(rec.InstalledPaths) || old.InstalledVersion != rec.InstalledVersion:
			updated++
			fmt.Printf("updated  %s\n", id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			pruned++
			fmt.Printf("pruned   %s\n", id)
		}
	}

	if adopted+pruned+updated == 0 {
		fmt.Println("Records already match the Community folder.")
		return
	}
	fmt.Printf("Reconciled: %d adopted, %d updated, %d pruned (%d tracked)\n", adopted, updated, pruned, len(after))
}

// printReconcileHelp prints help for the reconcile command
func printReconcileHelp() {
	fmt.Println("Usage: hangar reconcile [options]")
	fmt.Println()
	fmt.Println("Resynchronize installed-addon records with the Community folder.")
	fmt.Println("Disk state wins: untracked addon folders are adopted, records")
	fmt.Println("without folders are pruned, and recorded paths are refreshed.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h, --help     Show this help message")
	fmt.Println("  -v, --verbose  Show debug output")
	fmt.Println()
	fmt.Println("If no Community path is configured, reconcile only prunes")
	fmt.Println("records whose folders no longer exist.")
}
