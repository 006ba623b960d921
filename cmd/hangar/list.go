package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hangar-sim/hangar/internal/state"
)

// runList handles the `hangar list` subcommand.
func runList(args []string) error {
	// Parse flags
	showHelp := false
	showPaths := false

	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			showHelp = true
		case "--paths":
			showPaths = true
		}
	}

	if showHelp {
		printListHelp()
		return nil
	}

	cfg, err := loadConfig(context.Background())
	if err != nil {
		return err
	}

	store, _, err := openStore(cfg)
	if err != nil {
		return err
	}

	records, err := store.All()
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No addons installed.")
		return nil
	}

	fmt.Printf("%-28s %-10s %-16s %s\n", "ADDON", "CHANNEL", "VERSION", "INSTALLED")
	for _, id := range state.SortedIDs(records) {
		rec := records[id]
		channel := string(rec.InstalledChannel)
		if channel == "" {
			channel = "unknown"
		}
		fmt.Printf("%-28s %-10s %-16s %s\n", rec.AddonID, channel, rec.InstalledVersion, rec.InstalledAt.Format("2006-01-02 15:04"))

		if showPaths {
			names := make([]string, 0, len(rec.InstalledPaths))
			for _, p := range rec.InstalledPaths {
				names = append(names, filepath.Base(p))
			}
			fmt.Printf("    folders: %s\n", strings.Join(names, ", "))
		}
	}

	return nil
}

// printListHelp prints help for the list command
func printListHelp() {
	fmt.Println("Usage: hangar list [options]")
	fmt.Println()
	fmt.Println("List installed addons from the persisted records.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h, --help  Show this help message")
	fmt.Println("  --paths     Also show each addon's installed folders")
	fmt.Println()
	fmt.Println("Records reflect the last install or reconciliation; run")
	fmt.Println("'hangar reconcile' first if the Community folder was edited")
	fmt.Println("manually.")
}
