package main

import (
	"context"
	"fmt"

	"github.com/hangar-sim/hangar/internal/engine"
)

// runUninstall handles the `hangar uninstall` subcommand.
func runUninstall(args []string) error {
	// Parse flags
	showHelp := false
	verbose := false
	var addonIDs []string

	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			showHelp = true
		case "--verbose", "-v":
			verbose = true
		default:
			addonIDs = append(addonIDs, arg)
		}
	}

	if showHelp {
		printUninstallHelp()
		return nil
	}
	if len(addonIDs) == 0 {
		printUninstallHelp()
		return fmt.Errorf("no addon ids given")
	}

	ctx := context.Background()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Paths.Community == "" {
		return fmt.Errorf("no Community path configured (set paths.community in hangar.lua)")
	}

	store, dir, err := openStore(cfg)
	if err != nil {
		return err
	}

	manager, err := engine.NewManager(engine.ManagerConfig{
		InstallPath: cfg.Paths.Community,
		DataDir:     dir,
		Store:       store,
		Sink:        newConsoleSink(),
		Logger:      &consoleLogger{verbose: verbose},
	})
	if err != nil {
		return err
	}

	for _, addonID := range addonIDs {
		if err := manager.Uninstall(ctx, addonID); err != nil {
			return fmt.Errorf("uninstall %s: %w", addonID, err)
		}
		fmt.Printf("Uninstalled %s\n", addonID)
	}

	return nil
}

// printUninstallHelp prints help for the uninstall command
func printUninstallHelp() {
	fmt.Println("Usage: hangar uninstall [options] <addon-id>...")
	fmt.Println()
	fmt.Println("Remove installed addons and their records.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h, --help     Show this help message")
	fmt.Println("  -v, --verbose  Show debug output")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  hangar uninstall sample-airport")
}
