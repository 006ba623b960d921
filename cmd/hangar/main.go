package main

import (
	"fmt"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

func main() {
	// Handle subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version":
			fmt.Printf("Hangar %s\n", Version)
			fmt.Println("Addon install and reconciliation engine")
			return
		case "install":
			// Handle hangar install subcommand
			if err := runInstall(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "uninstall":
			// Handle hangar uninstall subcommand
			if err := runUninstall(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "list":
			// Handle hangar list subcommand
			if err := runList(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "reconcile":
			// Handle hangar reconcile subcommand
			if err := runReconcile(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	// Default: show help
	fmt.Println("Hangar - addon install and reconciliation engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  hangar --version                Show version information")
	fmt.Println("  hangar install <addon-id>...    Install addons from the catalog")
	fmt.Println("  hangar uninstall <addon-id>...  Remove installed addons")
	fmt.Println("  hangar list [options]           List installed addons")
	fmt.Println("  hangar reconcile [options]      Resync records with the Community folder")
	fmt.Println()
	fmt.Println("Configuration is read from $HANGAR_CONFIG, falling back to")
	fmt.Println("~/.config/hangar/hangar.lua.")
}
