package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hangar-sim/hangar/internal/catalog"
	"github.com/hangar-sim/hangar/internal/engine"
	"github.com/hangar-sim/hangar/internal/state"
)

const (
	// installAttempts bounds download retries. Retries rerun the whole
	// pipeline for the addon; integrity failures are never retried.
	installAttempts = 3
	retryBaseDelay  = 1 * time.Second
)

// runInstall handles the `hangar install` subcommand.
func runInstall(args []string) error {
	// Parse flags
	showHelp := false
	verbose := false
	permissiveOK := false
	channelName := ""
	var addonIDs []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			showHelp = true
		case "--verbose", "-v":
			verbose = true
		case "--permissive-ok":
			permissiveOK = true
		case "--channel", "-c":
			if i+1 >= len(args) {
				return fmt.Errorf("--channel requires a value")
			}
			i++
			channelName = args[i]
		default:
			addonIDs = append(addonIDs, args[i])
		}
	}

	if showHelp {
		printInstallHelp()
		return nil
	}
	if len(addonIDs) == 0 {
		printInstallHelp()
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

	key := cfg.Channel()
	if channelName != "" {
		key, err = catalog.ParseChannelKey(channelName)
		if err != nil {
			return err
		}
	}

	cache, err := newCatalogCache(cfg)
	if err != nil {
		return err
	}

	store, dir, err := openStore(cfg)
	if err != nil {
		return err
	}

	logger := &consoleLogger{verbose: verbose}
	manager, err := engine.NewManager(engine.ManagerConfig{
		InstallPath: cfg.Paths.Community,
		DataDir:     dir,
		KeyringDir:  cfg.Install.KeyringDir,
		Store:       store,
		Sink:        newConsoleSink(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	for _, addonID := range addonIDs {
		ch, err := cache.Resolve(ctx, addonID, key)
		if err != nil {
			return err
		}
		if permissiveOK && !ch.AllowPermissiveInstall {
			logger.Warn("overriding catalog policy: channel does not allow permissive install", "addon", addonID, "channel", string(key))
			ch.AllowPermissiveInstall = true
		}

		fmt.Printf("Installing %s (%s, %s)...\n", addonID, key, ch.Version)
		rec, err := installWithRetry(ctx, manager, addonID, key, ch, logger)
		if err != nil {
			return fmt.Errorf("install %s: %w", addonID, err)
		}
		fmt.Printf("Installed %s %s (%d folder(s))\n", addonID, rec.InstalledVersion, len(rec.InstalledPaths))
	}

	return nil
}

// installWithRetry reruns the install on download failures with a
// doubling delay. Any other failure class surfaces immediately.
func installWithRetry(ctx context.Context, manager *engine.Manager, addonID string, key catalog.ChannelKey, ch *catalog.Channel, logger *consoleLogger) (rec *state.Record, err error) {
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		rec, err = manager.Install(ctx, addonID, key, ch)
		if err == nil {
			return rec, nil
		}

		var dlErr *engine.DownloadError
		if !errors.As(err, &dlErr) || attempt >= installAttempts {
			return nil, err
		}

		logger.Warn("download failed, retrying", "addon", addonID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// printInstallHelp prints help for the install command
func printInstallHelp() {
	fmt.Println("Usage: hangar install [options] <addon-id>...")
	fmt.Println()
	fmt.Println("Download, verify, and install addons from the configured catalog.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h, --help           Show this help message")
	fmt.Println("  -v, --verbose        Show debug output")
	fmt.Println("  -c, --channel <key>  Release channel: stable, beta, or dev")
	fmt.Println("  --permissive-ok      Accept packages without a manifest marker")
	fmt.Println()
	fmt.Println("An addon installed from one channel must be uninstalled before")
	fmt.Println("installing it from another.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  hangar install sample-airport")
	fmt.Println("  hangar install --channel beta sample-airport other-addon")
}
